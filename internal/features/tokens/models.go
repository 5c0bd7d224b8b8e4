// Package tokens manages per-(user, game, location) token balances.
// models.go describes balances, ledger rows and balance snapshots.
package tokens

import "time"

// Balance is the running token count of one (user, game, location) triple.
// The row is created lazily on the first credit.
type Balance struct {
	ID        int64     `db:"id" json:"-"`
	UserID    string    `db:"user_id" json:"user_id"`
	GameID    int64     `db:"game_id" json:"game_id"`
	Location  string    `db:"location" json:"location"`
	Tokens    int64     `db:"tokens" json:"tokens"` // never negative
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is one ledger row. Every balance movement writes one.
type Transaction struct {
	ID              int64     `db:"id"`
	UserID          string    `db:"user_id"`
	GameID          int64     `db:"game_id"`
	Location        string    `db:"location"`
	Delta           int64     `db:"delta"`             // applied change, may be negative for adjustments
	Type            string    `db:"tx_type"`           // purchase | admin_adjust
	PaymentRecordID *string   `db:"payment_record_id"` // unique; nil for adjustments
	Reason          string    `db:"reason"`
	CreatedAt       time.Time `db:"created_at"`
}

// Ledger row types
const (
	TxTypePurchase    = "purchase"     // credit of a paid payment record
	TxTypeAdminAdjust = "admin_adjust" // manual correction
)

// Credit is the balance mutation of one paid payment record.
type Credit struct {
	PaymentRecordID string
	UserID          string
	GameID          int64
	Location        string
	Tokens          int64
	Reason          string
}

// Pending sums the scheduled, not yet credited purchases of one
// (game, location) pair.
type Pending struct {
	GameID       int64
	Location     string
	Tokens       int64
	ScheduledFor time.Time // earliest release among the records
}

// Snapshot is what a user sees for one (game, location) pair.
type Snapshot struct {
	GameID             int64      `json:"game_id"`
	Location           string     `json:"location"`
	Tokens             int64      `json:"tokens"`
	PendingTokens      int64      `json:"pending_tokens"`
	TokensScheduledFor *time.Time `json:"tokens_scheduled_for,omitempty"`
}

// Adjustment is an administrative balance correction.
type Adjustment struct {
	UserID   string `json:"user_id" binding:"required"`
	GameID   int64  `json:"game_id" binding:"required"`
	Location string `json:"location" binding:"required"`
	Delta    int64  `json:"delta"`
	Reason   string `json:"reason"`
}

// AdjustResult reports the balance after an adjustment and the delta that
// was actually applied after clamping at zero.
type AdjustResult struct {
	Balance *Balance `json:"balance"`
	Applied int64    `json:"applied"`
}
