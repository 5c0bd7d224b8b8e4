// Package tokens — repository.go works with the token_balances and
// token_transactions tables. Every balance change and its ledger row are
// written in the same database transaction.
package tokens

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/token-shop/internal/db/postgres"
)

// Repository provides balance and ledger operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates the token repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ApplyCreditTx credits a paid payment record inside the caller's
// transaction. The ledger row is written first: its unique
// payment_record_id makes a second credit of the same record a no-op, in
// which case false is returned and the balance is left alone.
func (r *Repository) ApplyCreditTx(ctx context.Context, tx pgx.Tx, c Credit) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO token_transactions (user_id, game_id, location, delta, tx_type, payment_record_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (payment_record_id) DO NOTHING
	`, c.UserID, c.GameID, c.Location, c.Tokens, TxTypePurchase, c.PaymentRecordID, c.Reason)
	if err != nil {
		return false, fmt.Errorf("write ledger row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO token_balances (user_id, game_id, location, tokens)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, game_id, location)
		DO UPDATE SET tokens = token_balances.tokens + EXCLUDED.tokens, updated_at = NOW()
	`, c.UserID, c.GameID, c.Location, c.Tokens)
	if err != nil {
		return false, fmt.Errorf("increment balance: %w", err)
	}
	return true, nil
}

// ListBalances returns all balances of a user.
func (r *Repository) ListBalances(ctx context.Context, userID string) ([]*Balance, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, game_id, location, tokens, created_at, updated_at
		FROM token_balances
		WHERE user_id = $1
		ORDER BY game_id, location
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []*Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ID, &b.UserID, &b.GameID, &b.Location, &b.Tokens, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, &b)
	}
	return balances, rows.Err()
}

// ListPending sums the user's paid purchases that wait for a scheduled
// release, grouped by (game, location).
func (r *Repository) ListPending(ctx context.Context, userID string) ([]*Pending, error) {
	rows, err := r.db.Query(ctx, `
		SELECT game_id, location, SUM(token_quantity)::BIGINT, MIN(tokens_scheduled_for)
		FROM payment_records
		WHERE user_id = $1 AND status = 'succeeded'
		  AND tokens_added = FALSE AND tokens_scheduled_for IS NOT NULL
		GROUP BY game_id, location
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending tokens: %w", err)
	}
	defer rows.Close()

	var pending []*Pending
	for rows.Next() {
		var p Pending
		if err := rows.Scan(&p.GameID, &p.Location, &p.Tokens, &p.ScheduledFor); err != nil {
			return nil, fmt.Errorf("scan pending tokens: %w", err)
		}
		pending = append(pending, &p)
	}
	return pending, rows.Err()
}

// Adjust applies an administrative delta, clamping the result at zero, and
// records the applied delta in the ledger.
func (r *Repository) Adjust(ctx context.Context, adj Adjustment) (*AdjustResult, error) {
	var res AdjustResult
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO token_balances (user_id, game_id, location, tokens)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (user_id, game_id, location) DO NOTHING
		`, adj.UserID, adj.GameID, adj.Location)
		if err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}

		// Lock the row so concurrent adjustments and credits serialize
		var current int64
		err = tx.QueryRow(ctx, `
			SELECT tokens FROM token_balances
			WHERE user_id = $1 AND game_id = $2 AND location = $3
			FOR UPDATE
		`, adj.UserID, adj.GameID, adj.Location).Scan(&current)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}

		next := clamp(current + adj.Delta)
		res.Applied = next - current

		var b Balance
		err = tx.QueryRow(ctx, `
			UPDATE token_balances SET tokens = $4, updated_at = NOW()
			WHERE user_id = $1 AND game_id = $2 AND location = $3
			RETURNING id, user_id, game_id, location, tokens, created_at, updated_at
		`, adj.UserID, adj.GameID, adj.Location, next).Scan(
			&b.ID, &b.UserID, &b.GameID, &b.Location, &b.Tokens, &b.CreatedAt, &b.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		res.Balance = &b

		_, err = tx.Exec(ctx, `
			INSERT INTO token_transactions (user_id, game_id, location, delta, tx_type, reason)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, adj.UserID, adj.GameID, adj.Location, res.Applied, TxTypeAdminAdjust, adj.Reason)
		if err != nil {
			return fmt.Errorf("write ledger row: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
