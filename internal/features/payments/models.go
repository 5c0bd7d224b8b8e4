// Package payments is the payment-to-token reconciliation engine. It creates
// provider intents, folds provider status reports from every trigger into
// the payment record, and credits tokens exactly once.
// models.go describes the payment record and its state transitions.
package payments

import (
	"maps"
	"time"

	"serotonyl.ru/token-shop/internal/gateway"
	"serotonyl.ru/token-shop/internal/notify"
)

// Trigger names the path a status report arrived through.
type Trigger string

const (
	TriggerInitiate Trigger = "initiate"
	TriggerConfirm  Trigger = "confirm"
	TriggerWebhook  Trigger = "webhook"
	TriggerSweep    Trigger = "sweep"
	TriggerRelease  Trigger = "release"
)

// Record is one purchase attempt.
type Record struct {
	ID            string
	ExternalRef   string // provider intent/order id, globally unique
	Provider      gateway.Provider
	CorrelationID string
	ClientHandle  string

	// fixed at creation
	UserID         string
	GameID         int64
	Location       string
	PackageIndex   int
	TokenQuantity  int64
	UnitPriceCents int64
	Currency       string
	CreatedAt      time.Time

	ProviderStatus string
	Status         gateway.Status
	PaymentMethod  string
	PayerRef       string
	ReceiptRef     string
	Failure        *gateway.Failure
	Metadata       map[string]string

	TokensAdded        bool
	TokensScheduledFor *time.Time
	CreditedAt         *time.Time
	UpdatedAt          time.Time
}

// PurchaseKey identifies what a user is trying to buy. Two open records
// with the same key inside the duplicate window are the same purchase.
type PurchaseKey struct {
	UserID       string
	Provider     gateway.Provider
	GameID       int64
	PackageIndex int
	Location     string
}

// Key returns the purchase key of the record.
func (r *Record) Key() PurchaseKey {
	return PurchaseKey{
		UserID:       r.UserID,
		Provider:     r.Provider,
		GameID:       r.GameID,
		PackageIndex: r.PackageIndex,
		Location:     r.Location,
	}
}

// NeedsCredit reports whether the record is paid and its tokens have not
// been added yet.
func (r *Record) NeedsCredit() bool {
	return r.Status == gateway.StatusSucceeded && !r.TokensAdded
}

// Transition is the outcome of applying one status report.
type Transition struct {
	From    gateway.Status
	To      gateway.Status
	Moved   bool // internal status changed
	Changed bool // anything persisted changed
	Ignored bool // the report would have moved the status backwards
}

// Apply folds a provider report into the record. The internal status only
// moves forward along the state graph; a report that would regress it is
// ignored except for the descriptive fields it carries.
func (r *Record) Apply(rep *gateway.StatusReport, now time.Time) Transition {
	tr := Transition{From: r.Status, To: r.Status}

	tr.Changed = r.mergeDetails(rep)

	switch {
	case rep.Status == r.Status:
		if rep.ProviderStatus != "" && rep.ProviderStatus != r.ProviderStatus {
			r.ProviderStatus = rep.ProviderStatus
			tr.Changed = true
		}
	case r.Status.CanTransition(rep.Status):
		r.Status = rep.Status
		if rep.ProviderStatus != "" {
			r.ProviderStatus = rep.ProviderStatus
		}
		tr.To = rep.Status
		tr.Moved = true
		tr.Changed = true
	default:
		tr.Ignored = true
	}

	if tr.Moved {
		switch r.Status {
		case gateway.StatusFailed:
			r.Failure = completeFailure(rep.Failure, r.ProviderStatus, now)
		case gateway.StatusCanceled, gateway.StatusExpired:
			if rep.Failure != nil {
				r.Failure = completeFailure(rep.Failure, r.ProviderStatus, now)
			}
		case gateway.StatusSucceeded:
			r.Failure = nil
		}
	}
	// A declined attempt leaves the intent payable, so the record stays open
	// and only remembers the last decline.
	if r.Status.IsOpen() && rep.Failure != nil {
		if f := completeFailure(rep.Failure, r.ProviderStatus, now); !sameFailure(r.Failure, f) {
			r.Failure = f
			tr.Changed = true
		}
	}
	if tr.Changed {
		r.UpdatedAt = now
	}
	return tr
}

func (r *Record) mergeDetails(rep *gateway.StatusReport) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&r.PaymentMethod, rep.PaymentMethod)
	set(&r.PayerRef, rep.PayerRef)
	set(&r.ReceiptRef, rep.ReceiptRef)

	for k, v := range rep.Metadata {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string, len(rep.Metadata))
		}
		if r.Metadata[k] != v {
			r.Metadata[k] = v
			changed = true
		}
	}
	return changed
}

// completeFailure guarantees non-empty reason and code.
func completeFailure(f *gateway.Failure, providerStatus string, now time.Time) *gateway.Failure {
	if f == nil {
		return gateway.NewFailure("", "", "", providerStatus, now)
	}
	at := f.At
	if at.IsZero() {
		at = now
	}
	return gateway.NewFailure(f.Reason, f.Code, f.DeclineCode, providerStatus, at)
}

func sameFailure(a, b *gateway.Failure) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Reason == b.Reason && a.Code == b.Code && a.DeclineCode == b.DeclineCode
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Metadata = maps.Clone(r.Metadata)
	if r.Failure != nil {
		f := *r.Failure
		c.Failure = &f
	}
	if r.TokensScheduledFor != nil {
		t := *r.TokensScheduledFor
		c.TokensScheduledFor = &t
	}
	if r.CreditedAt != nil {
		t := *r.CreditedAt
		c.CreditedAt = &t
	}
	return &c
}

// Purchase converts the record for notification sinks.
func (r *Record) Purchase() notify.Purchase {
	return notify.Purchase{
		PaymentID:   r.ID,
		ExternalRef: r.ExternalRef,
		Provider:    string(r.Provider),
		UserID:      r.UserID,
		GameID:      r.GameID,
		Location:    r.Location,
		Tokens:      r.TokenQuantity,
		AmountCents: r.UnitPriceCents,
		Currency:    r.Currency,
	}
}

// View is the user-facing snapshot of a record.
type View struct {
	ID                 string           `json:"id"`
	ExternalRef        string           `json:"external_ref"`
	Provider           string           `json:"provider"`
	GameID             int64            `json:"game_id"`
	Location           string           `json:"location"`
	TokenQuantity      int64            `json:"token_quantity"`
	AmountCents        int64            `json:"amount_cents"`
	Currency           string           `json:"currency"`
	Status             string           `json:"status"`
	DisplayStatus      string           `json:"display_status"`
	PaymentMethod      string           `json:"payment_method,omitempty"`
	ReceiptRef         string           `json:"receipt_ref,omitempty"`
	Failure            *gateway.Failure `json:"failure,omitempty"`
	TokensAdded        bool             `json:"tokens_added"`
	TokensScheduledFor *time.Time       `json:"tokens_scheduled_for,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// View builds the display snapshot.
func (r *Record) View() *View {
	return &View{
		ID:                 r.ID,
		ExternalRef:        r.ExternalRef,
		Provider:           string(r.Provider),
		GameID:             r.GameID,
		Location:           r.Location,
		TokenQuantity:      r.TokenQuantity,
		AmountCents:        r.UnitPriceCents,
		Currency:           r.Currency,
		Status:             string(r.Status),
		DisplayStatus:      r.Status.Display(),
		PaymentMethod:      r.PaymentMethod,
		ReceiptRef:         r.ReceiptRef,
		Failure:            r.Failure,
		TokensAdded:        r.TokensAdded,
		TokensScheduledFor: r.TokensScheduledFor,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}
