// Package notify delivers purchase events to staff-facing sinks. Delivery is
// best-effort: a failed notification is logged and never affects the
// payment that produced it.
package notify

import (
	"context"
	"time"
)

// Kind names an event shape.
type Kind string

const (
	KindScheduled Kind = "tokens_scheduled"
	KindCredited  Kind = "tokens_credited"
)

// Purchase is the part of a payment record a sink needs.
type Purchase struct {
	PaymentID   string
	ExternalRef string
	Provider    string
	UserID      string
	GameID      int64
	Location    string
	Tokens      int64
	AmountCents int64
	Currency    string
}

// Event is one notification.
type Event struct {
	Kind      Kind
	Purchase  Purchase
	ReleaseAt *time.Time // set for KindScheduled
	At        time.Time
}

// TokensScheduled builds the event for a credit postponed until releaseAt.
func TokensScheduled(p Purchase, releaseAt, at time.Time) Event {
	return Event{Kind: KindScheduled, Purchase: p, ReleaseAt: &releaseAt, At: at}
}

// TokensCredited builds the event for tokens added to a balance.
func TokensCredited(p Purchase, at time.Time) Event {
	return Event{Kind: KindCredited, Purchase: p, At: at}
}

// Sink receives events.
type Sink interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}
