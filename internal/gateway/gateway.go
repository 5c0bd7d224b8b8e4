// Package gateway defines the provider-independent payment contract: what a
// payment processor must be able to do, the normalized status vocabulary all
// provider-native statuses are mapped into, and the error kinds callers
// switch on.
package gateway

import (
	"context"
	"net/http"
	"time"
)

// Provider names a concrete payment processor.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderPayPal
}

// IntentRequest describes a charge to create.
type IntentRequest struct {
	AmountCents   int64
	Currency      string
	CorrelationID string // also used as provider idempotency key
	Description   string
	Metadata      map[string]string // user/game/location, echoed back by webhooks
}

// Intent is a freshly created provider intent/order.
type Intent struct {
	ExternalRef    string
	ClientHandle   string // Stripe client_secret or PayPal approval URL
	ProviderStatus string
	Status         Status
}

// Failure is the structured reason attached to a failed payment.
type Failure struct {
	Reason      string    `json:"reason"`
	Code        string    `json:"code"`
	DeclineCode string    `json:"decline_code,omitempty"`
	At          time.Time `json:"at"`
}

// StatusReport is a provider's view of one intent/order at a point in time.
type StatusReport struct {
	ExternalRef    string
	ProviderStatus string // raw provider vocabulary
	Status         Status // mapped through the provider's status table
	PaymentMethod  string
	PayerRef       string
	ReceiptRef     string
	Failure        *Failure
	Metadata       map[string]string
}

// WebhookEvent is a verified, parsed provider push notification.
// Report is nil for event types that carry no payment status.
type WebhookEvent struct {
	ID     string
	Type   string
	Report *StatusReport
}

// Gateway is the abstract payment provider capability. Every call does
// network I/O bounded by the implementation's timeout; transport failures
// come back as ErrProviderUnavailable, never as a terminal status.
type Gateway interface {
	Provider() Provider
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ConfirmOrCapture(ctx context.Context, externalRef string) (*StatusReport, error)
	FetchStatus(ctx context.Context, externalRef string) (*StatusReport, error)
	// ParseWebhook verifies authenticity (unless disabled by configuration)
	// and extracts the status report carried by the event.
	ParseWebhook(ctx context.Context, header http.Header, body []byte) (*WebhookEvent, error)
}

// Canceler is implemented by gateways whose intents stay payable until they
// are canceled at the provider. Cancel reports the intent's state after the
// attempt; an intent that was paid in the meantime yields ErrAlreadyCaptured.
type Canceler interface {
	Cancel(ctx context.Context, externalRef string) (*StatusReport, error)
}
