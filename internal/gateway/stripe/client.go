// Package stripe — client.go adapts Stripe PaymentIntents to the gateway
// contract: intent creation, confirmation, status lookup and signed webhooks.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"

	"serotonyl.ru/token-shop/internal/common"
	"serotonyl.ru/token-shop/internal/gateway"
)

const (
	signatureHeader    = "Stripe-Signature"
	paymentFailedEvent = "payment_intent.payment_failed"
)

// Config holds Stripe credentials and transport settings.
type Config struct {
	SecretKey         string
	WebhookSecret     string
	APIURL            string        // overrides api.stripe.com, used by tests
	Timeout           time.Duration // per-call deadline
	MaxNetworkRetries int64
	SkipVerify        bool // accept unsigned webhooks (local development only)
	HTTPClient        *http.Client
}

// Client implements gateway.Gateway on top of stripe-go.
type Client struct {
	intents       paymentintent.Client
	webhookSecret string
	skipVerify    bool
	timeout       time.Duration
	now           func() time.Time
}

var (
	_ gateway.Gateway  = (*Client)(nil)
	_ gateway.Canceler = (*Client)(nil)
)

// NewClient builds a Stripe gateway with its own backend, so the key and
// transport never leak through stripe-go's package globals.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     log.StandardLogger(),
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &Client{
		intents:       paymentintent.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		skipVerify:    cfg.SkipVerify,
		timeout:       cfg.Timeout,
		now:           time.Now,
	}
}

func (c *Client) Provider() gateway.Provider {
	return gateway.ProviderStripe
}

// CreateIntent creates a PaymentIntent. The correlation id doubles as the
// idempotency key, so a retried call never creates a second intent.
func (c *Client) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	if req.AmountCents <= 0 || req.Currency == "" {
		return nil, gateway.NewError(gateway.ErrInvalidRequest, "create_intent",
			fmt.Errorf("amount %d %q", req.AmountCents, req.Currency))
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.CorrelationID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("correlation_id", req.CorrelationID)

	pi, err := c.intents.New(params)
	if err != nil {
		return nil, translateError("create_intent", err)
	}

	log.WithFields(log.Fields{
		"intent_id": pi.ID,
		"status":    pi.Status,
		"amount":    req.AmountCents,
	}).Debug("stripe: payment intent created")

	return &gateway.Intent{
		ExternalRef:    pi.ID,
		ClientHandle:   pi.ClientSecret,
		ProviderStatus: string(pi.Status),
		Status:         MapStatus(string(pi.Status)),
	}, nil
}

// ConfirmOrCapture drives the intent forward when the server can do so:
// requires_confirmation is confirmed, requires_capture is captured. Any other
// state is reported as-is.
func (c *Client) ConfirmOrCapture(ctx context.Context, externalRef string) (*gateway.StatusReport, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pi, err := c.get(ctx, externalRef)
	if err != nil {
		return nil, translateError("confirm", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresConfirmation:
		params := &stripe.PaymentIntentConfirmParams{}
		params.Context = ctx
		pi, err = c.intents.Confirm(externalRef, params)
		if err != nil {
			return nil, translateError("confirm", err)
		}
	case stripe.PaymentIntentStatusRequiresCapture:
		params := &stripe.PaymentIntentCaptureParams{}
		params.Context = ctx
		pi, err = c.intents.Capture(externalRef, params)
		if err != nil {
			return nil, translateError("capture", err)
		}
	}

	return c.reportFromIntent(pi), nil
}

// FetchStatus reads the current intent state.
func (c *Client) FetchStatus(ctx context.Context, externalRef string) (*gateway.StatusReport, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pi, err := c.get(ctx, externalRef)
	if err != nil {
		return nil, translateError("fetch_status", err)
	}
	return c.reportFromIntent(pi), nil
}

// Cancel cancels an intent nobody is going to pay. An intent that is already
// processing or paid cannot be canceled and comes back as ErrAlreadyCaptured.
func (c *Client) Cancel(ctx context.Context, externalRef string) (*gateway.StatusReport, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	pi, err := c.intents.Cancel(externalRef, params)
	if err != nil {
		return nil, translateError("cancel", err)
	}
	return c.reportFromIntent(pi), nil
}

// ParseWebhook verifies the Stripe-Signature header and turns the event into
// a status report. Events that do not concern a payment intent carry a nil
// Report.
func (c *Client) ParseWebhook(_ context.Context, header http.Header, body []byte) (*gateway.WebhookEvent, error) {
	var event stripe.Event
	if c.skipVerify {
		if err := json.Unmarshal(body, &event); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
		}
	} else {
		var err error
		event, err = webhook.ConstructEventWithOptions(body, header.Get(signatureHeader), c.webhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			if isSignatureError(err) {
				return nil, fmt.Errorf("%w: %v", common.ErrWebhookSignature, err)
			}
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
		}
	}

	out := &gateway.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	report, err := c.reportFromEvent(string(event.Type), event.Data.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrInvalidPayload, event.Type, err)
	}
	out.Report = report
	return out, nil
}

func (c *Client) reportFromEvent(eventType string, raw json.RawMessage) (*gateway.StatusReport, error) {
	switch {
	case eventType == "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, err
		}
		// Partial refunds keep the purchase; only a full refund is reported.
		if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" || !ch.Refunded {
			return nil, nil
		}
		return &gateway.StatusReport{
			ExternalRef:    ch.PaymentIntent.ID,
			ProviderStatus: "refunded",
			Status:         gateway.StatusRefunded,
			ReceiptRef:     receiptRef(&ch),
		}, nil

	case strings.HasPrefix(eventType, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, err
		}
		if pi.ID == "" {
			return nil, errors.New("payment intent without id")
		}
		// payment_intent.payment_failed is a declined attempt, not a closed
		// intent: the status comes from the intent, the decline is attached.
		report := c.reportFromIntent(&pi)
		if eventType == paymentFailedEvent && report.Failure == nil {
			report.Failure = gateway.NewFailure("", "", "", eventType, c.now())
		}
		return report, nil
	}
	return nil, nil
}

func (c *Client) reportFromIntent(pi *stripe.PaymentIntent) *gateway.StatusReport {
	report := &gateway.StatusReport{
		ExternalRef:    pi.ID,
		ProviderStatus: string(pi.Status),
		Status:         MapStatus(string(pi.Status)),
		Metadata:       pi.Metadata,
	}
	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		report.PaymentMethod = string(pi.PaymentMethod.Type)
	} else if len(pi.PaymentMethodTypes) == 1 {
		report.PaymentMethod = pi.PaymentMethodTypes[0]
	}
	if pi.Customer != nil {
		report.PayerRef = pi.Customer.ID
	}
	if pi.LatestCharge != nil {
		report.ReceiptRef = receiptRef(pi.LatestCharge)
	}
	if e := pi.LastPaymentError; e != nil {
		report.Failure = gateway.NewFailure(e.Msg, string(e.Code), string(e.DeclineCode), string(pi.Status), c.now())
		if e.PaymentMethod != nil && e.PaymentMethod.Type != "" && report.PaymentMethod == "" {
			report.PaymentMethod = string(e.PaymentMethod.Type)
		}
	}
	return report
}

func (c *Client) get(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	return c.intents.Get(id, params)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func receiptRef(ch *stripe.Charge) string {
	if ch.ReceiptURL != "" {
		return ch.ReceiptURL
	}
	return ch.ID
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// translateError maps stripe-go errors onto gateway error kinds. Anything
// that is not a decoded API error is a transport failure.
func translateError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return gateway.Unavailable(op, err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
		return gateway.NewError(gateway.ErrNotFound, op, err)
	case se.HTTPStatusCode >= http.StatusInternalServerError,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.Type == stripe.ErrorTypeAPI:
		return gateway.Unavailable(op, err)
	case se.Type == stripe.ErrorTypeCard:
		gwErr := gateway.NewError(gateway.ErrDenied, op, err)
		gwErr.Failure = gateway.NewFailure(se.Msg, string(se.Code), string(se.DeclineCode), "card_error", time.Now())
		return gwErr
	case se.Code == stripe.ErrorCodePaymentIntentUnexpectedState:
		return gateway.NewError(gateway.ErrAlreadyCaptured, op, err)
	default:
		return gateway.NewError(gateway.ErrInvalidRequest, op, err)
	}
}
