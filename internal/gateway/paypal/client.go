// Package paypal — client.go talks to the PayPal Orders v2 REST API:
// order creation, capture and lookup behind an OAuth token and a retrying
// HTTP executor.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/token-shop/internal/gateway"
)

const (
	SandboxURL = "https://api-m.sandbox.paypal.com"
	LiveURL    = "https://api-m.paypal.com"

	maxResponseBytes = 1 << 20
)

// Config holds PayPal credentials and transport settings.
type Config struct {
	ClientID   string
	Secret     string
	WebhookID  string
	BaseURL    string
	Timeout    time.Duration // deadline for one operation, retries included
	MaxRetries int
	BaseDelay  time.Duration
	SkipVerify bool
	HTTPClient *http.Client
}

// Client implements gateway.Gateway for PayPal orders.
type Client struct {
	baseURL    string
	clientID   string
	secret     string
	webhookID  string
	skipVerify bool
	timeout    time.Duration

	http     *http.Client
	executor failsafe.Executor[*http.Response]
	tokens   *tokenSource
	now      func() time.Time
}

var _ gateway.Gateway = (*Client)(nil)

// NewClient builds a PayPal gateway. Each client owns its OAuth token cache.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientID:   cfg.ClientID,
		secret:     cfg.Secret,
		webhookID:  cfg.WebhookID,
		skipVerify: cfg.SkipVerify,
		timeout:    cfg.Timeout,
		http:       httpClient,
		executor:   failsafe.With(newRetryPolicy(cfg.MaxRetries, cfg.BaseDelay)),
		now:        time.Now,
	}
	c.tokens = &tokenSource{client: c}
	return c
}

//nolint:bodyclose // *http.Response is a type parameter here, not a live response
func newRetryPolicy(maxRetries int, baseDelay time.Duration) retrypolicy.RetryPolicy[*http.Response] {
	return retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(baseDelay, 10*baseDelay).
		WithMaxRetries(maxRetries).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		Build()
}

// shouldRetry retries network errors, 5xx and 429.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
}

func (c *Client) Provider() gateway.Provider {
	return gateway.ProviderPayPal
}

// CreateIntent creates a CAPTURE order. The correlation id is sent as
// PayPal-Request-Id so a retried create returns the same order.
func (c *Client) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	if req.AmountCents <= 0 || req.Currency == "" {
		return nil, gateway.NewError(gateway.ErrInvalidRequest, "create_intent",
			fmt.Errorf("amount %d %q", req.AmountCents, req.Currency))
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.Metadata["record_id"],
			CustomID:    req.CorrelationID,
			Description: truncate(req.Description, 127),
			Amount: &amount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        formatAmount(req.AmountCents),
			},
		}},
	}

	var o order
	if err := c.do(ctx, "create_intent", http.MethodPost, "/v2/checkout/orders", body, req.CorrelationID, &o); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"order_id": o.ID,
		"status":   o.Status,
		"amount":   req.AmountCents,
	}).Debug("paypal: order created")

	handle := o.ID
	if href := o.link("approve", "payer-action"); href != "" {
		handle = href
	}
	return &gateway.Intent{
		ExternalRef:    o.ID,
		ClientHandle:   handle,
		ProviderStatus: o.Status,
		Status:         MapOrderStatus(o.Status, ""),
	}, nil
}

// ConfirmOrCapture captures an approved order. A second capture of the same
// order fails with gateway.ErrAlreadyCaptured.
func (c *Client) ConfirmOrCapture(ctx context.Context, externalRef string) (*gateway.StatusReport, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var o order
	path := "/v2/checkout/orders/" + externalRef + "/capture"
	if err := c.do(ctx, "capture", http.MethodPost, path, struct{}{}, "capture-"+externalRef, &o); err != nil {
		return nil, err
	}
	return c.reportFromOrder(&o), nil
}

// FetchStatus reads the current order state.
func (c *Client) FetchStatus(ctx context.Context, externalRef string) (*gateway.StatusReport, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var o order
	if err := c.do(ctx, "fetch_status", http.MethodGet, "/v2/checkout/orders/"+externalRef, nil, "", &o); err != nil {
		return nil, err
	}
	return c.reportFromOrder(&o), nil
}

func (c *Client) fetchCapture(ctx context.Context, captureID string) (*capture, error) {
	var cp capture
	if err := c.do(ctx, "fetch_capture", http.MethodGet, "/v2/payments/captures/"+captureID, nil, "", &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (c *Client) reportFromOrder(o *order) *gateway.StatusReport {
	cp := o.latestCapture()
	captureStatus := ""
	if cp != nil {
		captureStatus = cp.Status
	}

	report := &gateway.StatusReport{
		ExternalRef:    o.ID,
		ProviderStatus: o.Status,
		Status:         MapOrderStatus(o.Status, captureStatus),
		PaymentMethod:  o.paymentMethod(),
	}
	if captureStatus != "" {
		report.ProviderStatus = o.Status + "/" + captureStatus
	}
	if o.Payer != nil {
		report.PayerRef = o.Payer.PayerID
	}
	if len(o.PurchaseUnits) > 0 && o.PurchaseUnits[0].CustomID != "" {
		report.Metadata = map[string]string{"correlation_id": o.PurchaseUnits[0].CustomID}
	}
	if cp != nil {
		report.ReceiptRef = cp.ID
		if report.Status == gateway.StatusFailed {
			report.Failure = gateway.NewFailure(cp.reason(), cp.Status, "", captureStatus, c.now())
		}
	}
	return report
}

// do performs one authenticated JSON call. Failures come back as
// *gateway.Error with the matching kind.
func (c *Client) do(ctx context.Context, op, method, path string, body any, requestID string, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return gateway.Unavailable(op, err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return gateway.NewError(gateway.ErrInvalidRequest, op, err)
		}
	}

	resp, err := c.send(ctx, func() (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Prefer", "return=representation")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if requestID != "" {
			req.Header.Set("PayPal-Request-Id", requestID)
		}
		return req, nil
	})
	if err != nil {
		return gateway.Unavailable(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gateway.Unavailable(op, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return c.translateError(op, resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return gateway.Unavailable(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// send runs the request through the retry executor. Bodies of responses
// that triggered a retry are closed before the next attempt.
func (c *Client) send(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var previous *http.Response
	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		if previous != nil {
			previous.Body.Close()
			previous = nil
		}
		req, err := build()
		if err != nil {
			return nil, err
		}
		r, err := c.http.Do(req)
		previous = r
		return r, err
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *apiError) issue() (string, string) {
	for _, d := range e.Details {
		if d.Issue != "" {
			return d.Issue, d.Description
		}
	}
	return e.Name, e.Message
}

func (c *Client) translateError(op string, status int, body []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	issue, description := apiErr.issue()
	cause := fmt.Errorf("http %d: %s: %s (debug_id %s)", status, issue, description, apiErr.DebugID)

	switch {
	case status == http.StatusUnauthorized:
		c.tokens.Invalidate()
		return gateway.Unavailable(op, cause)
	case status >= http.StatusInternalServerError, status == http.StatusTooManyRequests:
		return gateway.Unavailable(op, cause)
	case status == http.StatusNotFound, issue == "RESOURCE_NOT_FOUND", issue == "INVALID_RESOURCE_ID":
		return gateway.NewError(gateway.ErrNotFound, op, cause)
	}

	switch issue {
	case "ORDER_ALREADY_CAPTURED", "DUPLICATE_INVOICE_ID":
		return gateway.NewError(gateway.ErrAlreadyCaptured, op, cause)
	case "ORDER_EXPIRED", "ORDER_CANNOT_BE_SAVED":
		return gateway.NewError(gateway.ErrExpired, op, cause)
	case "INSTRUMENT_DECLINED", "TRANSACTION_REFUSED", "PAYER_CANNOT_PAY", "PAYEE_BLOCKED_TRANSACTION":
		gwErr := gateway.NewError(gateway.ErrDenied, op, cause)
		gwErr.Failure = gateway.NewFailure(description, issue, "", strings.ToLower(issue), c.now())
		return gwErr
	}
	return gateway.NewError(gateway.ErrInvalidRequest, op, cause)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type order struct {
	ID            string                     `json:"id"`
	Status        string                     `json:"status"`
	PaymentSource map[string]json.RawMessage `json:"payment_source,omitempty"`
	PurchaseUnits []purchaseUnit             `json:"purchase_units"`
	Payer         *payer                     `json:"payer,omitempty"`
	Links         []link                     `json:"links,omitempty"`
}

type purchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Amount      *amount   `json:"amount,omitempty"`
	Payments    *payments `json:"payments,omitempty"`
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payments struct {
	Captures []capture `json:"captures"`
}

type capture struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CustomID      string `json:"custom_id,omitempty"`
	StatusDetails *struct {
		Reason string `json:"reason"`
	} `json:"status_details,omitempty"`
	SupplementaryData *struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data,omitempty"`
	Links []link `json:"links,omitempty"`
}

type payer struct {
	PayerID string `json:"payer_id"`
	Email   string `json:"email_address,omitempty"`
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

func (o *order) link(rels ...string) string {
	for _, rel := range rels {
		for _, l := range o.Links {
			if l.Rel == rel {
				return l.Href
			}
		}
	}
	return ""
}

func (o *order) latestCapture() *capture {
	for i := len(o.PurchaseUnits) - 1; i >= 0; i-- {
		pu := o.PurchaseUnits[i]
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			return &pu.Payments.Captures[len(pu.Payments.Captures)-1]
		}
	}
	return nil
}

func (o *order) paymentMethod() string {
	if len(o.PaymentSource) == 0 {
		return ""
	}
	keys := make([]string, 0, len(o.PaymentSource))
	for k := range o.PaymentSource {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}

func (cp *capture) orderID() string {
	if cp.SupplementaryData == nil {
		return ""
	}
	return cp.SupplementaryData.RelatedIDs.OrderID
}

func (cp *capture) reason() string {
	if cp.StatusDetails == nil {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(cp.StatusDetails.Reason, "_", " "))
}

// formatAmount renders cents as a two-decimal PayPal amount value.
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
