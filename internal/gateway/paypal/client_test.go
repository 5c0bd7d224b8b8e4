package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/token-shop/internal/common"
	"serotonyl.ru/token-shop/internal/gateway"
)

type fakePayPal struct {
	mux         *http.ServeMux
	tokenCalls  atomic.Int32
	lastRequest atomic.Value // string PayPal-Request-Id
}

func newFakePayPal() *fakePayPal {
	f := &fakePayPal{mux: http.NewServeMux()}
	f.mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, `{"access_token":"A21","token_type":"Bearer","expires_in":32400}`)
	})
	return f
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func (f *fakePayPal) client(t *testing.T, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	cfg := Config{
		ClientID:   "client",
		Secret:     "secret",
		WebhookID:  "WH-1",
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		BaseDelay:  5 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg)
}

func TestMapOrderStatus(t *testing.T) {
	tests := []struct {
		order, capture string
		want           gateway.Status
	}{
		{"CREATED", "", gateway.StatusCreated},
		{"SAVED", "", gateway.StatusCreated},
		{"APPROVED", "", gateway.StatusProcessing},
		{"PAYER_ACTION_REQUIRED", "", gateway.StatusProcessing},
		{"VOIDED", "", gateway.StatusCanceled},
		{"COMPLETED", "COMPLETED", gateway.StatusSucceeded},
		{"COMPLETED", "PENDING", gateway.StatusProcessing},
		{"COMPLETED", "DECLINED", gateway.StatusFailed},
		{"COMPLETED", "REFUNDED", gateway.StatusRefunded},
		{"COMPLETED", "PARTIALLY_REFUNDED", gateway.StatusSucceeded},
		{"COMPLETED", "", gateway.StatusProcessing},
		{"BRAND_NEW", "", gateway.StatusProcessing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapOrderStatus(tt.order, tt.capture), "%s/%s", tt.order, tt.capture)
	}
}

func TestCreateIntent(t *testing.T) {
	f := newFakePayPal()
	var got createOrderRequest
	f.mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
		f.lastRequest.Store(r.Header.Get("PayPal-Request-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, `{"id":"5O190127TN364715T","status":"CREATED",
			"links":[{"href":"https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T","rel":"approve","method":"GET"}]}`)
	})
	c := f.client(t)

	intent, err := c.CreateIntent(context.Background(), gateway.IntentRequest{
		AmountCents:   1999,
		Currency:      "usd",
		CorrelationID: "corr-7",
		Description:   "500 tokens",
	})
	require.NoError(t, err)
	assert.Equal(t, "5O190127TN364715T", intent.ExternalRef)
	assert.Contains(t, intent.ClientHandle, "checkoutnow")
	assert.Equal(t, gateway.StatusCreated, intent.Status)

	assert.Equal(t, "CAPTURE", got.Intent)
	require.Len(t, got.PurchaseUnits, 1)
	assert.Equal(t, "19.99", got.PurchaseUnits[0].Amount.Value)
	assert.Equal(t, "USD", got.PurchaseUnits[0].Amount.CurrencyCode)
	assert.Equal(t, "corr-7", got.PurchaseUnits[0].CustomID)
	assert.Equal(t, "corr-7", f.lastRequest.Load())
}

func TestTokenIsCached(t *testing.T) {
	f := newFakePayPal()
	f.mux.HandleFunc("/v2/checkout/orders/O-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"O-1","status":"APPROVED"}`)
	})
	c := f.client(t)

	for i := 0; i < 3; i++ {
		report, err := c.FetchStatus(context.Background(), "O-1")
		require.NoError(t, err)
		assert.Equal(t, gateway.StatusProcessing, report.Status)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestCaptureCompleted(t *testing.T) {
	f := newFakePayPal()
	f.mux.HandleFunc("/v2/checkout/orders/O-2/capture", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "capture-O-2", r.Header.Get("PayPal-Request-Id"))
		writeJSON(w, http.StatusCreated, `{"id":"O-2","status":"COMPLETED",
			"payment_source":{"paypal":{}},
			"payer":{"payer_id":"PAYER1"},
			"purchase_units":[{"custom_id":"corr-2","payments":{"captures":[{"id":"CAP-2","status":"COMPLETED"}]}}]}`)
	})
	c := f.client(t)

	report, err := c.ConfirmOrCapture(context.Background(), "O-2")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSucceeded, report.Status)
	assert.Equal(t, "COMPLETED/COMPLETED", report.ProviderStatus)
	assert.Equal(t, "paypal", report.PaymentMethod)
	assert.Equal(t, "PAYER1", report.PayerRef)
	assert.Equal(t, "CAP-2", report.ReceiptRef)
	assert.Equal(t, "corr-2", report.Metadata["correlation_id"])
}

func TestCaptureErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{"already captured", http.StatusUnprocessableEntity,
			`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED","description":"Order already captured."}]}`,
			gateway.ErrAlreadyCaptured},
		{"declined", http.StatusUnprocessableEntity,
			`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED","description":"The instrument presented was declined."}]}`,
			gateway.ErrDenied},
		{"not approved", http.StatusUnprocessableEntity,
			`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_NOT_APPROVED"}]}`,
			gateway.ErrInvalidRequest},
		{"missing", http.StatusNotFound, `{"name":"RESOURCE_NOT_FOUND"}`, gateway.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakePayPal()
			f.mux.HandleFunc("/v2/checkout/orders/O-3/capture", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			c := f.client(t)

			_, err := c.ConfirmOrCapture(context.Background(), "O-3")
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestDeniedCarriesFailure(t *testing.T) {
	f := newFakePayPal()
	f.mux.HandleFunc("/v2/checkout/orders/O-4/capture", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity,
			`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED","description":"The instrument presented was declined."}]}`)
	})
	c := f.client(t)

	_, err := c.ConfirmOrCapture(context.Background(), "O-4")
	failure := gateway.FailureOf(err)
	require.NotNil(t, failure)
	assert.Equal(t, "INSTRUMENT_DECLINED", failure.Code)
	assert.Equal(t, "The instrument presented was declined.", failure.Reason)
}

func TestRetriesServerErrors(t *testing.T) {
	f := newFakePayPal()
	var calls atomic.Int32
	f.mux.HandleFunc("/v2/checkout/orders/O-5", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, `{"name":"SERVICE_UNAVAILABLE"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"O-5","status":"CREATED"}`)
	})
	c := f.client(t)

	report, err := c.FetchStatus(context.Background(), "O-5")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCreated, report.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExhaustedRetriesAreUnavailable(t *testing.T) {
	f := newFakePayPal()
	f.mux.HandleFunc("/v2/checkout/orders/O-6", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, `{}`)
	})
	c := f.client(t, func(cfg *Config) { cfg.MaxRetries = 1 })

	_, err := c.FetchStatus(context.Background(), "O-6")
	assert.ErrorIs(t, err, gateway.ErrProviderUnavailable)
}

func TestTimeoutIsUnavailable(t *testing.T) {
	f := newFakePayPal()
	f.mux.HandleFunc("/v2/checkout/orders/O-7", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})
	c := f.client(t, func(cfg *Config) {
		cfg.Timeout = 100 * time.Millisecond
		cfg.MaxRetries = 0
	})

	_, err := c.FetchStatus(context.Background(), "O-7")
	assert.ErrorIs(t, err, gateway.ErrProviderUnavailable)
}

func webhookHeaders() http.Header {
	h := http.Header{}
	h.Set("PAYPAL-AUTH-ALGO", "SHA256withRSA")
	h.Set("PAYPAL-CERT-URL", "https://api.sandbox.paypal.com/v1/notifications/certs/CERT-1")
	h.Set("PAYPAL-TRANSMISSION-ID", "tx-1")
	h.Set("PAYPAL-TRANSMISSION-SIG", "sig")
	h.Set("PAYPAL-TRANSMISSION-TIME", "2026-10-16T10:00:00Z")
	return h
}

func (f *fakePayPal) verifyAs(t *testing.T, status string) {
	f.mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "WH-1", req.WebhookID)
		assert.Equal(t, "tx-1", req.TransmissionID)
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"verification_status":%q}`, status))
	})
}

func TestWebhookCaptureCompleted(t *testing.T) {
	f := newFakePayPal()
	f.verifyAs(t, "SUCCESS")
	c := f.client(t)

	body := []byte(`{"id":"WH-EVT-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource_type":"capture",
		"resource":{"id":"CAP-9","status":"COMPLETED","custom_id":"corr-9",
		"supplementary_data":{"related_ids":{"order_id":"O-9"}}}}`)

	event, err := c.ParseWebhook(context.Background(), webhookHeaders(), body)
	require.NoError(t, err)
	assert.Equal(t, "WH-EVT-1", event.ID)
	require.NotNil(t, event.Report)
	assert.Equal(t, "O-9", event.Report.ExternalRef)
	assert.Equal(t, gateway.StatusSucceeded, event.Report.Status)
	assert.Equal(t, "CAP-9", event.Report.ReceiptRef)
}

func TestWebhookCaptureDenied(t *testing.T) {
	f := newFakePayPal()
	f.verifyAs(t, "SUCCESS")
	c := f.client(t)

	body := []byte(`{"id":"WH-EVT-2","event_type":"PAYMENT.CAPTURE.DENIED",
		"resource":{"id":"CAP-10","status":"DECLINED","status_details":{"reason":"RISK_DECLINED"},
		"supplementary_data":{"related_ids":{"order_id":"O-10"}}}}`)

	event, err := c.ParseWebhook(context.Background(), webhookHeaders(), body)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusFailed, event.Report.Status)
	require.NotNil(t, event.Report.Failure)
	assert.Equal(t, "risk declined", event.Report.Failure.Reason)
	assert.Equal(t, "DECLINED", event.Report.Failure.Code)
}

func TestWebhookRefundFollowsCapture(t *testing.T) {
	f := newFakePayPal()
	f.verifyAs(t, "SUCCESS")
	f.mux.HandleFunc("/v2/payments/captures/CAP-11", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"CAP-11","status":"REFUNDED","supplementary_data":{"related_ids":{"order_id":"O-11"}}}`)
	})
	c := f.client(t)

	body := []byte(`{"id":"WH-EVT-3","event_type":"PAYMENT.CAPTURE.REFUNDED",
		"resource":{"id":"REF-1","status":"COMPLETED","links":[
		{"href":"https://api.sandbox.paypal.com/v2/payments/refunds/REF-1","rel":"self"},
		{"href":"https://api.sandbox.paypal.com/v2/payments/captures/CAP-11","rel":"up"}]}}`)

	event, err := c.ParseWebhook(context.Background(), webhookHeaders(), body)
	require.NoError(t, err)
	require.NotNil(t, event.Report)
	assert.Equal(t, "O-11", event.Report.ExternalRef)
	assert.Equal(t, gateway.StatusRefunded, event.Report.Status)
}

func TestWebhookRejectsFailedVerification(t *testing.T) {
	f := newFakePayPal()
	f.verifyAs(t, "FAILURE")
	c := f.client(t)

	body := []byte(`{"id":"WH-EVT-4","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"O-12","status":"APPROVED"}}`)
	_, err := c.ParseWebhook(context.Background(), webhookHeaders(), body)
	assert.ErrorIs(t, err, common.ErrWebhookSignature)

	_, err = c.ParseWebhook(context.Background(), http.Header{}, body)
	assert.ErrorIs(t, err, common.ErrWebhookSignature)
}

func TestWebhookSkipVerify(t *testing.T) {
	f := newFakePayPal()
	c := f.client(t, func(cfg *Config) { cfg.SkipVerify = true })

	body := []byte(`{"id":"WH-EVT-5","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"O-13","status":"APPROVED"}}`)
	event, err := c.ParseWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusProcessing, event.Report.Status)

	_, err = c.ParseWebhook(context.Background(), http.Header{}, []byte("not json"))
	assert.ErrorIs(t, err, common.ErrInvalidPayload)
}
