package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/token-shop/internal/common"
	"serotonyl.ru/token-shop/internal/gateway"
)

const verificationSuccess = "SUCCESS"

var errMissingOrderID = errors.New("capture without related order id")

// Transmission headers PayPal attaches to every webhook delivery.
var transmissionHeaders = []string{
	"PAYPAL-AUTH-ALGO",
	"PAYPAL-CERT-URL",
	"PAYPAL-TRANSMISSION-ID",
	"PAYPAL-TRANSMISSION-SIG",
	"PAYPAL-TRANSMISSION-TIME",
}

type webhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// ParseWebhook verifies the delivery with PayPal's verify-webhook-signature
// endpoint and maps order and capture events onto a status report.
func (c *Client) ParseWebhook(ctx context.Context, header http.Header, body []byte) (*gateway.WebhookEvent, error) {
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if !c.skipVerify {
		if err := c.verify(ctx, header, body); err != nil {
			return nil, err
		}
	}

	out := &gateway.WebhookEvent{ID: ev.ID, Type: ev.EventType}
	report, err := c.reportFromEvent(ctx, &ev)
	if err != nil {
		if errors.Is(err, gateway.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", common.ErrInvalidPayload, ev.EventType, err)
	}
	out.Report = report
	return out, nil
}

func (c *Client) verify(ctx context.Context, header http.Header, body []byte) error {
	values := make([]string, len(transmissionHeaders))
	for i, h := range transmissionHeaders {
		values[i] = header.Get(h)
		if values[i] == "" {
			return fmt.Errorf("%w: missing %s", common.ErrWebhookSignature, h)
		}
	}

	req := verifyRequest{
		AuthAlgo:         values[0],
		CertURL:          values[1],
		TransmissionID:   values[2],
		TransmissionSig:  values[3],
		TransmissionTime: values[4],
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(body),
	}

	var resp verifyResponse
	if err := c.do(ctx, "verify_webhook", http.MethodPost, "/v1/notifications/verify-webhook-signature", req, "", &resp); err != nil {
		if errors.Is(err, gateway.ErrProviderUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrWebhookSignature, err)
	}
	if resp.VerificationStatus != verificationSuccess {
		return fmt.Errorf("%w: verification status %q", common.ErrWebhookSignature, resp.VerificationStatus)
	}
	return nil
}

func (c *Client) reportFromEvent(ctx context.Context, ev *webhookEvent) (*gateway.StatusReport, error) {
	switch {
	case strings.HasPrefix(ev.EventType, "CHECKOUT.ORDER."):
		var o order
		if err := json.Unmarshal(ev.Resource, &o); err != nil {
			return nil, err
		}
		if o.ID == "" {
			return nil, errors.New("order without id")
		}
		return c.reportFromOrder(&o), nil

	case ev.EventType == "PAYMENT.CAPTURE.REFUNDED", ev.EventType == "PAYMENT.CAPTURE.REVERSED":
		// The resource is the refund; its "up" link points at the capture,
		// whose current status tells a full refund from a partial one.
		captureID := refundedCaptureID(ev.Resource)
		if captureID == "" {
			return nil, errors.New("refund without capture link")
		}
		cp, err := c.fetchCapture(ctx, captureID)
		if err != nil {
			return nil, err
		}
		return c.reportFromCapture(cp)

	case strings.HasPrefix(ev.EventType, "PAYMENT.CAPTURE."):
		var cp capture
		if err := json.Unmarshal(ev.Resource, &cp); err != nil {
			return nil, err
		}
		return c.reportFromCapture(&cp)
	}

	log.WithFields(log.Fields{
		"event_id":   ev.ID,
		"event_type": ev.EventType,
	}).Debug("paypal: ignoring webhook event")
	return nil, nil
}

func (c *Client) reportFromCapture(cp *capture) (*gateway.StatusReport, error) {
	orderID := cp.orderID()
	if orderID == "" {
		return nil, errMissingOrderID
	}
	report := &gateway.StatusReport{
		ExternalRef:    orderID,
		ProviderStatus: orderCompleted + "/" + cp.Status,
		Status:         MapCaptureStatus(cp.Status),
		ReceiptRef:     cp.ID,
	}
	if cp.CustomID != "" {
		report.Metadata = map[string]string{"correlation_id": cp.CustomID}
	}
	if report.Status == gateway.StatusFailed {
		report.Failure = gateway.NewFailure(cp.reason(), cp.Status, "", cp.Status, c.now())
	}
	return report, nil
}

func refundedCaptureID(resource json.RawMessage) string {
	var refund struct {
		Links []link `json:"links"`
	}
	if err := json.Unmarshal(resource, &refund); err != nil {
		return ""
	}
	for _, l := range refund.Links {
		if l.Rel != "up" {
			continue
		}
		u, err := url.Parse(l.Href)
		if err != nil {
			return ""
		}
		if strings.Contains(u.Path, "/captures/") {
			return path.Base(u.Path)
		}
	}
	return ""
}
