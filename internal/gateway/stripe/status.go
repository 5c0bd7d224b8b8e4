package stripe

import (
	"github.com/stripe/stripe-go/v82"

	"serotonyl.ru/token-shop/internal/gateway"
)

// statusTable maps every PaymentIntent status Stripe emits to the internal
// vocabulary. requires_payment_method stays created: after a decline Stripe
// moves the intent back there and the customer may retry with another card.
var statusTable = map[stripe.PaymentIntentStatus]gateway.Status{
	stripe.PaymentIntentStatusRequiresPaymentMethod: gateway.StatusCreated,
	stripe.PaymentIntentStatusRequiresConfirmation:  gateway.StatusCreated,
	stripe.PaymentIntentStatusRequiresAction:        gateway.StatusProcessing,
	stripe.PaymentIntentStatusProcessing:            gateway.StatusProcessing,
	stripe.PaymentIntentStatusRequiresCapture:       gateway.StatusProcessing,
	stripe.PaymentIntentStatusSucceeded:             gateway.StatusSucceeded,
	stripe.PaymentIntentStatusCanceled:              gateway.StatusCanceled,
}

// MapStatus translates a raw PaymentIntent status. Unknown values fall back
// to processing, never to a terminal status.
func MapStatus(raw string) gateway.Status {
	if s, ok := statusTable[stripe.PaymentIntentStatus(raw)]; ok {
		return s
	}
	return gateway.StatusProcessing
}
