package paypal

import "serotonyl.ru/token-shop/internal/gateway"

// Order statuses of the Orders v2 API.
const (
	orderCreated             = "CREATED"
	orderSaved               = "SAVED"
	orderApproved            = "APPROVED"
	orderPayerActionRequired = "PAYER_ACTION_REQUIRED"
	orderVoided              = "VOIDED"
	orderCompleted           = "COMPLETED"
)

// Capture statuses of the Payments v2 API.
const (
	captureCompleted         = "COMPLETED"
	capturePending           = "PENDING"
	captureDeclined          = "DECLINED"
	captureFailed            = "FAILED"
	captureDenied            = "DENIED"
	captureRefunded          = "REFUNDED"
	capturePartiallyRefunded = "PARTIALLY_REFUNDED"
)

var orderTable = map[string]gateway.Status{
	orderCreated:             gateway.StatusCreated,
	orderSaved:               gateway.StatusCreated,
	orderApproved:            gateway.StatusProcessing,
	orderPayerActionRequired: gateway.StatusProcessing,
	orderVoided:              gateway.StatusCanceled,
}

// A partial refund leaves the purchase standing.
var captureTable = map[string]gateway.Status{
	captureCompleted:         gateway.StatusSucceeded,
	capturePending:           gateway.StatusProcessing,
	captureDeclined:          gateway.StatusFailed,
	captureFailed:            gateway.StatusFailed,
	captureDenied:            gateway.StatusFailed,
	captureRefunded:          gateway.StatusRefunded,
	capturePartiallyRefunded: gateway.StatusSucceeded,
}

// MapOrderStatus resolves an order status. A COMPLETED order is only as
// final as its capture, so the capture status decides; unknown values fall
// back to processing.
func MapOrderStatus(orderStatus, captureStatus string) gateway.Status {
	if orderStatus == orderCompleted {
		return MapCaptureStatus(captureStatus)
	}
	if s, ok := orderTable[orderStatus]; ok {
		return s
	}
	return gateway.StatusProcessing
}

// MapCaptureStatus resolves a capture status, defaulting to processing.
func MapCaptureStatus(captureStatus string) gateway.Status {
	if s, ok := captureTable[captureStatus]; ok {
		return s
	}
	return gateway.StatusProcessing
}
