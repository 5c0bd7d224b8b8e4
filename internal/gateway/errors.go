package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds. Every error a Gateway returns matches exactly one of them
// through errors.Is.
var (
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrInvalidRequest      = errors.New("invalid payment request")
	ErrNotFound            = errors.New("payment not found at provider")
	ErrAlreadyCaptured     = errors.New("payment already captured")
	ErrExpired             = errors.New("payment expired at provider")
	ErrDenied              = errors.New("payment denied by provider")
)

// Error wraps a provider failure with its kind and optional failure details.
type Error struct {
	Kind    error
	Op      string
	Failure *Failure
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds a gateway error of the given kind.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Unavailable wraps a transport-level failure (timeout, DNS, connection
// reset, 5xx).
func Unavailable(op string, err error) *Error {
	return &Error{Kind: ErrProviderUnavailable, Op: op, Err: err}
}

// FailureOf extracts failure metadata from an error chain, if any.
func FailureOf(err error) *Failure {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Failure
	}
	return nil
}

// IsTransport reports whether err is a network-level failure that should be
// treated as ErrProviderUnavailable.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// KindName returns a short label of the error kind for metrics and logs.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyCaptured):
		return "already_captured"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrDenied):
		return "denied"
	default:
		return "other"
	}
}
