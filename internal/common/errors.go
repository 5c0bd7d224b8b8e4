// Package common — errors.go defines the sentinel errors shared by every
// feature. Handlers switch on them to pick a status code and a message the
// purchaser can act on.
package common

import "errors"

// Purchase validation errors
var (
	// ErrGameNotFound — game id is unknown or the game is inactive
	ErrGameNotFound = errors.New("game not found")
	// ErrLocationUnavailable — the game is not offered at the requested location
	ErrLocationUnavailable = errors.New("location is not available for this game")
	// ErrInvalidPackage — token package index is out of range
	ErrInvalidPackage = errors.New("invalid token package")
	// ErrProviderNotConfigured — the payment provider is unknown or disabled
	ErrProviderNotConfigured = errors.New("payment provider is not available")
)

// Payment errors
var (
	// ErrPaymentNotFound — no payment record for that reference (or not owned by the caller)
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrRetryable — the provider could not be reached, the caller may try again
	ErrRetryable = errors.New("payment provider is temporarily unavailable, please try again")
)

// Webhook errors
var (
	// ErrWebhookSignature — event authenticity could not be verified
	ErrWebhookSignature = errors.New("webhook signature verification failed")
	// ErrInvalidPayload — event body could not be parsed
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// Token balance errors
var (
	// ErrInvalidAmount — zero adjustment
	ErrInvalidAmount = errors.New("amount must be non-zero")
	// ErrUnauthorized — missing or wrong admin key
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTooManyAttempts — admin key failures exceeded the lockout threshold
	ErrTooManyAttempts = errors.New("too many failed attempts, try again later")
)
