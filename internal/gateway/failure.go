package gateway

import "time"

// NewFailure builds failure metadata, filling reason and code from the
// provider status when the provider response left them empty, so a failed
// record never carries blank fields.
func NewFailure(reason, code, declineCode, providerStatus string, at time.Time) *Failure {
	if reason == "" {
		reason = "payment was not completed"
		if providerStatus != "" {
			reason = "payment " + providerStatus
		}
	}
	if code == "" {
		code = providerStatus
	}
	if code == "" {
		code = "unknown"
	}
	return &Failure{
		Reason:      reason,
		Code:        code,
		DeclineCode: declineCode,
		At:          at.UTC(),
	}
}
