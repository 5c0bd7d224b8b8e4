package gateway

// Status is the internal normalized payment status.
type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusExpired    Status = "expired"
	StatusRefunded   Status = "refunded"
)

var known = map[Status]bool{
	StatusCreated:    true,
	StatusProcessing: true,
	StatusSucceeded:  true,
	StatusFailed:     true,
	StatusCanceled:   true,
	StatusExpired:    true,
	StatusRefunded:   true,
}

// Valid reports whether s belongs to the vocabulary.
func (s Status) Valid() bool {
	return known[s]
}

// IsFinal reports whether no further provider update can change the outcome.
// succeeded is not final here: it may still move to refunded.
func (s Status) IsFinal() bool {
	switch s {
	case StatusFailed, StatusCanceled, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// IsOpen reports whether the payment is still awaiting a provider outcome.
func (s Status) IsOpen() bool {
	return s == StatusCreated || s == StatusProcessing
}

// CanTransition reports whether moving from s to next follows the graph
// created → processing → {succeeded | failed | canceled | expired},
// succeeded → refunded. Skipping intermediate states is allowed; going
// backwards or re-entering the same status is not.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() || s == next {
		return false
	}
	switch s {
	case StatusCreated:
		return true
	case StatusProcessing:
		return next != StatusCreated
	case StatusSucceeded:
		return next == StatusRefunded
	default:
		return false
	}
}

// Display collapses the internal status into the user-facing vocabulary.
func (s Status) Display() string {
	switch s {
	case StatusCreated:
		return "pending"
	case StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled, StatusExpired, StatusRefunded:
		return string(s)
	default:
		return "incomplete"
	}
}
