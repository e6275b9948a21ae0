package domain

import "errors"

var (
	// ErrInvalidPayload is returned when an audit message cannot be decoded or is incomplete
	ErrInvalidPayload = errors.New("invalid audit event payload")

	// ErrDuplicateEvent is returned when an audit event was already stored
	ErrDuplicateEvent = errors.New("audit event already stored")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
