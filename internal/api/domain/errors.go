package domain

import (
	"errors"
	"fmt"

	"github.com/cuongbtq/fieldclock/internal/clock"
)

var (
	ErrEntryNotFound       = errors.New("time entry not found")
	ErrJobNotFound         = errors.New("job not found")
	ErrIdempotencyNotFound = errors.New("idempotency record not found")
)

// Error is a classified failure that maps onto the wire error body
type Error struct {
	Code    clock.Code
	Reason  clock.Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Code, e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Code, e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error
func NewError(code clock.Code, reason clock.Reason, message string) *Error {
	return &Error{Code: code, Reason: reason, Message: message}
}

// Precondition is a failed-precondition error
func Precondition(reason clock.Reason, message string) *Error {
	return NewError(clock.CodeFailedPrecondition, reason, message)
}

// PermissionDenied is a permission-denied error
func PermissionDenied(reason clock.Reason, message string) *Error {
	return NewError(clock.CodePermissionDenied, reason, message)
}

// InvalidArgument is an invalid-argument error
func InvalidArgument(message string) *Error {
	return NewError(clock.CodeInvalidArgument, clock.ReasonInvalidRequest, message)
}

// NotFound is a not-found error
func NotFound(reason clock.Reason, message string) *Error {
	return NewError(clock.CodeNotFound, reason, message)
}

// Unavailable wraps an infrastructure failure the client should retry; its detail never reaches the client
func Unavailable(err error) *Error {
	return &Error{Code: clock.CodeUnavailable, Message: "service temporarily unavailable", Err: err}
}

// Internal wraps an unexpected failure; its detail never reaches the client
func Internal(reason clock.Reason, err error) *Error {
	return &Error{Code: clock.CodeInternal, Reason: reason, Message: "internal error", Err: err}
}

// AsError extracts a classified error from err
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
