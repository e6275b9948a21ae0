package syncer

import (
	"errors"

	"github.com/cuongbtq/fieldclock/internal/agent/transport"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/cuongbtq/fieldclock/internal/eventid"
)

// RetryableError wraps transient delivery errors; the item stays queued with a backoff
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

// TerminalError is a delivery outcome that will not change on retry
type TerminalError struct {
	Reason  clock.Reason
	Message string
	Err     error
}

func (e *TerminalError) Error() string {
	return e.Message
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Classify sorts a delivery error into *RetryableError or *TerminalError
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return err
	}
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return err
	}

	if transport.IsRetryable(err) {
		return NewRetryableError(err)
	}

	var apiErr *transport.APIError
	if errors.As(err, &apiErr) {
		return &TerminalError{Reason: apiErr.Reason, Message: userMessage(apiErr.Code, apiErr.Reason, apiErr.Message), Err: err}
	}

	switch {
	case errors.Is(err, eventid.ErrExpired):
		return &TerminalError{Reason: clock.ReasonEventExpired, Message: userMessage("", clock.ReasonEventExpired, ""), Err: err}
	case errors.Is(err, eventid.ErrClockSkew):
		return &TerminalError{Reason: clock.ReasonClockSkew, Message: userMessage("", clock.ReasonClockSkew, ""), Err: err}
	}
	return &TerminalError{Reason: clock.ReasonInvalidRequest, Message: err.Error(), Err: err}
}

// IsRetryable reports whether a classified error schedules another attempt
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(Classify(err), &retryable)
}

var reasonMessages = map[clock.Reason]string{
	clock.ReasonAlreadyClockedIn:  "You already have an open shift. Clock out before clocking in again.",
	clock.ReasonNoActiveEntry:     "There is no open shift to clock out of.",
	clock.ReasonEventExpired:      "This event is more than 24 hours old and can no longer be synced.",
	clock.ReasonClockSkew:         "Your device clock is ahead of the server. Check the date and time settings.",
	clock.ReasonNotAssigned:       "You are not assigned to this job.",
	clock.ReasonJobNotFound:       "This job no longer exists.",
	clock.ReasonEntryNotFound:     "The time entry could not be found.",
	clock.ReasonEntryImmutable:    "This entry has already been approved.",
	clock.ReasonBreakAlreadyOpen:  "A break is already in progress.",
	clock.ReasonNoOpenBreak:       "There is no break in progress.",
	clock.ReasonNotDisputable:     "This entry can no longer be disputed.",
	clock.ReasonInvalidTransition: "This entry cannot be changed in its current state.",
	clock.ReasonIdentityMismatch:  "This event belongs to a different worker.",
	clock.ReasonDataIntegrity:     "The server could not process this event. Contact your administrator.",
}

// userMessage turns a rejection into text the worker can act on
func userMessage(code clock.Code, reason clock.Reason, fallback string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	switch code {
	case clock.CodeUnauthenticated:
		return "Your session has expired. Sign in again to sync."
	case clock.CodePermissionDenied:
		return "You are not allowed to record this event."
	}
	if fallback != "" {
		return fallback
	}
	return "The server rejected this event."
}
