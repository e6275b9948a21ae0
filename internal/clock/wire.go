package clock

import (
	"net/http"
	"time"

	"github.com/cuongbtq/fieldclock/internal/geofence"
)

// EventRequest is the body of every clock RPC.
// ClientID carries the idempotency key ("{epochMillis}-{uuid}").
// WorkerID may be omitted, in which case the authenticated caller is the worker.
type EventRequest struct {
	WorkerID    string          `json:"workerId,omitempty"`
	JobID       string          `json:"jobId,omitempty"`
	TimeEntryID string          `json:"timeEntryId,omitempty"`
	At          int64           `json:"at"`
	ClientID    string          `json:"clientId"`
	Geo         *geofence.Point `json:"geo,omitempty"`
	AccuracyM   *float64        `json:"accuracy,omitempty"`
	Notes       *string         `json:"notes,omitempty"`
}

// AtTime returns At as a UTC instant
func (r *EventRequest) AtTime() time.Time {
	return time.UnixMilli(r.At).UTC()
}

// EventResponse is the success body of every clock RPC and the snapshot cached by the idempotency store
type EventResponse struct {
	Success       bool   `json:"success"`
	EntryID       string `json:"entryId"`
	GeofenceValid bool   `json:"geofenceValid"`
	GPSMissing    bool   `json:"gpsMissing"`
}

// Code is the closed set of error codes exposed to clients
type Code string

const (
	CodeUnauthenticated    Code = "unauthenticated"
	CodePermissionDenied   Code = "permission-denied"
	CodeFailedPrecondition Code = "failed-precondition"
	CodeNotFound           Code = "not-found"
	CodeInvalidArgument    Code = "invalid-argument"
	CodeUnavailable        Code = "unavailable"
	CodeDeadlineExceeded   Code = "deadline-exceeded"
	CodeInternal           Code = "internal"
)

// Reason narrows a Code to a specific business outcome
type Reason string

const (
	ReasonAlreadyClockedIn  Reason = "ALREADY_CLOCKED_IN"
	ReasonNoActiveEntry     Reason = "NO_ACTIVE_ENTRY"
	ReasonEventExpired      Reason = "EVENT_EXPIRED"
	ReasonClockSkew         Reason = "CLOCK_SKEW"
	ReasonNotAssigned       Reason = "NOT_ASSIGNED"
	ReasonJobNotFound       Reason = "JOB_NOT_FOUND"
	ReasonEntryNotFound     Reason = "ENTRY_NOT_FOUND"
	ReasonEntryImmutable    Reason = "ENTRY_IMMUTABLE"
	ReasonBreakAlreadyOpen  Reason = "BREAK_ALREADY_OPEN"
	ReasonNoOpenBreak       Reason = "NO_OPEN_BREAK"
	ReasonNotDisputable     Reason = "NOT_DISPUTABLE"
	ReasonInvalidTransition Reason = "INVALID_TRANSITION"
	ReasonIdentityMismatch  Reason = "IDENTITY_MISMATCH"
	ReasonDataIntegrity     Reason = "DATA_INTEGRITY"
	ReasonInvalidRequest    Reason = "INVALID_REQUEST"
)

// ErrorResponse is the error body of every api-service endpoint
type ErrorResponse struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
}

// HTTPStatus maps a code onto the status the api-service answers with
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeFailedPrecondition:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client should keep the event queued and try again later
func (c Code) Retryable() bool {
	return c == CodeUnavailable || c == CodeDeadlineExceeded
}

// CodeFromStatus recovers a code when a response carries no parseable body (proxies, load balancers)
func CodeFromStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthenticated
	case status == http.StatusForbidden:
		return CodePermissionDenied
	case status == http.StatusConflict:
		return CodeFailedPrecondition
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return CodeInvalidArgument
	case status == http.StatusGatewayTimeout, status == http.StatusRequestTimeout:
		return CodeDeadlineExceeded
	case status == http.StatusTooManyRequests, status >= 500 && status != http.StatusNotImplemented:
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
