package queue

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/cuongbtq/fieldclock/internal/geofence"
)

// Status is the delivery state of a queued event
type Status string

const (
	StatusPending   Status = "Pending"
	StatusSyncing   Status = "Syncing"
	StatusFailed    Status = "Failed"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

var (
	ErrNotFound          = errors.New("queue item not found")
	ErrIllegalTransition = errors.New("illegal queue item transition")
	ErrInFlight          = errors.New("queue item is being delivered")
)

// QueueFullError is returned by Enqueue when the queue is at max depth
type QueueFullError struct {
	Max int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue is full (%d unsent events)", e.Max)
}

// transitions is the full state machine; anything not listed is illegal
var transitions = map[Status][]Status{
	StatusPending: {StatusSyncing, StatusCancelled},
	StatusSyncing: {StatusCompleted, StatusFailed},
	StatusFailed:  {StatusSyncing, StatusCancelled},
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Payload is what the device knows about a clock event
type Payload struct {
	WorkerID    string          `json:"workerId"`
	JobID       string          `json:"jobId,omitempty"`
	TimeEntryID string          `json:"timeEntryId,omitempty"`
	At          time.Time       `json:"at"`
	Location    *geofence.Point `json:"location,omitempty"`
	AccuracyM   *float64        `json:"accuracy,omitempty"`
	Notes       *string         `json:"notes,omitempty"`
}

// Value implements driver.Valuer; the payload is stored as JSON text
func (p Payload) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), p)
	case []byte:
		return json.Unmarshal(v, p)
	default:
		return fmt.Errorf("unsupported payload column type %T", src)
	}
}

// Item is one durable clock event waiting for, or done with, delivery.
// ID is the client event id and doubles as the server idempotency key.
type Item struct {
	ID          string          `db:"id" json:"id"`
	Operation   clock.Operation `db:"operation" json:"operation"`
	WorkerID    string          `db:"worker_id" json:"workerId"`
	Payload     Payload         `db:"payload" json:"payload"`
	Status      Status          `db:"status" json:"status"`
	RetryCount  int             `db:"retry_count" json:"retryCount"`
	LastAttempt *time.Time      `db:"last_attempt" json:"lastAttempt,omitempty"`
	LastError   *string         `db:"last_error" json:"lastError,omitempty"`
	ErrorReason *string         `db:"error_reason" json:"errorReason,omitempty"`
	NextRetryAt *time.Time      `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	CompletedAt *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	EntryID     *string         `db:"entry_id" json:"entryId,omitempty"`
}

// RetryScheduled reports whether a failed item will be attempted again
func (i *Item) RetryScheduled() bool {
	return i.Status == StatusFailed && i.NextRetryAt != nil
}

// PermanentlyFailed reports whether the item failed for good and waits for the user
func (i *Item) PermanentlyFailed() bool {
	return i.Status == StatusFailed && i.NextRetryAt == nil
}

// Ready reports whether the item may be attempted at now
func (i *Item) Ready(now time.Time) bool {
	switch i.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return i.NextRetryAt != nil && !now.Before(*i.NextRetryAt)
	default:
		return false
	}
}

// MarkOptions carries the bookkeeping of a status change
type MarkOptions struct {
	Now         time.Time
	Error       string
	Reason      string
	NextRetryAt *time.Time
	EntryID     string
}
