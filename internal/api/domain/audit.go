package domain

import (
	"time"

	"github.com/cuongbtq/fieldclock/internal/clock"
)

// Audited field names
const (
	FieldClockIn  = "clockIn"
	FieldClockOut = "clockOut"
	FieldJobID    = "jobId"
	FieldNotes    = "notes"
	FieldStatus   = "status"
	FieldBreaks   = "breaks"
)

// FieldChange is one before/after pair; nil means the field was unset
type FieldChange struct {
	Before *string `json:"before"`
	After  *string `json:"after"`
}

// AuditRecord is an append-only edit record kept inside a time entry
type AuditRecord struct {
	EditedBy string                 `json:"editedBy"`
	EditedAt time.Time              `json:"editedAt"`
	Reason   string                 `json:"reason"`
	Changes  map[string]FieldChange `json:"changes"`
}

// AuditEvent is what the api-service publishes to the audit sink after commit
type AuditEvent struct {
	EventID    string          `json:"eventId"`
	EntryID    string          `json:"entryId"`
	CompanyID  string          `json:"companyId"`
	WorkerID   string          `json:"workerId"`
	Action     string          `json:"action"`
	Operation  clock.Operation `json:"operation,omitempty"`
	Record     AuditRecord     `json:"record"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Audit actions beyond the clock operations
const (
	ActionAdminEdit   = "AdminEdit"
	ActionAdminReview = "AdminReview"
)
