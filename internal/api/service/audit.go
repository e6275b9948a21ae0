package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/google/uuid"
)

// AuditSink receives committed audit events. Delivery is best effort.
type AuditSink interface {
	Publish(ctx context.Context, events []domain.AuditEvent) error
}

// NopSink drops every event
type NopSink struct{}

// Publish implements AuditSink
func (NopSink) Publish(ctx context.Context, events []domain.AuditEvent) error {
	return nil
}

// AuditWriter turns entry mutations into append-only audit records
type AuditWriter struct {
	sink   AuditSink
	logger *slog.Logger
}

// NewAuditWriter creates a new AuditWriter
func NewAuditWriter(sink AuditSink, logger *slog.Logger) *AuditWriter {
	if sink == nil {
		sink = NopSink{}
	}
	return &AuditWriter{sink: sink, logger: logger}
}

// Diff compares the audited fields of two versions of an entry.
// before may be nil for a newly created entry.
func Diff(before, after *domain.TimeEntry) map[string]domain.FieldChange {
	if before == nil {
		before = &domain.TimeEntry{}
	}

	changes := make(map[string]domain.FieldChange)
	add := func(field string, b, a *string) {
		if equalPtr(b, a) {
			return
		}
		changes[field] = domain.FieldChange{Before: b, After: a}
	}

	add(domain.FieldClockIn, formatTime(before.ClockIn), formatTime(after.ClockIn))
	add(domain.FieldClockOut, formatTimePtr(before.ClockOut), formatTimePtr(after.ClockOut))
	add(domain.FieldJobID, nonEmpty(before.JobID), nonEmpty(after.JobID))
	add(domain.FieldNotes, before.Notes, after.Notes)
	add(domain.FieldStatus, nonEmpty(string(before.Status)), nonEmpty(string(after.Status)))
	add(domain.FieldBreaks, formatBreaks(before.Breaks), formatBreaks(after.Breaks))

	return changes
}

// Append diffs before against entry and, if anything changed, appends one record to entry's log.
// It returns the record and whether one was written.
func (w *AuditWriter) Append(before, entry *domain.TimeEntry, editedBy, reason string, at time.Time) (domain.AuditRecord, bool) {
	changes := Diff(before, entry)
	if len(changes) == 0 {
		return domain.AuditRecord{}, false
	}

	record := domain.AuditRecord{
		EditedBy: editedBy,
		EditedAt: at,
		Reason:   reason,
		Changes:  changes,
	}
	entry.AuditLog = append(entry.AuditLog, record)
	return record, true
}

// Event wraps a committed record for the sink
func (w *AuditWriter) Event(entry *domain.TimeEntry, action string, op clock.Operation, record domain.AuditRecord) domain.AuditEvent {
	return domain.AuditEvent{
		EventID:    uuid.New().String(),
		EntryID:    entry.ID,
		CompanyID:  entry.CompanyID,
		WorkerID:   entry.WorkerID,
		Action:     action,
		Operation:  op,
		Record:     record,
		OccurredAt: record.EditedAt,
	}
}

// Publish forwards committed events; failures are logged, never returned
func (w *AuditWriter) Publish(ctx context.Context, events []domain.AuditEvent) {
	if len(events) == 0 {
		return
	}

	if err := w.sink.Publish(ctx, events); err != nil {
		w.logger.Warn("Failed to publish audit events",
			slog.Int("count", len(events)),
			slog.String("entry_id", events[0].EntryID),
			slog.Any("error", err),
		)
	}
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func formatBreaks(breaks []domain.Break) *string {
	if len(breaks) == 0 {
		return nil
	}
	data, err := json.Marshal(breaks)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
