package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/fieldclock/internal/worker/domain"
	"github.com/google/uuid"
)

// processEvent validates an audit event and appends it to the audit table
func (w *Worker) processEvent(ctx context.Context, msg *domain.AuditMessage) error {
	event := &msg.Event

	// Step 1: Validate the event
	if _, err := uuid.Parse(event.EventID); err != nil {
		return fmt.Errorf("%w: event id %q: %v", domain.ErrInvalidPayload, event.EventID, err)
	}
	if event.EntryID == "" || event.Action == "" || event.OccurredAt.IsZero() {
		return fmt.Errorf("%w: event %s is missing entry, action or time", domain.ErrInvalidPayload, event.EventID)
	}

	// Step 2: Store with a bounded timeout
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	err := w.storage.InsertAuditEvent(jobCtx, event)
	switch {
	case err == nil:
		w.logger.Info("Audit event stored",
			slog.String("event_id", event.EventID),
			slog.String("entry_id", event.EntryID),
			slog.String("action", event.Action),
		)
		return nil

	case errors.Is(err, domain.ErrDuplicateEvent):
		// Redelivery of an event that was already written
		w.logger.Info("Audit event already stored, skipping",
			slog.String("event_id", event.EventID),
		)
		return nil

	default:
		// Database errors are treated as transient
		return domain.NewRetryableError(fmt.Errorf("failed to store audit event %s: %w", event.EventID, err))
	}
}
