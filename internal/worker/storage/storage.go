package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apidomain "github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// InsertAuditEvent appends an event to audit_events.
// Redelivered events hit the primary key and return domain.ErrDuplicateEvent.
func (s *Storage) InsertAuditEvent(ctx context.Context, event *apidomain.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			event_id, entry_id, company_id, worker_id, action,
			edited_by, reason, changes, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`

	changes, err := json.Marshal(event.Record.Changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.EntryID,
		event.CompanyID,
		event.WorkerID,
		event.Action,
		event.Record.EditedBy,
		event.Record.Reason,
		string(changes),
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrDuplicateEvent
	}

	return nil
}

// DeleteExpiredIdempotency removes up to limit idempotency records that expired before now.
// It returns how many rows were deleted.
func (s *Storage) DeleteExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int64, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `
		SELECT key
		FROM idempotency_records
		WHERE expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to select expired idempotency records: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	// expires_at is re-checked so a key re-written since the select survives
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_records
		WHERE key = ANY($1) AND expires_at <= $2
	`, pq.Array(keys), now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Debug("Expired idempotency records deleted",
		slog.Int64("deleted", deleted),
	)

	return deleted, nil
}
