package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/cuongbtq/fieldclock/internal/eventid"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schema string

// DefaultMaxDepth bounds how many unsent events a device keeps
const DefaultMaxDepth = 100

const itemColumns = `id, operation, worker_id, payload, status, retry_count, last_attempt, last_error,
	error_reason, next_retry_at, created_at, completed_at, entry_id`

// Config holds queue store settings
type Config struct {
	MaxDepth int
	Window   eventid.Window
	Now      func() time.Time
}

// SQLiteStore is the durable on-device queue. It is safe for concurrent use.
type SQLiteStore struct {
	db       *sqlx.DB
	logger   *slog.Logger
	maxDepth int
	window   eventid.Window
	now      func() time.Time

	// serializes read-modify-write sequences
	mu sync.Mutex

	watchMu  sync.Mutex
	watchers map[chan int]struct{}

	signal chan struct{}
}

// NewSQLiteStore creates a new SQLiteStore and applies the schema
func NewSQLiteStore(ctx context.Context, db *sqlx.DB, logger *slog.Logger, cfg Config) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply queue schema: %w", err)
	}

	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &SQLiteStore{
		db:       db,
		logger:   logger,
		maxDepth: maxDepth,
		window:   cfg.Window,
		now:      now,
		watchers: make(map[chan int]struct{}),
		signal:   make(chan struct{}, 1),
	}, nil
}

// Signal fires after every enqueue so a sleeping engine can wake up
func (s *SQLiteStore) Signal() <-chan struct{} {
	return s.signal
}

// Enqueue durably stores a new event. Events that are already outside the replay window are refused.
// An empty item.ID is filled with a fresh client event id.
func (s *SQLiteStore) Enqueue(ctx context.Context, item Item) (string, error) {
	now := s.now().UTC()

	if !item.Operation.Valid() {
		return "", fmt.Errorf("unknown operation %q", string(item.Operation))
	}
	if item.Payload.WorkerID == "" {
		return "", fmt.Errorf("worker id is required")
	}
	if item.Payload.At.IsZero() {
		item.Payload.At = now
	}
	item.Payload.At = item.Payload.At.UTC()
	if item.ID == "" {
		item.ID = eventid.New(item.Payload.At)
	}

	// Doomed events never enter the queue
	if err := s.window.Check(item.ID, now); err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", item.ID, err)
	}
	if err := s.window.CheckInstant(item.Payload.At, now); err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", item.ID, err)
	}

	item.WorkerID = item.Payload.WorkerID
	item.Status = StatusPending
	item.RetryCount = 0
	item.CreatedAt = now

	s.mu.Lock()
	err := s.insert(ctx, item)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.logger.Info("Event enqueued",
		slog.String("item_id", item.ID),
		slog.String("operation", string(item.Operation)),
		slog.String("worker_id", item.WorkerID),
	)

	s.notify(ctx)
	select {
	case s.signal <- struct{}{}:
	default:
	}

	return item.ID, nil
}

func (s *SQLiteStore) insert(ctx context.Context, item Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var depth int
	err = tx.GetContext(ctx, &depth, `
		SELECT COUNT(*) FROM queue_items WHERE status IN (?, ?, ?)
	`, StatusPending, StatusSyncing, StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to count queue depth: %w", err)
	}
	if depth >= s.maxDepth {
		return &QueueFullError{Max: s.maxDepth}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO queue_items (id, operation, worker_id, payload, status, retry_count, created_at)
		VALUES (:id, :operation, :worker_id, :payload, :status, :retry_count, :created_at)
	`, item)
	if err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue item: %w", err)
	}
	return nil
}

// Get returns one item by id
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return &item, nil
}

// DequeueNextReady returns the head of the worker's FIFO when it may be attempted at now.
// A head waiting for its backoff blocks the items behind it; permanently failed items are skipped.
// It returns nil when there is nothing to do.
func (s *SQLiteStore) DequeueNextReady(ctx context.Context, workerID string, now time.Time) (*Item, error) {
	var items []Item
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE worker_id = ?
		  AND (status IN (?, ?) OR (status = ? AND next_retry_at IS NOT NULL))
		ORDER BY created_at, id
		LIMIT 1
	`, workerID, StatusPending, StatusSyncing, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue head: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	head := &items[0]
	if !head.Ready(now) {
		return nil, nil
	}
	return head, nil
}

// MarkStatus moves an item along the state machine and records the attempt bookkeeping.
// A retry-scheduled failure increments RetryCount; a permanent failure leaves it untouched.
func (s *SQLiteStore) MarkStatus(ctx context.Context, id string, status Status, opts MarkOptions) error {
	if opts.Now.IsZero() {
		opts.Now = s.now()
	}
	now := opts.Now.UTC()

	s.mu.Lock()
	err := s.markStatus(ctx, id, status, opts, now)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(ctx)
	return nil
}

func (s *SQLiteStore) markStatus(ctx context.Context, id string, status Status, opts MarkOptions, now time.Time) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(item.Status, status) {
		return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, id, item.Status, status)
	}

	switch status {
	case StatusSyncing:
		_, err = s.db.ExecContext(ctx, `
			UPDATE queue_items SET status = ?, last_attempt = ? WHERE id = ?
		`, status, now, id)

	case StatusCompleted:
		var entryID *string
		if opts.EntryID != "" {
			entryID = &opts.EntryID
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE queue_items
			SET status = ?, completed_at = ?, entry_id = ?, last_error = NULL, error_reason = NULL, next_retry_at = NULL
			WHERE id = ?
		`, status, now, entryID, id)

	case StatusFailed:
		retryCount := item.RetryCount
		var next *time.Time
		if opts.NextRetryAt != nil {
			t := opts.NextRetryAt.UTC()
			next = &t
			retryCount++
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE queue_items
			SET status = ?, last_error = ?, error_reason = ?, next_retry_at = ?, retry_count = ?
			WHERE id = ?
		`, status, nullString(opts.Error), nullString(opts.Reason), next, retryCount, id)

	case StatusCancelled:
		_, err = s.db.ExecContext(ctx, `
			UPDATE queue_items SET status = ?, completed_at = ?, next_retry_at = NULL WHERE id = ?
		`, status, now, id)

	default:
		return fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, status)
	}
	if err != nil {
		return fmt.Errorf("failed to update queue item %s: %w", id, err)
	}
	return nil
}

// Cancel withdraws an unsent item. Cancelling twice is a no-op; an item being delivered returns ErrInFlight.
func (s *SQLiteStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	item, err := s.Get(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	switch item.Status {
	case StatusCancelled:
		s.mu.Unlock()
		return nil
	case StatusSyncing:
		s.mu.Unlock()
		return ErrInFlight
	}

	err = s.markStatus(ctx, id, StatusCancelled, MarkOptions{}, s.now().UTC())
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Info("Queue item cancelled", slog.String("item_id", id))
	s.notify(ctx)
	return nil
}

// ListPending returns the non-terminal items in delivery order; an empty workerID lists every worker
func (s *SQLiteStore) ListPending(ctx context.Context, workerID string) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items WHERE status IN (?, ?, ?)`
	args := []any{StatusPending, StatusSyncing, StatusFailed}
	if workerID != "" {
		query += ` AND worker_id = ?`
		args = append(args, workerID)
	}
	query += ` ORDER BY created_at, id`

	items := []Item{}
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	return items, nil
}

// HasActiveClockIn reports whether the device believes the worker is on shift:
// the latest live ClockIn/ClockOut event is a ClockIn. The server remains the authority.
// A delivered ClockIn older than the replay window is ignored; the shift may have been
// closed from another device.
func (s *SQLiteStore) HasActiveClockIn(ctx context.Context, workerID string) (bool, error) {
	var latest []struct {
		Operation clock.Operation `db:"operation"`
		Status    Status          `db:"status"`
		CreatedAt time.Time       `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &latest, `
		SELECT operation, status, created_at
		FROM queue_items
		WHERE worker_id = ?
		  AND operation IN (?, ?)
		  AND (status IN (?, ?, ?) OR (status = ? AND next_retry_at IS NOT NULL))
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, workerID, clock.OpClockIn, clock.OpClockOut,
		StatusPending, StatusSyncing, StatusCompleted, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to check active clock in: %w", err)
	}
	if len(latest) == 0 || latest[0].Operation != clock.OpClockIn {
		return false, nil
	}
	if latest[0].Status == StatusCompleted && s.window.Classify(latest[0].CreatedAt, s.now()) == eventid.Expired {
		return false, nil
	}
	return true, nil
}

// LatestEntryID returns the server entry id of the worker's most recent delivered ClockIn
func (s *SQLiteStore) LatestEntryID(ctx context.Context, workerID string) (string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT entry_id
		FROM queue_items
		WHERE worker_id = ? AND operation = ? AND status = ? AND entry_id IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, workerID, clock.OpClockIn, StatusCompleted)
	if err != nil {
		return "", fmt.Errorf("failed to look up latest entry id: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// Workers lists the workers with items that may need an attempt
func (s *SQLiteStore) Workers(ctx context.Context) ([]string, error) {
	var workers []string
	err := s.db.SelectContext(ctx, &workers, `
		SELECT DISTINCT worker_id
		FROM queue_items
		WHERE status = ? OR (status = ? AND next_retry_at IS NOT NULL)
		ORDER BY worker_id
	`, StatusPending, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	return workers, nil
}

// NextWakeup returns the earliest scheduled retry, or nil when none is scheduled
func (s *SQLiteStore) NextWakeup(ctx context.Context) (*time.Time, error) {
	var next []time.Time
	err := s.db.SelectContext(ctx, &next, `
		SELECT next_retry_at
		FROM queue_items
		WHERE status = ? AND next_retry_at IS NOT NULL
		ORDER BY next_retry_at
		LIMIT 1
	`, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to find next wakeup: %w", err)
	}
	if len(next) == 0 {
		return nil, nil
	}
	return &next[0], nil
}

// RecoverInFlight fails every item left Syncing by a crash with an immediate retry.
// Redelivery is safe because the server deduplicates on the item id.
func (s *SQLiteStore) RecoverInFlight(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = ?, next_retry_at = ?, last_error = ?
		WHERE status = ?
	`, StatusFailed, now.UTC(), "delivery interrupted", StatusSyncing)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-flight items: %w", err)
	}

	recovered, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if recovered > 0 {
		s.logger.Warn("Recovered interrupted deliveries", slog.Int64("count", recovered))
		s.notify(ctx)
	}
	return recovered, nil
}

// Purge deletes terminal items that finished before olderThan
func (s *SQLiteStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM queue_items
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, StatusCompleted, StatusCancelled, olderThan.UTC())
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue items: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return purged, nil
}

// PendingCount returns how many items are not yet terminal
func (s *SQLiteStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM queue_items WHERE status IN (?, ?, ?)
	`, StatusPending, StatusSyncing, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending items: %w", err)
	}
	return count, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
