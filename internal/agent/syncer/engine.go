package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fieldclock/internal/agent/queue"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/cuongbtq/fieldclock/internal/eventid"
)

// Ladder is the fixed retry schedule, indexed by the attempts already failed
var Ladder = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

// Backoff returns the delay before the next attempt of an item that has failed retryCount times
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(Ladder) {
		retryCount = len(Ladder) - 1
	}
	return Ladder[retryCount]
}

// Queue is the part of the queue store the engine drives
type Queue interface {
	DequeueNextReady(ctx context.Context, workerID string, now time.Time) (*queue.Item, error)
	MarkStatus(ctx context.Context, id string, status queue.Status, opts queue.MarkOptions) error
	LatestEntryID(ctx context.Context, workerID string) (string, error)
	Workers(ctx context.Context) ([]string, error)
	NextWakeup(ctx context.Context) (*time.Time, error)
	RecoverInFlight(ctx context.Context, now time.Time) (int64, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	Signal() <-chan struct{}
}

// Transport delivers one event to the api-service; satisfied by *transport.Client
type Transport interface {
	Send(ctx context.Context, op clock.Operation, req clock.EventRequest, entryID string) (*clock.EventResponse, error)
}

// Config holds engine configuration
type Config struct {
	Logger        *slog.Logger
	Queue         Queue
	Transport     Transport
	Window        eventid.Window
	PollInterval  time.Duration
	Retention     time.Duration
	PurgeInterval time.Duration
	Now           func() time.Time
}

// Engine drains the queue store into the api-service, one in-flight event per worker
type Engine struct {
	logger        *slog.Logger
	queue         Queue
	transport     Transport
	window        eventid.Window
	pollInterval  time.Duration
	retention     time.Duration
	purgeInterval time.Duration
	now           func() time.Time
}

// NewEngine creates a new sync engine
func NewEngine(cfg *Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 15 * time.Second
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	purge := cfg.PurgeInterval
	if purge <= 0 {
		purge = time.Hour
	}

	return &Engine{
		logger:        cfg.Logger,
		queue:         cfg.Queue,
		transport:     cfg.Transport,
		window:        cfg.Window,
		pollInterval:  poll,
		retention:     retention,
		purgeInterval: purge,
		now:           now,
	}
}

// Run recovers interrupted deliveries and then drains until ctx is done.
// Between passes it sleeps until the earliest scheduled retry, the poll interval or an enqueue.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Sync engine starting", slog.Duration("poll_interval", e.pollInterval))

	if _, err := e.queue.RecoverInFlight(ctx, e.now()); err != nil {
		return fmt.Errorf("failed to recover in-flight items: %w", err)
	}

	for {
		if err := e.DrainAll(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("Drain pass failed", slog.String("error", err.Error()))
		}

		wait := e.nextWait(ctx)
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("Sync engine stopped")
			return nil
		case <-timer.C:
		case <-e.queue.Signal():
			timer.Stop()
		}
	}
}

// nextWait returns how long to sleep before the next drain pass
func (e *Engine) nextWait(ctx context.Context) time.Duration {
	wait := e.pollInterval

	next, err := e.queue.NextWakeup(ctx)
	if err != nil {
		e.logger.Warn("Failed to read next wakeup", slog.String("error", err.Error()))
		return wait
	}
	if next != nil {
		until := next.Sub(e.now())
		if until < 0 {
			until = 0
		}
		if until < wait {
			wait = until
		}
	}
	return wait
}

// RunPurge deletes terminal items past retention every purge interval
func (e *Engine) RunPurge(ctx context.Context) error {
	ticker := time.NewTicker(e.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purged, err := e.queue.Purge(ctx, e.now().Add(-e.retention))
			if err != nil {
				e.logger.Warn("Queue purge failed", slog.String("error", err.Error()))
				continue
			}
			if purged > 0 {
				e.logger.Info("Old queue items purged", slog.Int64("purged", purged))
			}
		}
	}
}

// DrainAll drains every worker with work, one worker at a time
func (e *Engine) DrainAll(ctx context.Context) error {
	workers, err := e.queue.Workers(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, workerID := range workers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.DrainWorker(ctx, workerID); err != nil {
			errs = append(errs, fmt.Errorf("worker %s: %w", workerID, err))
		}
	}
	return errors.Join(errs...)
}

// DrainWorker sends the worker's ready items in FIFO order and returns how many reached a terminal state.
// It stops at the first item that has to wait for a retry.
func (e *Engine) DrainWorker(ctx context.Context, workerID string) (int, error) {
	settled := 0
	for ctx.Err() == nil {
		item, err := e.queue.DequeueNextReady(ctx, workerID, e.now())
		if err != nil {
			return settled, err
		}
		if item == nil {
			return settled, nil
		}

		advanced, err := e.processItem(ctx, item)
		if err != nil {
			return settled, err
		}
		if !advanced {
			return settled, nil
		}
		settled++
	}
	return settled, ctx.Err()
}

// processItem makes one delivery attempt. It reports whether the worker's queue may move past the item.
func (e *Engine) processItem(ctx context.Context, item *queue.Item) (bool, error) {
	logger := e.logger.With(
		slog.String("item_id", item.ID),
		slog.String("operation", string(item.Operation)),
		slog.String("worker_id", item.WorkerID),
		slog.Int("retry_count", item.RetryCount),
	)

	// Step 1: claim the item
	now := e.now()
	if err := e.queue.MarkStatus(ctx, item.ID, queue.StatusSyncing, queue.MarkOptions{Now: now}); err != nil {
		if errors.Is(err, queue.ErrIllegalTransition) {
			// Cancelled between dequeue and claim
			logger.Warn("Item changed before delivery", slog.String("error", err.Error()))
			return true, nil
		}
		return false, err
	}

	// Step 2: events that left the replay window are never sent
	if err := e.checkFresh(item, now); err != nil {
		logger.Warn("Event outside replay window",
			slog.Bool("security", true),
			slog.String("error", err.Error()),
		)
		return e.fail(ctx, logger, item, Classify(err))
	}

	// Step 3: send
	req, entryID, err := e.buildRequest(ctx, item)
	if err != nil {
		return e.fail(ctx, logger, item, Classify(err))
	}

	resp, sendErr := e.transport.Send(ctx, item.Operation, req, entryID)

	// Bookkeeping must land even when the engine is shutting down
	bctx := context.WithoutCancel(ctx)

	// Step 4: record the outcome
	if sendErr == nil {
		if err := e.queue.MarkStatus(bctx, item.ID, queue.StatusCompleted, queue.MarkOptions{
			Now:     e.now(),
			EntryID: resp.EntryID,
		}); err != nil {
			return false, e.loud(logger, err)
		}
		logger.Info("Event synced",
			slog.String("entry_id", resp.EntryID),
			slog.Bool("geofence_valid", resp.GeofenceValid),
			slog.Bool("gps_missing", resp.GPSMissing),
		)
		return true, nil
	}

	return e.fail(bctx, logger, item, Classify(sendErr))
}

func (e *Engine) checkFresh(item *queue.Item, now time.Time) error {
	if err := e.window.Check(item.ID, now); err != nil {
		return err
	}
	return e.window.CheckInstant(item.Payload.At, now)
}

// buildRequest renders the wire body; entry-scoped operations fall back to the last synced ClockIn's entry
func (e *Engine) buildRequest(ctx context.Context, item *queue.Item) (clock.EventRequest, string, error) {
	p := item.Payload
	req := clock.EventRequest{
		WorkerID:    p.WorkerID,
		JobID:       p.JobID,
		TimeEntryID: p.TimeEntryID,
		At:          p.At.UnixMilli(),
		ClientID:    item.ID,
		Geo:         p.Location,
		AccuracyM:   p.AccuracyM,
		Notes:       p.Notes,
	}

	if item.Operation.NeedsEntry() && req.TimeEntryID == "" {
		entryID, err := e.queue.LatestEntryID(ctx, item.WorkerID)
		if err != nil {
			return req, "", NewRetryableError(err)
		}
		req.TimeEntryID = entryID
	}

	if item.Operation == clock.OpDispute && req.TimeEntryID == "" {
		return req, "", &TerminalError{
			Reason:  clock.ReasonEntryNotFound,
			Message: userMessage("", clock.ReasonEntryNotFound, ""),
			Err:     errors.New("dispute without a time entry"),
		}
	}
	return req, req.TimeEntryID, nil
}

// fail records the failure of an item already in Syncing.
// It reports whether the failure is terminal, which lets the worker's queue move on.
func (e *Engine) fail(ctx context.Context, logger *slog.Logger, item *queue.Item, classified error) (bool, error) {
	opts := queue.MarkOptions{Now: e.now(), Error: classified.Error()}

	var retryable *RetryableError
	var terminal *TerminalError
	switch {
	case errors.As(classified, &retryable):
		next := opts.Now.Add(Backoff(item.RetryCount))
		opts.NextRetryAt = &next
	case errors.As(classified, &terminal):
		opts.Error = terminal.Message
		opts.Reason = string(terminal.Reason)
	}

	if err := e.queue.MarkStatus(context.WithoutCancel(ctx), item.ID, queue.StatusFailed, opts); err != nil {
		return false, e.loud(logger, err)
	}

	if opts.NextRetryAt != nil {
		logger.Info("Delivery failed, retry scheduled",
			slog.Time("next_retry_at", *opts.NextRetryAt),
			slog.String("error", classified.Error()),
		)
		return false, nil
	}
	logger.Warn("Event rejected",
		slog.String("reason", opts.Reason),
		slog.String("message", opts.Error),
	)
	return true, nil
}

// loud logs a state-machine violation at Error before handing it back
func (e *Engine) loud(logger *slog.Logger, err error) error {
	if errors.Is(err, queue.ErrIllegalTransition) {
		logger.Error("Illegal queue transition", slog.String("error", err.Error()))
	}
	return err
}
