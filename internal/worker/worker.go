package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apidomain "github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EventStore is the persistence the worker writes to
type EventStore interface {
	InsertAuditEvent(ctx context.Context, event *apidomain.AuditEvent) error
	DeleteExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int64, error)
}

// DeliverySource yields audit deliveries; satisfied by *rabbitmq.Client
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Storage     EventStore
	Source      DeliverySource
	Concurrency int
	JobTimeout  time.Duration
	GCInterval  time.Duration
	GCBatchSize int
	Now         func() time.Time
}

// Worker consumes audit events into the append-only table and sweeps expired idempotency records
type Worker struct {
	logger      *slog.Logger
	storage     EventStore
	source      DeliverySource
	workerID    string
	concurrency int
	jobTimeout  time.Duration
	gcInterval  time.Duration
	gcBatchSize int
	now         func() time.Time
	jobsChan    chan *domain.AuditMessage
	wg          sync.WaitGroup
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Worker{
		logger:      cfg.Logger,
		storage:     cfg.Storage,
		source:      cfg.Source,
		workerID:    "audit-worker-" + uuid.New().String()[:8],
		concurrency: cfg.Concurrency,
		jobTimeout:  cfg.JobTimeout,
		gcInterval:  cfg.GCInterval,
		gcBatchSize: cfg.GCBatchSize,
		now:         now,
		jobsChan:    make(chan *domain.AuditMessage, cfg.Concurrency),
		stopChan:    make(chan struct{}),
	}
}

// ErrDeliveriesClosed is returned by Start when the broker closes the delivery channel
var ErrDeliveriesClosed = errors.New("audit delivery channel closed")

// Start consumes until ctx is canceled or the broker goes away
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("gc_interval", w.gcInterval),
	)

	// Step 1: Subscribe to the audit queue
	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	// Step 2: Spawn worker goroutines and the idempotency sweeper
	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go w.runIdempotencyGC(ctx)

	// Step 3: Dispatch until shutdown
	if closed := w.startMessageDispatcher(ctx, deliveries); closed {
		return fmt.Errorf("worker %s: %w", w.workerID, ErrDeliveriesClosed)
	}
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
