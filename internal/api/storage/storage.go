package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
)

// ErrConflict is returned when a transaction kept losing to concurrent writers
var ErrConflict = errors.New("transaction conflict")

// ErrKeyInUse is returned when a live idempotency record already holds the key
var ErrKeyInUse = errors.New("idempotency key in use")

// Store is the api-service persistence boundary.
// Every clock mutation runs inside RunInTx; reads used by the admin surface run outside it.
type Store interface {
	// RunInTx runs fn in one serializable transaction. fn may be re-run after a conflict.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	GetEntry(ctx context.Context, companyID, entryID string) (*domain.TimeEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]domain.TimeEntry, error)
}

// Tx is the set of operations available inside a transaction
type Tx interface {
	// LockWorker serializes all shift mutations of one worker
	LockWorker(ctx context.Context, companyID, workerID string) error

	GetIdempotency(ctx context.Context, key string, now time.Time) (*domain.IdempotencyRecord, error)
	PutIdempotency(ctx context.Context, rec *domain.IdempotencyRecord) error

	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	IsAssigned(ctx context.Context, jobID, workerID string) (bool, error)

	// GetEntry loads an entry for update
	GetEntry(ctx context.Context, entryID string) (*domain.TimeEntry, error)
	GetActiveEntry(ctx context.Context, workerID string) (*domain.TimeEntry, error)
	InsertEntry(ctx context.Context, entry *domain.TimeEntry) error
	UpdateEntry(ctx context.Context, entry *domain.TimeEntry) error
}

// EntryFilter narrows an admin listing; CompanyID is always set from the caller
type EntryFilter struct {
	CompanyID      string
	WorkerID       string
	JobID          string
	Status         string
	ExceptionsOnly bool
	PageSize       int
	Cursor         *EntryCursor
}

// EntryCursor is the keyset position of the last returned entry
type EntryCursor struct {
	CreatedAt time.Time
	EntryID   string
}
