package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
)

// MemoryStore is an in-process Store for tests and local runs.
// Transactions hold one lock for their whole duration and work on a staged copy,
// so they are serializable and a failed body leaves no trace.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	entries     map[string]*domain.TimeEntry
	idempotency map[string]*domain.IdempotencyRecord
	jobs        map[string]*domain.Job
	assignments map[string]map[string]bool
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			entries:     make(map[string]*domain.TimeEntry),
			idempotency: make(map[string]*domain.IdempotencyRecord),
			jobs:        make(map[string]*domain.Job),
			assignments: make(map[string]map[string]bool),
		},
	}
}

func (st memoryState) clone() memoryState {
	c := memoryState{
		entries:     make(map[string]*domain.TimeEntry, len(st.entries)),
		idempotency: make(map[string]*domain.IdempotencyRecord, len(st.idempotency)),
		jobs:        st.jobs,
		assignments: st.assignments,
	}
	for k, v := range st.entries {
		c.entries[k] = v.Clone()
	}
	for k, v := range st.idempotency {
		rec := *v
		c.idempotency[k] = &rec
	}
	return c
}

// AddJob registers a job and the workers assigned to it
func (s *MemoryStore) AddJob(job domain.Job, workerIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := job
	s.state.jobs[job.ID] = &j
	if s.state.assignments[job.ID] == nil {
		s.state.assignments[job.ID] = make(map[string]bool)
	}
	for _, w := range workerIDs {
		s.state.assignments[job.ID][w] = true
	}
}

// PutEntry stores an entry directly, bypassing the clock flow
func (s *MemoryStore) PutEntry(entry *domain.TimeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.entries[entry.ID] = entry.Clone()
}

// DeleteEntry removes an entry directly; used to simulate lost rows
func (s *MemoryStore) DeleteEntry(entryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.entries, entryID)
}

// CountEntries returns how many entries a worker has
func (s *MemoryStore) CountEntries(workerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.state.entries {
		if e.WorkerID == workerID {
			n++
		}
	}
	return n
}

// RunInTx implements Store
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	staged := s.state.clone()
	if err := fn(&memoryTx{state: staged}); err != nil {
		return err
	}

	s.state = staged
	return nil
}

// GetEntry implements Store
func (s *MemoryStore) GetEntry(ctx context.Context, companyID, entryID string) (*domain.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.state.entries[entryID]
	if !ok || e.CompanyID != companyID {
		return nil, domain.ErrEntryNotFound
	}
	return e.Clone(), nil
}

// ListEntries implements Store with the same ordering and limit rules as PostgresStore
func (s *MemoryStore) ListEntries(ctx context.Context, filter EntryFilter) ([]domain.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TimeEntry
	for _, e := range s.state.entries {
		if e.CompanyID != filter.CompanyID {
			continue
		}
		if filter.WorkerID != "" && e.WorkerID != filter.WorkerID {
			continue
		}
		if filter.JobID != "" && e.JobID != filter.JobID {
			continue
		}
		if filter.Status != "" && string(e.Status) != filter.Status {
			continue
		}
		if filter.ExceptionsOnly && !e.HasException() {
			continue
		}
		if filter.Cursor != nil && !before(e, filter.Cursor) {
			continue
		}
		out = append(out, *e.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

// before reports (created_at, id) < cursor
func before(e *domain.TimeEntry, c *EntryCursor) bool {
	if e.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return e.CreatedAt.Equal(c.CreatedAt) && e.ID < c.EntryID
}

type memoryTx struct {
	state memoryState
}

func (t *memoryTx) LockWorker(ctx context.Context, companyID, workerID string) error {
	return nil
}

func (t *memoryTx) GetIdempotency(ctx context.Context, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	rec, ok := t.state.idempotency[key]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil, domain.ErrIdempotencyNotFound
	}
	c := *rec
	return &c, nil
}

func (t *memoryTx) PutIdempotency(ctx context.Context, rec *domain.IdempotencyRecord) error {
	if existing, ok := t.state.idempotency[rec.Key]; ok && existing.ExpiresAt.After(rec.ProcessedAt) {
		return fmt.Errorf("failed to put idempotency record %s: %w", rec.Key, ErrKeyInUse)
	}
	c := *rec
	t.state.idempotency[rec.Key] = &c
	return nil
}

func (t *memoryTx) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := t.state.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	c := *job
	return &c, nil
}

func (t *memoryTx) IsAssigned(ctx context.Context, jobID, workerID string) (bool, error) {
	return t.state.assignments[jobID][workerID], nil
}

func (t *memoryTx) GetEntry(ctx context.Context, entryID string) (*domain.TimeEntry, error) {
	e, ok := t.state.entries[entryID]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return e.Clone(), nil
}

func (t *memoryTx) GetActiveEntry(ctx context.Context, workerID string) (*domain.TimeEntry, error) {
	for _, e := range t.state.entries {
		if e.WorkerID == workerID && e.Status == domain.EntryStatusActive {
			return e.Clone(), nil
		}
	}
	return nil, domain.ErrEntryNotFound
}

func (t *memoryTx) InsertEntry(ctx context.Context, entry *domain.TimeEntry) error {
	if _, exists := t.state.entries[entry.ID]; exists {
		return fmt.Errorf("failed to insert entry: duplicate id %s", entry.ID)
	}
	if entry.Status == domain.EntryStatusActive {
		for _, e := range t.state.entries {
			if e.WorkerID == entry.WorkerID && e.Status == domain.EntryStatusActive {
				return fmt.Errorf("failed to insert entry: worker %s already has an active entry", entry.WorkerID)
			}
		}
	}
	t.state.entries[entry.ID] = entry.Clone()
	return nil
}

func (t *memoryTx) UpdateEntry(ctx context.Context, entry *domain.TimeEntry) error {
	if _, exists := t.state.entries[entry.ID]; !exists {
		return domain.ErrEntryNotFound
	}
	t.state.entries[entry.ID] = entry.Clone()
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memoryTx)(nil)
)
