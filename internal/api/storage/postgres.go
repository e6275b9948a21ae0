package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/geofence"
	"github.com/cuongbtq/fieldclock/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore is the production Store
type PostgresStore struct {
	client *postgresql.Client
	db     *sqlx.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(client *postgresql.Client) *PostgresStore {
	return &PostgresStore{
		client: client,
		db:     client.GetDB(),
	}
}

// Migrate creates the tables and indexes if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// RunInTx implements Store
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	err := s.client.RunInTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	if err != nil && postgresql.IsRetryable(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

const entryColumns = `
	id, client_event_id, company_id, worker_id, job_id, status,
	clock_in, clock_in_lat, clock_in_lng, clock_in_accuracy_m, clock_in_geofence_valid, clock_in_gps_missing,
	clock_out, clock_out_lat, clock_out_lng, clock_out_accuracy_m, clock_out_geofence_valid, clock_out_gps_missing,
	breaks, notes, audit_log, created_at, updated_at`

// entryRow is the flat column layout of time_entries
type entryRow struct {
	ID                    string     `db:"id"`
	ClientEventID         string     `db:"client_event_id"`
	CompanyID             string     `db:"company_id"`
	WorkerID              string     `db:"worker_id"`
	JobID                 string     `db:"job_id"`
	Status                string     `db:"status"`
	ClockIn               time.Time  `db:"clock_in"`
	ClockInLat            *float64   `db:"clock_in_lat"`
	ClockInLng            *float64   `db:"clock_in_lng"`
	ClockInAccuracyM      *float64   `db:"clock_in_accuracy_m"`
	ClockInGeofenceValid  bool       `db:"clock_in_geofence_valid"`
	ClockInGPSMissing     bool       `db:"clock_in_gps_missing"`
	ClockOut              *time.Time `db:"clock_out"`
	ClockOutLat           *float64   `db:"clock_out_lat"`
	ClockOutLng           *float64   `db:"clock_out_lng"`
	ClockOutAccuracyM     *float64   `db:"clock_out_accuracy_m"`
	ClockOutGeofenceValid *bool      `db:"clock_out_geofence_valid"`
	ClockOutGPSMissing    *bool      `db:"clock_out_gps_missing"`
	Breaks                []byte     `db:"breaks"`
	Notes                 *string    `db:"notes"`
	AuditLog              []byte     `db:"audit_log"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

func pointFrom(lat, lng *float64) *geofence.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &geofence.Point{Lat: *lat, Lng: *lng}
}

func pointParts(p *geofence.Point) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lng := p.Lat, p.Lng
	return &lat, &lng
}

func (r *entryRow) toDomain() (*domain.TimeEntry, error) {
	e := &domain.TimeEntry{
		ID:                    r.ID,
		ClientEventID:         r.ClientEventID,
		CompanyID:             r.CompanyID,
		WorkerID:              r.WorkerID,
		JobID:                 r.JobID,
		Status:                domain.EntryStatus(r.Status),
		ClockIn:               r.ClockIn.UTC(),
		ClockInLocation:       pointFrom(r.ClockInLat, r.ClockInLng),
		ClockInAccuracyM:      r.ClockInAccuracyM,
		ClockInGeofenceValid:  r.ClockInGeofenceValid,
		ClockInGPSMissing:     r.ClockInGPSMissing,
		ClockOutLocation:      pointFrom(r.ClockOutLat, r.ClockOutLng),
		ClockOutAccuracyM:     r.ClockOutAccuracyM,
		ClockOutGeofenceValid: r.ClockOutGeofenceValid,
		ClockOutGPSMissing:    r.ClockOutGPSMissing,
		Notes:                 r.Notes,
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
	if r.ClockOut != nil {
		out := r.ClockOut.UTC()
		e.ClockOut = &out
	}
	if err := json.Unmarshal(r.Breaks, &e.Breaks); err != nil {
		return nil, fmt.Errorf("failed to decode breaks of entry %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.AuditLog, &e.AuditLog); err != nil {
		return nil, fmt.Errorf("failed to decode audit log of entry %s: %w", r.ID, err)
	}
	return e, nil
}

func entryArgs(e *domain.TimeEntry) (map[string]interface{}, error) {
	breaks := e.Breaks
	if breaks == nil {
		breaks = []domain.Break{}
	}
	breaksJSON, err := json.Marshal(breaks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode breaks: %w", err)
	}

	auditLog := e.AuditLog
	if auditLog == nil {
		auditLog = []domain.AuditRecord{}
	}
	auditJSON, err := json.Marshal(auditLog)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit log: %w", err)
	}

	inLat, inLng := pointParts(e.ClockInLocation)
	outLat, outLng := pointParts(e.ClockOutLocation)

	return map[string]interface{}{
		"id":                       e.ID,
		"client_event_id":          e.ClientEventID,
		"company_id":               e.CompanyID,
		"worker_id":                e.WorkerID,
		"job_id":                   e.JobID,
		"status":                   string(e.Status),
		"clock_in":                 e.ClockIn,
		"clock_in_lat":             inLat,
		"clock_in_lng":             inLng,
		"clock_in_accuracy_m":      e.ClockInAccuracyM,
		"clock_in_geofence_valid":  e.ClockInGeofenceValid,
		"clock_in_gps_missing":     e.ClockInGPSMissing,
		"clock_out":                e.ClockOut,
		"clock_out_lat":            outLat,
		"clock_out_lng":            outLng,
		"clock_out_accuracy_m":     e.ClockOutAccuracyM,
		"clock_out_geofence_valid": e.ClockOutGeofenceValid,
		"clock_out_gps_missing":    e.ClockOutGPSMissing,
		"breaks":                   string(breaksJSON),
		"notes":                    e.Notes,
		"audit_log":                string(auditJSON),
		"created_at":               e.CreatedAt,
		"updated_at":               e.UpdatedAt,
	}, nil
}

// GetEntry implements Store
func (s *PostgresStore) GetEntry(ctx context.Context, companyID, entryID string) (*domain.TimeEntry, error) {
	var row entryRow
	query := `SELECT` + entryColumns + ` FROM time_entries WHERE id = $1 AND company_id = $2`

	if err := s.db.GetContext(ctx, &row, query, entryID, companyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return row.toDomain()
}

// ListEntries implements Store
func (s *PostgresStore) ListEntries(ctx context.Context, filter EntryFilter) ([]domain.TimeEntry, error) {
	query := `SELECT` + entryColumns + ` FROM time_entries WHERE company_id = $1`
	args := []interface{}{filter.CompanyID}
	argIdx := 2

	if filter.WorkerID != "" {
		query += fmt.Sprintf(" AND worker_id = $%d", argIdx)
		args = append(args, filter.WorkerID)
		argIdx++
	}

	if filter.JobID != "" {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.ExceptionsOnly {
		query += ` AND (NOT clock_in_geofence_valid OR clock_in_gps_missing
			OR clock_out_geofence_valid IS FALSE OR clock_out_gps_missing IS TRUE)`
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.EntryID)
		argIdx += 2
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]domain.TimeEntry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockWorker(ctx context.Context, companyID, workerID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO worker_shift_state (worker_id, company_id)
		VALUES ($1, $2)
		ON CONFLICT (worker_id) DO NOTHING`, workerID, companyID)
	if err != nil {
		return fmt.Errorf("failed to ensure shift state: %w", err)
	}

	var locked string
	err = t.tx.GetContext(ctx, &locked, `
		SELECT worker_id FROM worker_shift_state
		WHERE worker_id = $1
		FOR UPDATE`, workerID)
	if err != nil {
		return fmt.Errorf("failed to lock shift state: %w", err)
	}
	return nil
}

func (t *pgTx) GetIdempotency(ctx context.Context, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := t.tx.GetContext(ctx, &rec, `
		SELECT key, operation, worker_id, entry_id, result_snapshot, processed_at, expires_at
		FROM idempotency_records
		WHERE key = $1 AND expires_at > $2`, key, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrIdempotencyNotFound
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	return &rec, nil
}

func (t *pgTx) PutIdempotency(ctx context.Context, rec *domain.IdempotencyRecord) error {
	// jsonb columns take text; lib/pq would send []byte as bytea.
	// An expired record the sweeper has not collected yet is taken over in place.
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, operation, worker_id, entry_id, result_snapshot, processed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			operation = EXCLUDED.operation,
			worker_id = EXCLUDED.worker_id,
			entry_id = EXCLUDED.entry_id,
			result_snapshot = EXCLUDED.result_snapshot,
			processed_at = EXCLUDED.processed_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= EXCLUDED.processed_at`,
		rec.Key, string(rec.Operation), rec.WorkerID, rec.EntryID, string(rec.ResultSnapshot), rec.ProcessedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to put idempotency record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to put idempotency record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to put idempotency record %s: %w", rec.Key, ErrKeyInUse)
	}
	return nil
}

type jobRow struct {
	ID        string   `db:"id"`
	CompanyID string   `db:"company_id"`
	Name      string   `db:"name"`
	Lat       *float64 `db:"geofence_lat"`
	Lng       *float64 `db:"geofence_lng"`
	RadiusM   *float64 `db:"geofence_radius_m"`
}

func (t *pgTx) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT id, company_id, name, geofence_lat, geofence_lng, geofence_radius_m
		FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job := &domain.Job{ID: row.ID, CompanyID: row.CompanyID, Name: row.Name}
	if row.Lat != nil && row.Lng != nil && row.RadiusM != nil {
		job.Geofence = &geofence.Config{Lat: *row.Lat, Lng: *row.Lng, RadiusM: *row.RadiusM}
	}
	return job, nil
}

func (t *pgTx) IsAssigned(ctx context.Context, jobID, workerID string) (bool, error) {
	var assigned bool
	err := t.tx.GetContext(ctx, &assigned, `
		SELECT EXISTS (SELECT 1 FROM job_assignments WHERE job_id = $1 AND worker_id = $2)`, jobID, workerID)
	if err != nil {
		return false, fmt.Errorf("failed to check assignment: %w", err)
	}
	return assigned, nil
}

func (t *pgTx) GetEntry(ctx context.Context, entryID string) (*domain.TimeEntry, error) {
	var row entryRow
	query := `SELECT` + entryColumns + ` FROM time_entries WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &row, query, entryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return row.toDomain()
}

func (t *pgTx) GetActiveEntry(ctx context.Context, workerID string) (*domain.TimeEntry, error) {
	var row entryRow
	query := `SELECT` + entryColumns + ` FROM time_entries WHERE worker_id = $1 AND status = $2 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &row, query, workerID, string(domain.EntryStatusActive)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get active entry: %w", err)
	}
	return row.toDomain()
}

func (t *pgTx) InsertEntry(ctx context.Context, entry *domain.TimeEntry) error {
	args, err := entryArgs(entry)
	if err != nil {
		return err
	}

	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO time_entries (`+entryColumns+`) VALUES (
			:id, :client_event_id, :company_id, :worker_id, :job_id, :status,
			:clock_in, :clock_in_lat, :clock_in_lng, :clock_in_accuracy_m, :clock_in_geofence_valid, :clock_in_gps_missing,
			:clock_out, :clock_out_lat, :clock_out_lng, :clock_out_accuracy_m, :clock_out_geofence_valid, :clock_out_gps_missing,
			:breaks, :notes, :audit_log, :created_at, :updated_at
		)`, args)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateEntry(ctx context.Context, entry *domain.TimeEntry) error {
	args, err := entryArgs(entry)
	if err != nil {
		return err
	}

	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE time_entries SET
			job_id = :job_id,
			status = :status,
			clock_in = :clock_in,
			clock_out = :clock_out,
			clock_out_lat = :clock_out_lat,
			clock_out_lng = :clock_out_lng,
			clock_out_accuracy_m = :clock_out_accuracy_m,
			clock_out_geofence_valid = :clock_out_geofence_valid,
			clock_out_gps_missing = :clock_out_gps_missing,
			breaks = :breaks,
			notes = :notes,
			audit_log = :audit_log,
			updated_at = :updated_at
		WHERE id = :id`, args)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
