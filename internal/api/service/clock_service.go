package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/api/storage"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/cuongbtq/fieldclock/internal/eventid"
	"github.com/cuongbtq/fieldclock/internal/geofence"
	"github.com/google/uuid"
)

// ClockOptions tunes ClockService; zero values fall back to defaults
type ClockOptions struct {
	Window         eventid.Window
	IdempotencyTTL time.Duration
	Now            func() time.Time
}

// ClockService is the authoritative handler for worker clock events
type ClockService struct {
	store  storage.Store
	audit  *AuditWriter
	logger *slog.Logger

	window         eventid.Window
	idempotencyTTL time.Duration
	now            func() time.Time
}

// NewClockService creates a new ClockService
func NewClockService(store storage.Store, audit *AuditWriter, logger *slog.Logger, opts ClockOptions) *ClockService {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = eventid.FreshnessWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ClockService{
		store:          store,
		audit:          audit,
		logger:         logger,
		window:         opts.Window,
		idempotencyTTL: opts.IdempotencyTTL,
		now:            opts.Now,
	}
}

// outcome is what one successful transaction produced
type outcome struct {
	response clock.EventResponse
	events   []domain.AuditEvent
	replayed bool
}

// Handle processes one clock event end to end.
// Dispute carries its entry id in req.TimeEntryID.
func (s *ClockService) Handle(ctx context.Context, caller domain.Caller, op clock.Operation, req clock.EventRequest) (*clock.EventResponse, error) {
	now := s.now().UTC()
	logger := s.logger.With(
		slog.String("operation", string(op)),
		slog.String("worker_id", caller.UserID),
		slog.String("client_id", req.ClientID),
	)

	// Step 1: Validate request shape
	if err := validateRequest(op, req); err != nil {
		return nil, err
	}

	// Step 2: Replay window on both the event id and the event instant
	if err := s.checkFreshness(logger, req, now); err != nil {
		return nil, err
	}

	// Step 3: The payload worker must be the caller
	workerID := caller.UserID
	if req.WorkerID != "" && req.WorkerID != caller.UserID {
		logger.Warn("Rejected clock event for another worker",
			slog.Bool("security", true),
			slog.String("payload_worker_id", req.WorkerID),
		)
		return nil, domain.PermissionDenied(clock.ReasonIdentityMismatch, "caller is not the worker in the payload")
	}

	var result outcome
	err := s.store.RunInTx(ctx, func(tx storage.Tx) error {
		// The body may run more than once; start each attempt clean
		result = outcome{}

		if err := tx.LockWorker(ctx, caller.CompanyID, workerID); err != nil {
			return err
		}

		cached, err := s.lookupIdempotency(ctx, tx, logger, workerID, op, req.ClientID, now)
		if err != nil {
			return err
		}
		if cached != nil {
			result = outcome{response: *cached, replayed: true}
			return nil
		}

		entry, record, err := s.apply(ctx, tx, caller, op, req, now)
		if err != nil {
			return err
		}

		resp := responseFor(op, entry)
		snapshot, err := json.Marshal(resp)
		if err != nil {
			return domain.Internal(clock.ReasonDataIntegrity, fmt.Errorf("failed to encode result snapshot: %w", err))
		}

		err = tx.PutIdempotency(ctx, &domain.IdempotencyRecord{
			Key:            req.ClientID,
			Operation:      op,
			WorkerID:       workerID,
			EntryID:        entry.ID,
			ResultSnapshot: snapshot,
			ProcessedAt:    now,
			ExpiresAt:      s.idempotencyExpiry(req.ClientID, now),
		})
		if err != nil {
			return err
		}

		result = outcome{
			response: resp,
			events:   []domain.AuditEvent{s.audit.Event(entry, string(op), op, record)},
		}
		return nil
	})
	if err != nil {
		de := classify(err)
		if de.Code == clock.CodeInternal || de.Code == clock.CodeUnavailable {
			logger.Error("Clock event failed",
				slog.String("code", string(de.Code)),
				slog.Any("error", err),
			)
		} else {
			logger.Info("Clock event rejected",
				slog.String("code", string(de.Code)),
				slog.String("reason", string(de.Reason)),
			)
		}
		return nil, de
	}

	if result.replayed {
		logger.Info("Clock event replayed from idempotency store",
			slog.String("entry_id", result.response.EntryID),
		)
		return &result.response, nil
	}

	logger.Info("Clock event committed",
		slog.String("entry_id", result.response.EntryID),
		slog.Bool("geofence_valid", result.response.GeofenceValid),
		slog.Bool("gps_missing", result.response.GPSMissing),
	)

	s.audit.Publish(ctx, result.events)
	return &result.response, nil
}

// ClockIn opens a shift
func (s *ClockService) ClockIn(ctx context.Context, caller domain.Caller, req clock.EventRequest) (*clock.EventResponse, error) {
	return s.Handle(ctx, caller, clock.OpClockIn, req)
}

// ClockOut closes the active shift
func (s *ClockService) ClockOut(ctx context.Context, caller domain.Caller, req clock.EventRequest) (*clock.EventResponse, error) {
	return s.Handle(ctx, caller, clock.OpClockOut, req)
}

// StartBreak opens a break in the active shift
func (s *ClockService) StartBreak(ctx context.Context, caller domain.Caller, req clock.EventRequest) (*clock.EventResponse, error) {
	return s.Handle(ctx, caller, clock.OpStartBreak, req)
}

// EndBreak closes the open break in the active shift
func (s *ClockService) EndBreak(ctx context.Context, caller domain.Caller, req clock.EventRequest) (*clock.EventResponse, error) {
	return s.Handle(ctx, caller, clock.OpEndBreak, req)
}

// Dispute lets a worker contest a closed entry
func (s *ClockService) Dispute(ctx context.Context, caller domain.Caller, entryID string, req clock.EventRequest) (*clock.EventResponse, error) {
	req.TimeEntryID = entryID
	return s.Handle(ctx, caller, clock.OpDispute, req)
}

func validateRequest(op clock.Operation, req clock.EventRequest) error {
	if !op.Valid() {
		return domain.InvalidArgument(fmt.Sprintf("unknown operation %q", string(op)))
	}
	if req.ClientID == "" {
		return domain.InvalidArgument("clientId is required")
	}
	if req.At <= 0 {
		return domain.InvalidArgument("at is required")
	}
	if op == clock.OpClockIn && req.JobID == "" {
		return domain.InvalidArgument("jobId is required")
	}
	if op == clock.OpDispute && req.TimeEntryID == "" {
		return domain.InvalidArgument("entry id is required")
	}
	if req.Geo != nil && (req.Geo.Lat < -90 || req.Geo.Lat > 90 || req.Geo.Lng < -180 || req.Geo.Lng > 180) {
		return domain.InvalidArgument("geo is out of range")
	}
	return nil
}

func (s *ClockService) checkFreshness(logger *slog.Logger, req clock.EventRequest, now time.Time) error {
	freshness, err := s.window.ValidateFreshness(req.ClientID, now)
	if err != nil {
		return domain.InvalidArgument("clientId is malformed")
	}
	if freshness == eventid.Fresh {
		freshness = s.window.Classify(req.AtTime(), now)
	}

	switch freshness {
	case eventid.Fresh:
		return nil
	case eventid.Expired:
		logger.Warn("Rejected expired clock event",
			slog.Bool("security", true),
			slog.Time("at", req.AtTime()),
		)
		return domain.Precondition(clock.ReasonEventExpired, "event is older than the replay window")
	case eventid.ClockSkewSuspected:
		logger.Warn("Rejected clock event stamped in the future",
			slog.Bool("security", true),
			slog.Time("at", req.AtTime()),
		)
		return domain.Precondition(clock.ReasonClockSkew, "event timestamp is too far in the future")
	default:
		return domain.Internal("", fmt.Errorf("unhandled freshness %s", freshness))
	}
}

// idempotencyExpiry keeps a record alive for as long as its event could still pass the freshness check
func (s *ClockService) idempotencyExpiry(key string, now time.Time) time.Time {
	expiry := now.Add(s.idempotencyTTL)
	created, err := eventid.CreatedAt(key)
	if err != nil {
		return expiry
	}
	if deadline := s.window.ReplayDeadline(created, now); deadline.After(expiry) {
		return deadline
	}
	return expiry
}

// lookupIdempotency returns the cached response of an already processed event, or nil
func (s *ClockService) lookupIdempotency(ctx context.Context, tx storage.Tx, logger *slog.Logger, workerID string, op clock.Operation, key string, now time.Time) (*clock.EventResponse, error) {
	rec, err := tx.GetIdempotency(ctx, key, now)
	if errors.Is(err, domain.ErrIdempotencyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if rec.WorkerID != workerID {
		logger.Warn("Idempotency key reused by another worker",
			slog.Bool("security", true),
			slog.String("owner_worker_id", rec.WorkerID),
		)
		return nil, domain.PermissionDenied(clock.ReasonIdentityMismatch, "clientId belongs to another worker")
	}
	if rec.Operation != op {
		return nil, domain.InvalidArgument(fmt.Sprintf("clientId was already used for %s", rec.Operation))
	}

	// A record pointing at nothing means the store lost a committed entry; never create a second one
	if _, err := tx.GetEntry(ctx, rec.EntryID); err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			logger.Error("Idempotency record references a missing entry",
				slog.String("entry_id", rec.EntryID),
			)
			return nil, domain.Internal(clock.ReasonDataIntegrity, fmt.Errorf("entry %s missing for key %s", rec.EntryID, key))
		}
		return nil, err
	}

	var resp clock.EventResponse
	if err := json.Unmarshal(rec.ResultSnapshot, &resp); err != nil {
		return nil, domain.Internal(clock.ReasonDataIntegrity, fmt.Errorf("failed to decode result snapshot: %w", err))
	}
	return &resp, nil
}

// apply performs the state change of op inside tx and appends its audit record
func (s *ClockService) apply(ctx context.Context, tx storage.Tx, caller domain.Caller, op clock.Operation, req clock.EventRequest, now time.Time) (*domain.TimeEntry, domain.AuditRecord, error) {
	var (
		entry  *domain.TimeEntry
		before *domain.TimeEntry
		err    error
	)

	switch op {
	case clock.OpClockIn:
		entry, err = s.clockIn(ctx, tx, caller, req, now)
	case clock.OpClockOut:
		entry, before, err = s.clockOut(ctx, tx, caller, req, now)
	case clock.OpStartBreak:
		entry, before, err = s.startBreak(ctx, tx, caller, req)
	case clock.OpEndBreak:
		entry, before, err = s.endBreak(ctx, tx, caller, req)
	case clock.OpDispute:
		entry, before, err = s.dispute(ctx, tx, caller, req)
	default:
		panic(fmt.Sprintf("service: unhandled operation %q", string(op)))
	}
	if err != nil {
		return nil, domain.AuditRecord{}, err
	}

	entry.UpdatedAt = now
	record, _ := s.audit.Append(before, entry, caller.UserID, string(op), now)

	if before == nil {
		err = tx.InsertEntry(ctx, entry)
	} else {
		err = tx.UpdateEntry(ctx, entry)
	}
	if err != nil {
		return nil, domain.AuditRecord{}, err
	}
	return entry, record, nil
}

func (s *ClockService) authorizeJob(ctx context.Context, tx storage.Tx, caller domain.Caller, jobID string) (*domain.Job, error) {
	job, err := tx.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, domain.NotFound(clock.ReasonJobNotFound, "job not found")
	}
	if err != nil {
		return nil, err
	}
	if job.CompanyID != caller.CompanyID {
		return nil, domain.NotFound(clock.ReasonJobNotFound, "job not found")
	}

	assigned, err := tx.IsAssigned(ctx, jobID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		return nil, domain.PermissionDenied(clock.ReasonNotAssigned, "worker is not assigned to this job")
	}
	return job, nil
}

// checkGeofence never blocks; jobs without a boundary accept any reading
func checkGeofence(job *domain.Job, point *geofence.Point, accuracyM *float64) geofence.Result {
	if job.Geofence == nil || job.Geofence.RadiusM <= 0 {
		return geofence.Result{Valid: true, GPSMissing: point == nil, AccuracyM: accuracyM}
	}
	return geofence.Validate(point, accuracyM, *job.Geofence)
}

// logGeofence records the verdict; accuracy is kept for review and never changes it
func (s *ClockService) logGeofence(job *domain.Job, geo geofence.Result) {
	attrs := []any{
		slog.String("job_id", job.ID),
		slog.Bool("valid", geo.Valid),
		slog.Bool("gps_missing", geo.GPSMissing),
		slog.Float64("distance_m", geo.DistanceM),
	}
	if geo.AccuracyM != nil {
		attrs = append(attrs, slog.Float64("accuracy_m", *geo.AccuracyM))
	}
	s.logger.Debug("Geofence evaluated", attrs...)
}

func (s *ClockService) clockIn(ctx context.Context, tx storage.Tx, caller domain.Caller, req clock.EventRequest, now time.Time) (*domain.TimeEntry, error) {
	job, err := s.authorizeJob(ctx, tx, caller, req.JobID)
	if err != nil {
		return nil, err
	}

	active, err := tx.GetActiveEntry(ctx, caller.UserID)
	if err != nil && !errors.Is(err, domain.ErrEntryNotFound) {
		return nil, err
	}
	if active != nil {
		return nil, domain.Precondition(clock.ReasonAlreadyClockedIn, "worker already has an active entry")
	}

	geo := checkGeofence(job, req.Geo, req.AccuracyM)
	s.logGeofence(job, geo)

	return &domain.TimeEntry{
		ID:                   uuid.New().String(),
		ClientEventID:        req.ClientID,
		CompanyID:            caller.CompanyID,
		WorkerID:             caller.UserID,
		JobID:                job.ID,
		Status:               domain.EntryStatusActive,
		ClockIn:              req.AtTime(),
		ClockInLocation:      req.Geo,
		ClockInAccuracyM:     req.AccuracyM,
		ClockInGeofenceValid: geo.Valid,
		ClockInGPSMissing:    geo.GPSMissing,
		Breaks:               []domain.Break{},
		Notes:                trimmed(req.Notes),
		CreatedAt:            now,
	}, nil
}

// activeEntry loads the worker's open shift, checking it against an optional expected id
func activeEntry(ctx context.Context, tx storage.Tx, caller domain.Caller, expectedID string) (*domain.TimeEntry, error) {
	active, err := tx.GetActiveEntry(ctx, caller.UserID)
	if errors.Is(err, domain.ErrEntryNotFound) {
		return nil, domain.Precondition(clock.ReasonNoActiveEntry, "worker has no active entry")
	}
	if err != nil {
		return nil, err
	}
	if expectedID != "" && active.ID != expectedID {
		return nil, domain.Precondition(clock.ReasonNoActiveEntry, "entry is not the worker's active entry")
	}
	return active, nil
}

func (s *ClockService) clockOut(ctx context.Context, tx storage.Tx, caller domain.Caller, req clock.EventRequest, now time.Time) (*domain.TimeEntry, *domain.TimeEntry, error) {
	entry, err := activeEntry(ctx, tx, caller, req.TimeEntryID)
	if err != nil {
		return nil, nil, err
	}

	at := req.AtTime()
	if at.Before(entry.ClockIn) {
		return nil, nil, domain.InvalidArgument("clock out precedes clock in")
	}

	job, err := tx.GetJob(ctx, entry.JobID)
	if err != nil {
		return nil, nil, err
	}
	geo := checkGeofence(job, req.Geo, req.AccuracyM)
	s.logGeofence(job, geo)

	before := entry.Clone()

	// An open break ends with the shift
	if i := entry.OpenBreak(); i >= 0 {
		entry.Breaks[i].End = &at
	}

	entry.Status = domain.EntryStatusPending
	entry.ClockOut = &at
	entry.ClockOutLocation = req.Geo
	entry.ClockOutAccuracyM = req.AccuracyM
	entry.ClockOutGeofenceValid = &geo.Valid
	entry.ClockOutGPSMissing = &geo.GPSMissing
	if notes := trimmed(req.Notes); notes != nil {
		entry.Notes = notes
	}

	return entry, before, nil
}

func (s *ClockService) startBreak(ctx context.Context, tx storage.Tx, caller domain.Caller, req clock.EventRequest) (*domain.TimeEntry, *domain.TimeEntry, error) {
	entry, err := activeEntry(ctx, tx, caller, req.TimeEntryID)
	if err != nil {
		return nil, nil, err
	}
	if entry.OpenBreak() >= 0 {
		return nil, nil, domain.Precondition(clock.ReasonBreakAlreadyOpen, "a break is already open")
	}

	at := req.AtTime()
	if at.Before(entry.ClockIn) {
		return nil, nil, domain.InvalidArgument("break starts before clock in")
	}

	before := entry.Clone()
	entry.Breaks = append(entry.Breaks, domain.Break{Start: at})
	return entry, before, nil
}

func (s *ClockService) endBreak(ctx context.Context, tx storage.Tx, caller domain.Caller, req clock.EventRequest) (*domain.TimeEntry, *domain.TimeEntry, error) {
	entry, err := activeEntry(ctx, tx, caller, req.TimeEntryID)
	if err != nil {
		return nil, nil, err
	}

	i := entry.OpenBreak()
	if i < 0 {
		return nil, nil, domain.Precondition(clock.ReasonNoOpenBreak, "no break is open")
	}

	at := req.AtTime()
	if at.Before(entry.Breaks[i].Start) {
		return nil, nil, domain.InvalidArgument("break ends before it starts")
	}

	before := entry.Clone()
	entry.Breaks[i].End = &at
	return entry, before, nil
}

func (s *ClockService) dispute(ctx context.Context, tx storage.Tx, caller domain.Caller, req clock.EventRequest) (*domain.TimeEntry, *domain.TimeEntry, error) {
	entry, err := tx.GetEntry(ctx, req.TimeEntryID)
	if errors.Is(err, domain.ErrEntryNotFound) {
		return nil, nil, domain.NotFound(clock.ReasonEntryNotFound, "time entry not found")
	}
	if err != nil {
		return nil, nil, err
	}
	if entry.CompanyID != caller.CompanyID {
		return nil, nil, domain.NotFound(clock.ReasonEntryNotFound, "time entry not found")
	}
	if entry.WorkerID != caller.UserID {
		return nil, nil, domain.PermissionDenied(clock.ReasonIdentityMismatch, "entry belongs to another worker")
	}
	if entry.Status != domain.EntryStatusPending && entry.Status != domain.EntryStatusFlagged {
		return nil, nil, domain.Precondition(clock.ReasonNotDisputable, fmt.Sprintf("%s entries cannot be disputed", entry.Status))
	}

	before := entry.Clone()
	entry.Status = domain.EntryStatusDisputed
	if notes := trimmed(req.Notes); notes != nil {
		entry.Notes = notes
	}
	return entry, before, nil
}

// responseFor builds the cached response; geofence flags come from the punch the operation recorded
func responseFor(op clock.Operation, entry *domain.TimeEntry) clock.EventResponse {
	resp := clock.EventResponse{Success: true, EntryID: entry.ID, GeofenceValid: true}

	switch op {
	case clock.OpClockIn:
		resp.GeofenceValid = entry.ClockInGeofenceValid
		resp.GPSMissing = entry.ClockInGPSMissing
	case clock.OpClockOut:
		if entry.ClockOutGeofenceValid != nil {
			resp.GeofenceValid = *entry.ClockOutGeofenceValid
		}
		if entry.ClockOutGPSMissing != nil {
			resp.GPSMissing = *entry.ClockOutGPSMissing
		}
	case clock.OpStartBreak, clock.OpEndBreak, clock.OpDispute:
		// no location is taken
	default:
		panic(fmt.Sprintf("service: unhandled operation %q", string(op)))
	}
	return resp
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
