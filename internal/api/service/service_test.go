package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/api/storage"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/cuongbtq/fieldclock/internal/eventid"
	"github.com/cuongbtq/fieldclock/internal/geofence"
	"github.com/cuongbtq/fieldclock/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0      = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	onSite  = geofence.Point{Lat: 40.7128, Lng: -74.0060}
	offSite = geofence.Point{Lat: 40.7300, Lng: -74.0060}

	worker1 = domain.Caller{UserID: "w-1", CompanyID: "c-1", Role: domain.RoleWorker}
	worker2 = domain.Caller{UserID: "w-2", CompanyID: "c-1", Role: domain.RoleWorker}
	admin   = domain.Caller{UserID: "a-1", CompanyID: "c-1", Role: domain.RoleAdmin}
	owner   = domain.Caller{UserID: "o-1", CompanyID: "c-1", Role: domain.RoleOwner}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *recordingSink) Publish(ctx context.Context, events []domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type harness struct {
	store *storage.MemoryStore
	clock *fakeClock
	sink  *recordingSink
	svc   *ClockService
	admin *AdminService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := storage.NewMemoryStore()
	store.AddJob(domain.Job{
		ID:        "J1",
		CompanyID: "c-1",
		Name:      "Main St renovation",
		Geofence:  &geofence.Config{Lat: onSite.Lat, Lng: onSite.Lng, RadiusM: 150},
	}, "w-1", "w-2")
	store.AddJob(domain.Job{ID: "J2", CompanyID: "c-1", Name: "Unbounded site"}, "w-1")
	store.AddJob(domain.Job{ID: "J3", CompanyID: "c-1", Name: "Other crew"}, "w-9")

	fc := &fakeClock{t: t0}
	sink := &recordingSink{}
	log := logger.NewNop()
	audit := NewAuditWriter(sink, log)

	return &harness{
		store: store,
		clock: fc,
		sink:  sink,
		svc:   NewClockService(store, audit, log, ClockOptions{Now: fc.Now}),
		admin: NewAdminService(store, audit, log, fc.Now),
	}
}

// event builds a request created and stamped at the given instant
func event(jobID string, at time.Time, geo *geofence.Point) clock.EventRequest {
	return clock.EventRequest{
		JobID:    jobID,
		At:       at.UnixMilli(),
		ClientID: eventid.New(at),
		Geo:      geo,
	}
}

func requireCode(t *testing.T, err error, code clock.Code, reason clock.Reason) {
	t.Helper()
	require.Error(t, err)
	de, ok := domain.AsError(err)
	require.True(t, ok, "expected *domain.Error, got %T: %v", err, err)
	assert.Equal(t, code, de.Code)
	assert.Equal(t, reason, de.Reason)
}

func (h *harness) entry(t *testing.T, id string) *domain.TimeEntry {
	t.Helper()
	e, err := h.store.GetEntry(context.Background(), "c-1", id)
	require.NoError(t, err)
	return e
}

func TestClockIn_IdempotentSequential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := event("J1", t0, &onSite)

	first, err := h.svc.ClockIn(ctx, worker1, req)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		h.clock.Advance(time.Minute)
		again, err := h.svc.ClockIn(ctx, worker1, req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	assert.Equal(t, 1, h.store.CountEntries("w-1"))
	assert.Equal(t, 1, h.sink.Len(), "replays publish nothing")
}

func TestClockIn_IdempotentConcurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := event("J1", t0, &onSite)

	const n = 16
	responses := make([]*clock.EventResponse, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = h.svc.ClockIn(ctx, worker1, req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, responses[0], responses[i])
	}
	assert.Equal(t, 1, h.store.CountEntries("w-1"))
}

func TestClockIn_SingleOpenShiftAcrossDevices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Two devices, two distinct client ids, same worker
	phone := event("J1", t0, &onSite)
	tablet := event("J1", t0.Add(time.Second), &onSite)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, req := range []clock.EventRequest{phone, tablet} {
		wg.Add(1)
		go func(i int, req clock.EventRequest) {
			defer wg.Done()
			_, errs[i] = h.svc.ClockIn(ctx, worker1, req)
		}(i, req)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonAlreadyClockedIn)
		rejected++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	active, err := h.admin.ListEntries(ctx, admin, storage.EntryFilter{Status: string(domain.EntryStatusActive), PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestClockIn_Freshness(t *testing.T) {
	tests := []struct {
		name    string
		created time.Time
		reason  clock.Reason
	}{
		{name: "23h59m old is accepted", created: t0.Add(-23*time.Hour - 59*time.Minute)},
		{name: "25h old is rejected", created: t0.Add(-25 * time.Hour), reason: clock.ReasonEventExpired},
		{name: "6m in the future is rejected", created: t0.Add(6 * time.Minute), reason: clock.ReasonClockSkew},
		{name: "4m in the future is tolerated", created: t0.Add(4 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			_, err := h.svc.ClockIn(context.Background(), worker1, event("J1", tt.created, &onSite))
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, 1, h.store.CountEntries("w-1"))
				return
			}
			requireCode(t, err, clock.CodeFailedPrecondition, tt.reason)
			assert.Equal(t, 0, h.store.CountEntries("w-1"))
		})
	}
}

func TestClockIn_ReplayAfterWindowIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := event("J1", t0, &onSite)

	_, err := h.svc.ClockIn(ctx, worker1, req)
	require.NoError(t, err)

	// The freshness check runs before the idempotency lookup
	h.clock.Advance(25 * time.Hour)
	_, err = h.svc.ClockIn(ctx, worker1, req)
	requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonEventExpired)
}

func TestClockIn_MalformedClientID(t *testing.T) {
	h := newHarness(t)
	req := event("J1", t0, &onSite)
	req.ClientID = "not-an-id"

	_, err := h.svc.ClockIn(context.Background(), worker1, req)
	requireCode(t, err, clock.CodeInvalidArgument, clock.ReasonInvalidRequest)
}

func TestClockIn_GeofenceIsNonBlocking(t *testing.T) {
	tests := []struct {
		name        string
		jobID       string
		geo         *geofence.Point
		wantValid   bool
		wantMissing bool
	}{
		{name: "on site", jobID: "J1", geo: &onSite, wantValid: true},
		{name: "off site", jobID: "J1", geo: &offSite, wantValid: false},
		{name: "location denied", jobID: "J1", geo: nil, wantValid: false, wantMissing: true},
		{name: "job without geofence", jobID: "J2", geo: &offSite, wantValid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			resp, err := h.svc.ClockIn(context.Background(), worker1, event(tt.jobID, t0, tt.geo))
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.wantValid, resp.GeofenceValid)
			assert.Equal(t, tt.wantMissing, resp.GPSMissing)

			e := h.entry(t, resp.EntryID)
			assert.Equal(t, domain.EntryStatusActive, e.Status)
			assert.Equal(t, tt.wantValid, e.ClockInGeofenceValid)
		})
	}
}

func TestClockIn_Authorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.ClockIn(ctx, worker1, event("J3", t0, &onSite))
	requireCode(t, err, clock.CodePermissionDenied, clock.ReasonNotAssigned)

	_, err = h.svc.ClockIn(ctx, worker1, event("J404", t0, &onSite))
	requireCode(t, err, clock.CodeNotFound, clock.ReasonJobNotFound)

	req := event("J1", t0, &onSite)
	req.WorkerID = "w-2"
	_, err = h.svc.ClockIn(ctx, worker1, req)
	requireCode(t, err, clock.CodePermissionDenied, clock.ReasonIdentityMismatch)

	assert.Equal(t, 0, h.store.CountEntries("w-1"))
}

func TestClockIn_KeyReusedByAnotherWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := event("J1", t0, &onSite)

	_, err := h.svc.ClockIn(ctx, worker1, req)
	require.NoError(t, err)

	_, err = h.svc.ClockIn(ctx, worker2, req)
	requireCode(t, err, clock.CodePermissionDenied, clock.ReasonIdentityMismatch)
	assert.Equal(t, 0, h.store.CountEntries("w-2"))
}

func TestClockIn_MissingEntryIsDataIntegrityError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := event("J1", t0, &onSite)

	resp, err := h.svc.ClockIn(ctx, worker1, req)
	require.NoError(t, err)

	h.store.DeleteEntry(resp.EntryID)

	_, err = h.svc.ClockIn(ctx, worker1, req)
	requireCode(t, err, clock.CodeInternal, clock.ReasonDataIntegrity)
	assert.Equal(t, 0, h.store.CountEntries("w-1"), "no second entry is created")
}

func TestScenarioA_OfflineClockInSyncedLater(t *testing.T) {
	h := newHarness(t)

	// Recorded offline at T0, delivered on reconnect ten minutes later
	req := event("J1", t0, &onSite)
	h.clock.Advance(10 * time.Minute)

	resp, err := h.svc.ClockIn(context.Background(), worker1, req)
	require.NoError(t, err)

	assert.Equal(t, 1, h.store.CountEntries("w-1"))
	e := h.entry(t, resp.EntryID)
	assert.True(t, t0.Equal(e.ClockIn))
	assert.Equal(t, req.ClientID, e.ClientEventID)
}

func TestScenarioB_SecondClockInRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.ClockIn(ctx, worker1, event("J1", t0, &onSite))
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	_, err = h.svc.ClockIn(ctx, worker1, event("J1", h.clock.Now(), &onSite))
	requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonAlreadyClockedIn)
	assert.Equal(t, 1, h.store.CountEntries("w-1"))
}

func clockedOutEntry(t *testing.T, h *harness) *domain.TimeEntry {
	t.Helper()
	ctx := context.Background()

	in, err := h.svc.ClockIn(ctx, worker1, event("J1", t0, &onSite))
	require.NoError(t, err)

	h.clock.Advance(8 * time.Hour)
	out := event("", h.clock.Now(), &onSite)
	_, err = h.svc.ClockOut(ctx, worker1, out)
	require.NoError(t, err)

	return h.entry(t, in.EntryID)
}

func TestScenarioC_AdminEdits(t *testing.T) {
	t.Run("approved entry is immutable", func(t *testing.T) {
		h := newHarness(t)
		e := clockedOutEntry(t, h)

		_, err := h.admin.ReviewEntry(context.Background(), admin, e.ID, DecisionApprove, "")
		require.NoError(t, err)

		newOut := e.ClockOut.Add(-30 * time.Minute)
		_, err = h.admin.EditEntry(context.Background(), admin, e.ID, EditRequest{Reason: "left early", ClockOut: &newOut})
		requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonEntryImmutable)
	})

	t.Run("pending entry edit appends one record and keeps status", func(t *testing.T) {
		h := newHarness(t)
		e := clockedOutEntry(t, h)
		logBefore := len(e.AuditLog)

		newOut := e.ClockOut.Add(-30 * time.Minute)
		edited, err := h.admin.EditEntry(context.Background(), admin, e.ID, EditRequest{Reason: "left early", ClockOut: &newOut})
		require.NoError(t, err)

		assert.Equal(t, domain.EntryStatusPending, edited.Status)
		require.Len(t, edited.AuditLog, logBefore+1)

		record := edited.AuditLog[len(edited.AuditLog)-1]
		assert.Equal(t, "a-1", record.EditedBy)
		assert.Equal(t, "left early", record.Reason)
		require.Len(t, record.Changes, 1)
		change := record.Changes[domain.FieldClockOut]
		require.NotNil(t, change.Before)
		require.NotNil(t, change.After)
		assert.Equal(t, e.ClockOut.Format(time.RFC3339Nano), *change.Before)
		assert.Equal(t, newOut.Format(time.RFC3339Nano), *change.After)
	})
}

func TestClockOut(t *testing.T) {
	t.Run("without active entry", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.ClockOut(context.Background(), worker1, event("", t0, &onSite))
		requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonNoActiveEntry)
	})

	t.Run("with mismatched entry id", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.svc.ClockIn(ctx, worker1, event("J1", t0, &onSite))
		require.NoError(t, err)

		req := event("", t0.Add(time.Hour), &onSite)
		req.TimeEntryID = "some-other-entry"
		_, err = h.svc.ClockOut(ctx, worker1, req)
		requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonNoActiveEntry)
	})

	t.Run("closes shift and open break", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		in, err := h.svc.ClockIn(ctx, worker1, event("J1", t0, &onSite))
		require.NoError(t, err)

		h.clock.Advance(4 * time.Hour)
		_, err = h.svc.StartBreak(ctx, worker1, event("", h.clock.Now(), nil))
		require.NoError(t, err)

		h.clock.Advance(4 * time.Hour)
		outAt := h.clock.Now()
		req := event("", outAt, &offSite)
		req.TimeEntryID = in.EntryID
		out, err := h.svc.ClockOut(ctx, worker1, req)
		require.NoError(t, err)
		assert.Equal(t, in.EntryID, out.EntryID)
		assert.False(t, out.GeofenceValid)

		e := h.entry(t, in.EntryID)
		assert.Equal(t, domain.EntryStatusPending, e.Status)
		require.NotNil(t, e.ClockOut)
		assert.True(t, outAt.Equal(*e.ClockOut))
		require.Len(t, e.Breaks, 1)
		require.NotNil(t, e.Breaks[0].End)
		assert.True(t, outAt.Equal(*e.Breaks[0].End))

		last := e.AuditLog[len(e.AuditLog)-1]
		assert.Equal(t, string(clock.OpClockOut), last.Reason)
		assert.Equal(t, "Active", *last.Changes[domain.FieldStatus].Before)
		assert.Equal(t, "Pending", *last.Changes[domain.FieldStatus].After)
		assert.Nil(t, last.Changes[domain.FieldClockOut].Before)
	})
}

func TestBreaks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.StartBreak(ctx, worker1, event("", t0, nil))
	requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonNoActiveEntry)

	in, err := h.svc.ClockIn(ctx, worker1, event("J1", t0, &onSite))
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	_, err = h.svc.EndBreak(ctx, worker1, event("", h.clock.Now(), nil))
	requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonNoOpenBreak)

	h.clock.Advance(time.Hour)
	start := h.clock.Now()
	_, err = h.svc.StartBreak(ctx, worker1, event("", start, nil))
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	_, err = h.svc.StartBreak(ctx, worker1, event("", h.clock.Now(), nil))
	requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonBreakAlreadyOpen)

	h.clock.Advance(29 * time.Minute)
	end := h.clock.Now()
	_, err = h.svc.EndBreak(ctx, worker1, event("", end, nil))
	require.NoError(t, err)

	e := h.entry(t, in.EntryID)
	require.Len(t, e.Breaks, 1)
	assert.True(t, start.Equal(e.Breaks[0].Start))
	require.NotNil(t, e.Breaks[0].End)
	assert.True(t, end.Equal(*e.Breaks[0].End))
	assert.Equal(t, domain.EntryStatusActive, e.Status)
}

func TestDispute(t *testing.T) {
	t.Run("pending entry becomes disputed", func(t *testing.T) {
		h := newHarness(t)
		e := clockedOutEntry(t, h)

		notes := "forgot to clock out on time"
		req := event("", h.clock.Now(), nil)
		req.Notes = &notes
		resp, err := h.svc.Dispute(context.Background(), worker1, e.ID, req)
		require.NoError(t, err)
		assert.Equal(t, e.ID, resp.EntryID)

		got := h.entry(t, e.ID)
		assert.Equal(t, domain.EntryStatusDisputed, got.Status)
		assert.Equal(t, notes, *got.Notes)
	})

	t.Run("active entry is not disputable", func(t *testing.T) {
		h := newHarness(t)
		in, err := h.svc.ClockIn(context.Background(), worker1, event("J1", t0, &onSite))
		require.NoError(t, err)

		_, err = h.svc.Dispute(context.Background(), worker1, in.EntryID, event("", t0.Add(time.Minute), nil))
		requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonNotDisputable)
	})

	t.Run("another worker's entry", func(t *testing.T) {
		h := newHarness(t)
		e := clockedOutEntry(t, h)

		_, err := h.svc.Dispute(context.Background(), worker2, e.ID, event("", h.clock.Now(), nil))
		requireCode(t, err, clock.CodePermissionDenied, clock.ReasonIdentityMismatch)
	})

	t.Run("unknown entry", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Dispute(context.Background(), worker1, "missing", event("", t0, nil))
		requireCode(t, err, clock.CodeNotFound, clock.ReasonEntryNotFound)
	})
}

func TestAdminReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := clockedOutEntry(t, h)

	_, err := h.admin.ReviewEntry(ctx, worker1, e.ID, DecisionApprove, "")
	requireCode(t, err, clock.CodePermissionDenied, "")

	_, err = h.admin.ReviewEntry(ctx, admin, e.ID, DecisionFlag, "")
	requireCode(t, err, clock.CodeInvalidArgument, clock.ReasonInvalidRequest)

	flagged, err := h.admin.ReviewEntry(ctx, admin, e.ID, DecisionFlag, "outside geofence")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusFlagged, flagged.Status)

	approved, err := h.admin.ReviewEntry(ctx, admin, e.ID, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusApproved, approved.Status)

	_, err = h.admin.ReviewEntry(ctx, admin, e.ID, DecisionFlag, "again")
	requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonInvalidTransition)
}

func TestAdminEdit_Rules(t *testing.T) {
	ctx := context.Background()

	t.Run("no-op edit is rejected", func(t *testing.T) {
		h := newHarness(t)
		e := clockedOutEntry(t, h)

		same := *e.ClockOut
		_, err := h.admin.EditEntry(ctx, admin, e.ID, EditRequest{Reason: "typo", ClockOut: &same})
		requireCode(t, err, clock.CodeInvalidArgument, clock.ReasonInvalidRequest)
	})

	t.Run("reason is required", func(t *testing.T) {
		h := newHarness(t)
		e := clockedOutEntry(t, h)

		notes := "x"
		_, err := h.admin.EditEntry(ctx, admin, e.ID, EditRequest{Notes: &notes})
		requireCode(t, err, clock.CodeInvalidArgument, clock.ReasonInvalidRequest)
	})

	t.Run("owner override edits approved entry", func(t *testing.T) {
		h := newHarness(t)
		e := clockedOutEntry(t, h)
		_, err := h.admin.ReviewEntry(ctx, admin, e.ID, DecisionApprove, "")
		require.NoError(t, err)

		// admin role cannot override
		job := "J2"
		_, err = h.admin.EditEntry(ctx, admin, e.ID, EditRequest{Reason: "wrong site", JobID: &job, Override: true})
		requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonEntryImmutable)

		edited, err := h.admin.EditEntry(ctx, owner, e.ID, EditRequest{Reason: "wrong site", JobID: &job, Override: true})
		require.NoError(t, err)
		assert.Equal(t, "J2", edited.JobID)
		assert.Equal(t, domain.EntryStatusApproved, edited.Status)
	})

	t.Run("active entry cannot be edited", func(t *testing.T) {
		h := newHarness(t)
		in, err := h.svc.ClockIn(ctx, worker1, event("J1", t0, &onSite))
		require.NoError(t, err)

		notes := "x"
		_, err = h.admin.EditEntry(ctx, admin, in.EntryID, EditRequest{Reason: "r", Notes: &notes})
		requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonInvalidTransition)
	})

	t.Run("clock out before clock in", func(t *testing.T) {
		h := newHarness(t)
		e := clockedOutEntry(t, h)

		bad := e.ClockIn.Add(-time.Hour)
		_, err := h.admin.EditEntry(ctx, admin, e.ID, EditRequest{Reason: "r", ClockOut: &bad})
		requireCode(t, err, clock.CodeInvalidArgument, clock.ReasonInvalidRequest)
	})

	t.Run("unknown job", func(t *testing.T) {
		h := newHarness(t)
		e := clockedOutEntry(t, h)

		job := "J404"
		_, err := h.admin.EditEntry(ctx, admin, e.ID, EditRequest{Reason: "r", JobID: &job})
		requireCode(t, err, clock.CodeNotFound, clock.ReasonJobNotFound)
	})
}

func TestAdminListEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.ClockIn(ctx, worker1, event("J1", t0, &offSite))
	require.NoError(t, err)
	_, err = h.svc.ClockIn(ctx, worker2, event("J1", t0.Add(time.Second), &onSite))
	require.NoError(t, err)

	_, err = h.admin.ListEntries(ctx, worker1, storage.EntryFilter{PageSize: 10})
	requireCode(t, err, clock.CodePermissionDenied, "")

	all, err := h.admin.ListEntries(ctx, admin, storage.EntryFilter{PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	exceptions, err := h.admin.ListEntries(ctx, admin, storage.EntryFilter{PageSize: 10, ExceptionsOnly: true})
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, "w-1", exceptions[0].WorkerID)

	_, err = h.admin.ListEntries(ctx, admin, storage.EntryFilter{PageSize: 10, Status: "Lost"})
	requireCode(t, err, clock.CodeInvalidArgument, clock.ReasonInvalidRequest)
}

func TestAuditEventsPublishedAfterCommit(t *testing.T) {
	h := newHarness(t)
	e := clockedOutEntry(t, h)

	require.Equal(t, 2, h.sink.Len())
	assert.Equal(t, string(clock.OpClockIn), h.sink.events[0].Action)
	assert.Equal(t, string(clock.OpClockOut), h.sink.events[1].Action)
	assert.Equal(t, e.ID, h.sink.events[1].EntryID)

	_, err := h.svc.ClockIn(context.Background(), worker1, event("J1", t0.Add(-25*time.Hour), &onSite))
	requireCode(t, err, clock.CodeFailedPrecondition, clock.ReasonEventExpired)
	assert.Equal(t, 2, h.sink.Len(), "rejections publish nothing")
}

func TestClockIn_ReplayOfFutureStampedEventNearWindowEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Device clock runs four minutes ahead of the server
	req := event("J1", t0.Add(4*time.Minute), &onSite)

	first, err := h.svc.ClockIn(ctx, worker1, req)
	require.NoError(t, err)

	// Still inside the replay window measured from the event id
	h.clock.Advance(24*time.Hour + 2*time.Minute)

	again, err := h.svc.ClockIn(ctx, worker1, req)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, h.store.CountEntries("w-1"))
}
