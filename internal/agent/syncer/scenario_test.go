package syncer

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/fieldclock/internal/agent/queue"
	"github.com/cuongbtq/fieldclock/internal/agent/transport"
	"github.com/cuongbtq/fieldclock/internal/api/auth"
	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/api/handler"
	"github.com/cuongbtq/fieldclock/internal/api/router"
	"github.com/cuongbtq/fieldclock/internal/api/service"
	"github.com/cuongbtq/fieldclock/internal/api/storage"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/cuongbtq/fieldclock/internal/geofence"
	"github.com/cuongbtq/fieldclock/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyLink forwards to the real client and can drop the request or the response
type flakyLink struct {
	next         Transport
	offline      atomic.Bool
	dropResponse atomic.Bool
}

func (l *flakyLink) Send(ctx context.Context, op clock.Operation, req clock.EventRequest, entryID string) (*clock.EventResponse, error) {
	if l.offline.Load() {
		return offline(op, req)
	}
	resp, err := l.next.Send(ctx, op, req, entryID)
	if err == nil && l.dropResponse.Load() {
		return offline(op, req)
	}
	return resp, err
}

type liveServer struct {
	store *storage.MemoryStore
	link  *flakyLink
}

func startAPI(t *testing.T, fc *fakeClock) *liveServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	store.AddJob(domain.Job{
		ID:        "J1",
		CompanyID: "c-1",
		Name:      "Harbor warehouse",
		Geofence:  &geofence.Config{Lat: 40.7128, Lng: -74.0060, RadiusM: 150},
	}, "w-1")

	log := logger.NewNop()
	audit := service.NewAuditWriter(nil, log)
	verifier := auth.NewVerifier("scenario-secret", "fieldclock")

	srv := httptest.NewServer(router.SetupRouter(&handler.Dependencies{
		Logger:       log,
		ClockService: service.NewClockService(store, audit, log, service.ClockOptions{Now: fc.Now}),
		AdminService: service.NewAdminService(store, audit, log, fc.Now),
		Verifier:     verifier,
	}))
	t.Cleanup(srv.Close)

	token, err := verifier.Sign(domain.Caller{UserID: "w-1", CompanyID: "c-1", Role: domain.RoleWorker}, time.Hour)
	require.NoError(t, err)

	client := transport.NewClient(transport.Config{BaseURL: srv.URL, Token: token, Timeout: 5 * time.Second}, log)
	return &liveServer{store: store, link: &flakyLink{next: client}}
}

func TestScenario_OfflineClockInSyncsOnReconnect(t *testing.T) {
	t0 := time.Now().UTC().Truncate(time.Second)
	fc := &fakeClock{t: t0}
	api := startAPI(t, fc)
	q := newQueue(t, fc)
	engine := newEngine(q, api.link, fc)
	ctx := context.Background()

	api.link.offline.Store(true)
	id, err := q.Enqueue(ctx, queue.Item{
		Operation: clock.OpClockIn,
		Payload: queue.Payload{
			WorkerID: "w-1",
			JobID:    "J1",
			At:       t0,
			Location: &geofence.Point{Lat: 40.7129, Lng: -74.0061},
		},
	})
	require.NoError(t, err)

	require.NoError(t, engine.DrainAll(ctx))
	assert.Zero(t, api.store.CountEntries("w-1"))

	fc.Advance(10 * time.Minute)
	api.link.offline.Store(false)
	require.NoError(t, engine.DrainAll(ctx))

	item, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, item.Status)
	require.NotNil(t, item.EntryID)

	assert.Equal(t, 1, api.store.CountEntries("w-1"))
	entry, err := api.store.GetEntry(ctx, "c-1", *item.EntryID)
	require.NoError(t, err)
	assert.True(t, entry.ClockIn.Equal(t0), "clock in keeps the offline instant")
	assert.True(t, entry.ClockInGeofenceValid)
	assert.Equal(t, domain.EntryStatusActive, entry.Status)
}

func TestScenario_LostResponseIsDeliveredOnce(t *testing.T) {
	t0 := time.Now().UTC().Truncate(time.Second)
	fc := &fakeClock{t: t0}
	api := startAPI(t, fc)
	q := newQueue(t, fc)
	engine := newEngine(q, api.link, fc)
	ctx := context.Background()

	id := enqueue(t, q, fc, clock.OpClockIn)

	// The server commits but the device never hears back
	api.link.dropResponse.Store(true)
	require.NoError(t, engine.DrainAll(ctx))
	assert.Equal(t, 1, api.store.CountEntries("w-1"))

	item, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, item.RetryScheduled())

	api.link.dropResponse.Store(false)
	fc.Set(*item.NextRetryAt)
	require.NoError(t, engine.DrainAll(ctx))

	item, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, item.Status)
	assert.Equal(t, 1, api.store.CountEntries("w-1"), "the retry is answered from the idempotency record")
}

func TestScenario_SecondClockInIsRejected(t *testing.T) {
	fc := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
	api := startAPI(t, fc)
	q := newQueue(t, fc)
	engine := newEngine(q, api.link, fc)
	ctx := context.Background()

	enqueue(t, q, fc, clock.OpClockIn)
	second := enqueue(t, q, fc, clock.OpClockIn)

	require.NoError(t, engine.DrainAll(ctx))

	item, err := q.Get(ctx, second)
	require.NoError(t, err)
	assert.True(t, item.PermanentlyFailed())
	require.NotNil(t, item.ErrorReason)
	assert.Equal(t, string(clock.ReasonAlreadyClockedIn), *item.ErrorReason)
	assert.Equal(t, 1, api.store.CountEntries("w-1"))
}
