package localapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/fieldclock/internal/agent/queue"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/cuongbtq/fieldclock/internal/eventid"
	"github.com/cuongbtq/fieldclock/internal/geofence"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Queue is the part of the queue store exposed to the UI
type Queue interface {
	Enqueue(ctx context.Context, item queue.Item) (string, error)
	ListPending(ctx context.Context, workerID string) ([]queue.Item, error)
	Cancel(ctx context.Context, id string) error
	HasActiveClockIn(ctx context.Context, workerID string) (bool, error)
	WatchPendingCount(ctx context.Context) <-chan int
}

// EnqueueRequest is a clock action recorded by the UI
type EnqueueRequest struct {
	Operation   string          `json:"operation" binding:"required"`
	WorkerID    string          `json:"workerId" binding:"required"`
	JobID       string          `json:"jobId"`
	TimeEntryID string          `json:"timeEntryId"`
	At          int64           `json:"at"`
	Geo         *geofence.Point `json:"geo"`
	AccuracyM   *float64        `json:"accuracy"`
	Notes       *string         `json:"notes"`
}

// EnqueueResponse acknowledges a durably queued event
type EnqueueResponse struct {
	ID     string       `json:"id"`
	Status queue.Status `json:"status"`
}

// QueueResponse lists the unsent events
type QueueResponse struct {
	Items []queue.Item `json:"items"`
}

// Handler serves the localhost API of the sync agent
type Handler struct {
	logger   *slog.Logger
	queue    Queue
	origins  originPolicy
	upgrader websocket.Upgrader
}

// NewHandler creates a new Handler.
// allowedOrigins lists the browser origins of the UI; native clients send none.
func NewHandler(logger *slog.Logger, q Queue, allowedOrigins []string) *Handler {
	origins := newOriginPolicy(allowedOrigins)
	return &Handler{
		logger:  logger,
		queue:   q,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.allows,
		},
	}
}

func respond(c *gin.Context, status int, code clock.Code, reason clock.Reason, message string) {
	c.AbortWithStatusJSON(status, clock.ErrorResponse{Code: code, Reason: reason, Message: message})
}

// Enqueue handles POST /v1/events
func (h *Handler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, clock.CodeInvalidArgument, clock.ReasonInvalidRequest, err.Error())
		return
	}

	op, err := clock.ParseOperation(req.Operation)
	if err != nil {
		respond(c, http.StatusBadRequest, clock.CodeInvalidArgument, clock.ReasonInvalidRequest, err.Error())
		return
	}
	if op == clock.OpClockIn && strings.TrimSpace(req.JobID) == "" {
		respond(c, http.StatusBadRequest, clock.CodeInvalidArgument, clock.ReasonInvalidRequest, "jobId is required to clock in")
		return
	}

	ctx := c.Request.Context()

	// Advisory only; the server enforces one open shift
	if op == clock.OpClockIn {
		active, err := h.queue.HasActiveClockIn(ctx, req.WorkerID)
		if err != nil {
			h.internalError(c, err)
			return
		}
		if active {
			respond(c, http.StatusConflict, clock.CodeFailedPrecondition, clock.ReasonAlreadyClockedIn, "You already have an open shift. Clock out before clocking in again.")
			return
		}
	}

	item := queue.Item{
		Operation: op,
		Payload: queue.Payload{
			WorkerID:    req.WorkerID,
			JobID:       strings.TrimSpace(req.JobID),
			TimeEntryID: req.TimeEntryID,
			Location:    req.Geo,
			AccuracyM:   req.AccuracyM,
			Notes:       req.Notes,
		},
	}
	if req.At > 0 {
		item.Payload.At = time.UnixMilli(req.At).UTC()
	}

	id, err := h.queue.Enqueue(ctx, item)
	if err != nil {
		var full *queue.QueueFullError
		switch {
		case errors.As(err, &full):
			respond(c, http.StatusInsufficientStorage, clock.CodeUnavailable, "", fmt.Sprintf("%d events are waiting to sync. Reconnect before recording more.", full.Max))
		case errors.Is(err, eventid.ErrExpired):
			respond(c, http.StatusConflict, clock.CodeFailedPrecondition, clock.ReasonEventExpired, "This event is more than 24 hours old.")
		case errors.Is(err, eventid.ErrClockSkew):
			respond(c, http.StatusConflict, clock.CodeFailedPrecondition, clock.ReasonClockSkew, "This event is stamped in the future. Check the device clock.")
		default:
			h.internalError(c, err)
		}
		return
	}

	c.JSON(http.StatusAccepted, EnqueueResponse{ID: id, Status: queue.StatusPending})
}

// ListQueue handles GET /v1/queue
func (h *Handler) ListQueue(c *gin.Context) {
	items, err := h.queue.ListPending(c.Request.Context(), c.Query("workerId"))
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, QueueResponse{Items: items})
}

// Cancel handles POST /v1/queue/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	id := c.Param("id")

	err := h.queue.Cancel(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, EnqueueResponse{ID: id, Status: queue.StatusCancelled})
	case errors.Is(err, queue.ErrNotFound):
		respond(c, http.StatusNotFound, clock.CodeNotFound, "", "queue item not found")
	case errors.Is(err, queue.ErrInFlight):
		respond(c, http.StatusConflict, clock.CodeFailedPrecondition, clock.ReasonInvalidTransition, "This event is being sent right now.")
	case errors.Is(err, queue.ErrIllegalTransition):
		respond(c, http.StatusConflict, clock.CodeFailedPrecondition, clock.ReasonInvalidTransition, "This event has already been synced.")
	default:
		h.internalError(c, err)
	}
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.logger.Error("Local API request failed",
		slog.String("path", c.FullPath()),
		slog.String("error", err.Error()),
	)
	respond(c, http.StatusInternalServerError, clock.CodeInternal, "", "internal error")
}
