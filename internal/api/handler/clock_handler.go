package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/api/dto"
	"github.com/cuongbtq/fieldclock/internal/api/service"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/gin-gonic/gin"
)

// ClockHandler handles the worker clock RPCs
type ClockHandler struct {
	logger  *slog.Logger
	service *service.ClockService
}

// NewClockHandler creates a new ClockHandler instance
func NewClockHandler(deps *Dependencies) *ClockHandler {
	return &ClockHandler{
		logger:  deps.Logger,
		service: deps.ClockService,
	}
}

type clockFunc func(ctx context.Context, caller domain.Caller, req clock.EventRequest) (*clock.EventResponse, error)

func (h *ClockHandler) handle(c *gin.Context, fn clockFunc) {
	caller, ok := requireCaller(c, h.logger)
	if !ok {
		return
	}

	var req clock.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "invalid request body", err)
		return
	}

	resp, err := fn(c.Request.Context(), caller, req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ClockIn handles POST /api/v1/clock/in
func (h *ClockHandler) ClockIn(c *gin.Context) {
	h.handle(c, h.service.ClockIn)
}

// ClockOut handles POST /api/v1/clock/out
func (h *ClockHandler) ClockOut(c *gin.Context) {
	h.handle(c, h.service.ClockOut)
}

// StartBreak handles POST /api/v1/clock/break/start
func (h *ClockHandler) StartBreak(c *gin.Context) {
	h.handle(c, h.service.StartBreak)
}

// EndBreak handles POST /api/v1/clock/break/end
func (h *ClockHandler) EndBreak(c *gin.Context) {
	h.handle(c, h.service.EndBreak)
}

// Dispute handles POST /api/v1/entries/:entry_id/dispute
func (h *ClockHandler) Dispute(c *gin.Context) {
	caller, ok := requireCaller(c, h.logger)
	if !ok {
		return
	}

	var req dto.DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "invalid request body", err)
		return
	}

	resp, err := h.service.Dispute(c.Request.Context(), caller, c.Param("entry_id"), clock.EventRequest{
		At:       req.At,
		ClientID: req.ClientID,
		Notes:    req.Notes,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
