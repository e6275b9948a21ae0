package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/api/dto"
	"github.com/cuongbtq/fieldclock/internal/api/service"
	"github.com/cuongbtq/fieldclock/internal/api/storage"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// EntryHandler handles time entry reads and the admin review surface
type EntryHandler struct {
	logger  *slog.Logger
	service *service.AdminService
}

// NewEntryHandler creates a new EntryHandler instance
func NewEntryHandler(deps *Dependencies) *EntryHandler {
	return &EntryHandler{
		logger:  deps.Logger,
		service: deps.AdminService,
	}
}

// ListEntries handles GET /api/v1/entries
// Lists the company's entries with optional filtering and cursor pagination
func (h *EntryHandler) ListEntries(c *gin.Context) {
	caller, ok := requireCaller(c, h.logger)
	if !ok {
		return
	}

	// 1. Parse query parameters
	var req dto.ListEntriesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, h.logger, "invalid query parameters", err)
		return
	}

	// 2. Validate parameters
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	// 3. Decode cursor for pagination
	cursor, err := DecodeEntryCursor(req.Cursor)
	if err != nil {
		badRequest(c, h.logger, "invalid cursor", err)
		return
	}

	// 4. Query one extra row to learn whether another page exists
	entries, err := h.service.ListEntries(c.Request.Context(), caller, storage.EntryFilter{
		WorkerID:       req.WorkerID,
		JobID:          req.JobID,
		Status:         req.Status,
		ExceptionsOnly: req.ExceptionsOnly,
		PageSize:       req.PageSize,
		Cursor:         cursor,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	// 5. Prepare response with next cursor if more results exist
	hasMore := len(entries) > req.PageSize
	if hasMore {
		entries = entries[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		last := entries[len(entries)-1]
		nextCursor = EncodeEntryCursor(&storage.EntryCursor{
			CreatedAt: last.CreatedAt,
			EntryID:   last.ID,
		})
	}

	if entries == nil {
		entries = []domain.TimeEntry{}
	}

	c.JSON(http.StatusOK, dto.ListEntriesResponse{
		Entries:    entries,
		NextCursor: nextCursor,
	})
}

// GetEntry handles GET /api/v1/entries/:entry_id
func (h *EntryHandler) GetEntry(c *gin.Context) {
	caller, ok := requireCaller(c, h.logger)
	if !ok {
		return
	}

	entry, err := h.service.GetEntry(c.Request.Context(), caller, c.Param("entry_id"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

// EditEntry handles PATCH /api/v1/admin/entries/:entry_id
// Corrects fields of an entry and records one audit record
func (h *EntryHandler) EditEntry(c *gin.Context) {
	caller, ok := requireCaller(c, h.logger)
	if !ok {
		return
	}

	var req dto.EditEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "invalid request body", err)
		return
	}

	entry, err := h.service.EditEntry(c.Request.Context(), caller, c.Param("entry_id"), service.EditRequest{
		Reason:   req.Reason,
		ClockIn:  req.ClockIn,
		ClockOut: req.ClockOut,
		JobID:    req.JobID,
		Notes:    req.Notes,
		Override: req.Override,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

// ReviewEntry handles POST /api/v1/admin/entries/:entry_id/review
// Approves or flags a closed entry
func (h *EntryHandler) ReviewEntry(c *gin.Context) {
	caller, ok := requireCaller(c, h.logger)
	if !ok {
		return
	}

	var req dto.ReviewEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "invalid request body", err)
		return
	}

	entry, err := h.service.ReviewEntry(c.Request.Context(), caller, c.Param("entry_id"), service.Decision(req.Decision), req.Reason)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}
