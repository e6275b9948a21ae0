package dto

import (
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
)

type ListEntriesRequest struct {
	WorkerID       string `form:"workerId"`
	JobID          string `form:"jobId"`
	Status         string `form:"status"`
	ExceptionsOnly bool   `form:"exceptionsOnly"`
	PageSize       int    `form:"page_size"`
	Cursor         string `form:"cursor"`
}

type ListEntriesResponse struct {
	Entries    []domain.TimeEntry `json:"entries"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type DisputeRequest struct {
	At       int64   `json:"at" binding:"required"`
	ClientID string  `json:"clientId" binding:"required"`
	Notes    *string `json:"notes"`
}

type EditEntryRequest struct {
	Reason   string     `json:"reason" binding:"required"`
	ClockIn  *time.Time `json:"clockIn"`
	ClockOut *time.Time `json:"clockOut"`
	JobID    *string    `json:"jobId"`
	Notes    *string    `json:"notes"`
	Override bool       `json:"override"`
}

type ReviewEntryRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve flag"`
	Reason   string `json:"reason"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
