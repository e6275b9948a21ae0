package domain

import (
	"time"

	"github.com/cuongbtq/fieldclock/internal/geofence"
)

// EntryStatus is the review lifecycle of a time entry
type EntryStatus string

const (
	EntryStatusActive   EntryStatus = "Active"
	EntryStatusPending  EntryStatus = "Pending"
	EntryStatusApproved EntryStatus = "Approved"
	EntryStatusFlagged  EntryStatus = "Flagged"
	EntryStatusDisputed EntryStatus = "Disputed"
)

// Valid reports whether s is a declared status
func (s EntryStatus) Valid() bool {
	switch s {
	case EntryStatusActive, EntryStatusPending, EntryStatusApproved, EntryStatusFlagged, EntryStatusDisputed:
		return true
	default:
		return false
	}
}

// Break is a paused interval inside a shift
type Break struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// TimeEntry is the authoritative record of one shift
type TimeEntry struct {
	ID            string      `json:"id"`
	ClientEventID string      `json:"clientEventId"`
	CompanyID     string      `json:"companyId"`
	WorkerID      string      `json:"workerId"`
	JobID         string      `json:"jobId"`
	Status        EntryStatus `json:"status"`

	ClockIn              time.Time       `json:"clockIn"`
	ClockInLocation      *geofence.Point `json:"clockInLocation,omitempty"`
	ClockInAccuracyM     *float64        `json:"clockInAccuracy,omitempty"`
	ClockInGeofenceValid bool            `json:"clockInGeofenceValid"`
	ClockInGPSMissing    bool            `json:"clockInGpsMissing"`

	ClockOut              *time.Time      `json:"clockOut,omitempty"`
	ClockOutLocation      *geofence.Point `json:"clockOutLocation,omitempty"`
	ClockOutAccuracyM     *float64        `json:"clockOutAccuracy,omitempty"`
	ClockOutGeofenceValid *bool           `json:"clockOutGeofenceValid,omitempty"`
	ClockOutGPSMissing    *bool           `json:"clockOutGpsMissing,omitempty"`

	Breaks   []Break       `json:"breaks"`
	Notes    *string       `json:"notes,omitempty"`
	AuditLog []AuditRecord `json:"auditLog"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OpenBreak returns the index of the unfinished break, or -1
func (e *TimeEntry) OpenBreak() int {
	for i := len(e.Breaks) - 1; i >= 0; i-- {
		if e.Breaks[i].End == nil {
			return i
		}
	}
	return -1
}

// HasException reports whether either punch failed the geofence or lacked GPS
func (e *TimeEntry) HasException() bool {
	if !e.ClockInGeofenceValid || e.ClockInGPSMissing {
		return true
	}
	if e.ClockOutGeofenceValid != nil && !*e.ClockOutGeofenceValid {
		return true
	}
	return e.ClockOutGPSMissing != nil && *e.ClockOutGPSMissing
}

// Clone returns a deep copy so callers can diff before and after a mutation
func (e *TimeEntry) Clone() *TimeEntry {
	c := *e
	c.Breaks = append([]Break(nil), e.Breaks...)
	c.AuditLog = append([]AuditRecord(nil), e.AuditLog...)
	if e.ClockOut != nil {
		t := *e.ClockOut
		c.ClockOut = &t
	}
	if e.Notes != nil {
		n := *e.Notes
		c.Notes = &n
	}
	return &c
}
