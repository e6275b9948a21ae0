package domain

import "github.com/cuongbtq/fieldclock/internal/geofence"

// Job is a read-only job registry entry
type Job struct {
	ID        string `db:"id"`
	CompanyID string `db:"company_id"`
	Name      string `db:"name"`

	// Geofence is nil when the job site has no boundary configured
	Geofence *geofence.Config
}
