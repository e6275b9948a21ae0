package domain

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/fieldclock/internal/clock"
)

// IdempotencyRecord caches the outcome of a processed client event
type IdempotencyRecord struct {
	Key            string          `db:"key"`
	Operation      clock.Operation `db:"operation"`
	WorkerID       string          `db:"worker_id"`
	EntryID        string          `db:"entry_id"`
	ResultSnapshot json.RawMessage `db:"result_snapshot"`
	ProcessedAt    time.Time       `db:"processed_at"`
	ExpiresAt      time.Time       `db:"expires_at"`
}
