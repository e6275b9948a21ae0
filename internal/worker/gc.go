package worker

import (
	"context"
	"log/slog"
	"time"
)

// runIdempotencyGC deletes expired idempotency records every gcInterval
func (w *Worker) runIdempotencyGC(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepIdempotency(ctx)
		}
	}
}

// sweepIdempotency deletes batches until a batch comes back short
func (w *Worker) sweepIdempotency(ctx context.Context) int64 {
	now := w.now()
	var total int64

	for {
		deleted, err := w.storage.DeleteExpiredIdempotency(ctx, now, w.gcBatchSize)
		if err != nil {
			w.logger.Warn("Idempotency GC batch failed",
				slog.Int64("deleted_so_far", total),
				slog.String("error", err.Error()),
			)
			return total
		}
		total += deleted

		if deleted < int64(w.gcBatchSize) || ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		w.logger.Info("Expired idempotency records removed",
			slog.Int64("deleted", total),
			slog.Time("cutoff", now),
		)
	}
	return total
}
