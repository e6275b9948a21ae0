package service

import (
	"context"
	"errors"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/api/storage"
	"github.com/cuongbtq/fieldclock/internal/clock"
)

// classify folds any failure into a *domain.Error so the handler has one thing to render.
// Anything unrecognised comes from the store or the network and is reported as retryable.
func classify(err error) *domain.Error {
	if err == nil {
		return nil
	}

	if de, ok := domain.AsError(err); ok {
		return de
	}

	switch {
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrKeyInUse):
		return &domain.Error{Code: clock.CodeUnavailable, Message: "too much contention, retry later", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.Error{Code: clock.CodeDeadlineExceeded, Message: "request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &domain.Error{Code: clock.CodeUnavailable, Message: "request cancelled", Err: err}
	case errors.Is(err, domain.ErrEntryNotFound):
		return &domain.Error{Code: clock.CodeNotFound, Reason: clock.ReasonEntryNotFound, Message: "time entry not found", Err: err}
	case errors.Is(err, domain.ErrJobNotFound):
		return &domain.Error{Code: clock.CodeNotFound, Reason: clock.ReasonJobNotFound, Message: "job not found", Err: err}
	default:
		return domain.Unavailable(err)
	}
}
