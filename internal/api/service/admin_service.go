package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/api/storage"
	"github.com/cuongbtq/fieldclock/internal/clock"
)

// EditRequest is an admin correction of a closed entry. Nil fields are left alone.
type EditRequest struct {
	Reason   string
	ClockIn  *time.Time
	ClockOut *time.Time
	JobID    *string
	Notes    *string
	Override bool
}

// Decision is the outcome of an admin review
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionFlag    Decision = "flag"
)

// AdminService implements the review side of time entries
type AdminService struct {
	store  storage.Store
	audit  *AuditWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewAdminService creates a new AdminService
func NewAdminService(store storage.Store, audit *AuditWriter, logger *slog.Logger, now func() time.Time) *AdminService {
	if now == nil {
		now = time.Now
	}
	return &AdminService{store: store, audit: audit, logger: logger, now: now}
}

func requireAdmin(caller domain.Caller) error {
	if !caller.IsAdmin() {
		return domain.PermissionDenied("", "admin role required")
	}
	return nil
}

// ListEntries returns up to filter.PageSize+1 entries of the caller's company
func (s *AdminService) ListEntries(ctx context.Context, caller domain.Caller, filter storage.EntryFilter) ([]domain.TimeEntry, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if filter.Status != "" && !domain.EntryStatus(filter.Status).Valid() {
		return nil, domain.InvalidArgument(fmt.Sprintf("unknown status %q", filter.Status))
	}

	filter.CompanyID = caller.CompanyID
	entries, err := s.store.ListEntries(ctx, filter)
	if err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// GetEntry returns one entry; workers only see their own
func (s *AdminService) GetEntry(ctx context.Context, caller domain.Caller, entryID string) (*domain.TimeEntry, error) {
	entry, err := s.store.GetEntry(ctx, caller.CompanyID, entryID)
	if err != nil {
		return nil, classify(err)
	}
	if !caller.IsAdmin() && entry.WorkerID != caller.UserID {
		return nil, domain.NotFound(clock.ReasonEntryNotFound, "time entry not found")
	}
	return entry, nil
}

// EditEntry corrects fields of an entry and records one audit record. Status is never changed here.
func (s *AdminService) EditEntry(ctx context.Context, caller domain.Caller, entryID string, req EditRequest) (*domain.TimeEntry, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.InvalidArgument("reason is required")
	}

	logger := s.logger.With(
		slog.String("entry_id", entryID),
		slog.String("edited_by", caller.UserID),
	)

	var (
		updated *domain.TimeEntry
		events  []domain.AuditEvent
	)
	err := s.store.RunInTx(ctx, func(tx storage.Tx) error {
		updated, events = nil, nil
		now := s.now().UTC()

		entry, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.CompanyID != caller.CompanyID {
			return domain.ErrEntryNotFound
		}

		if err := checkEditable(entry, caller, req.Override); err != nil {
			return err
		}

		before := entry.Clone()
		if err := s.applyEdit(ctx, tx, caller, entry, req); err != nil {
			return err
		}

		record, changed := s.audit.Append(before, entry, caller.UserID, reason, now)
		if !changed {
			return domain.InvalidArgument("edit changes nothing")
		}

		entry.UpdatedAt = now
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}

		updated = entry
		events = []domain.AuditEvent{s.audit.Event(entry, domain.ActionAdminEdit, "", record)}
		return nil
	})
	if err != nil {
		de := classify(err)
		logger.Info("Entry edit rejected",
			slog.String("code", string(de.Code)),
			slog.String("reason", string(de.Reason)),
		)
		return nil, de
	}

	logger.Info("Entry edited",
		slog.Int("fields_changed", len(events[0].Record.Changes)),
		slog.Bool("override", updated.Status == domain.EntryStatusApproved),
	)
	s.audit.Publish(ctx, events)
	return updated, nil
}

// checkEditable enforces which statuses accept corrections
func checkEditable(entry *domain.TimeEntry, caller domain.Caller, override bool) error {
	switch entry.Status {
	case domain.EntryStatusPending, domain.EntryStatusFlagged, domain.EntryStatusDisputed:
		return nil
	case domain.EntryStatusApproved:
		if override && caller.CanOverride() {
			return nil
		}
		return domain.Precondition(clock.ReasonEntryImmutable, "approved entries require an owner override")
	case domain.EntryStatusActive:
		return domain.Precondition(clock.ReasonInvalidTransition, "active entries change by clocking out")
	default:
		return domain.Internal(clock.ReasonDataIntegrity, fmt.Errorf("entry %s has unknown status %q", entry.ID, entry.Status))
	}
}

func (s *AdminService) applyEdit(ctx context.Context, tx storage.Tx, caller domain.Caller, entry *domain.TimeEntry, req EditRequest) error {
	if req.ClockIn != nil {
		entry.ClockIn = req.ClockIn.UTC()
	}
	if req.ClockOut != nil {
		out := req.ClockOut.UTC()
		entry.ClockOut = &out
	}
	if entry.ClockOut != nil && entry.ClockOut.Before(entry.ClockIn) {
		return domain.InvalidArgument("clockOut precedes clockIn")
	}

	if req.JobID != nil && *req.JobID != entry.JobID {
		job, err := tx.GetJob(ctx, *req.JobID)
		if errors.Is(err, domain.ErrJobNotFound) || (err == nil && job.CompanyID != caller.CompanyID) {
			return domain.NotFound(clock.ReasonJobNotFound, "job not found")
		}
		if err != nil {
			return err
		}
		entry.JobID = job.ID
	}

	if req.Notes != nil {
		entry.Notes = trimmed(req.Notes)
	}
	return nil
}

// ReviewEntry approves or flags a closed entry
func (s *AdminService) ReviewEntry(ctx context.Context, caller domain.Caller, entryID string, decision Decision, reason string) (*domain.TimeEntry, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	var target domain.EntryStatus
	switch decision {
	case DecisionApprove:
		target = domain.EntryStatusApproved
	case DecisionFlag:
		target = domain.EntryStatusFlagged
	default:
		return nil, domain.InvalidArgument(fmt.Sprintf("unknown decision %q", decision))
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		if decision == DecisionFlag {
			return nil, domain.InvalidArgument("reason is required to flag an entry")
		}
		reason = "approved"
	}

	var (
		updated *domain.TimeEntry
		events  []domain.AuditEvent
	)
	err := s.store.RunInTx(ctx, func(tx storage.Tx) error {
		updated, events = nil, nil
		now := s.now().UTC()

		entry, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.CompanyID != caller.CompanyID {
			return domain.ErrEntryNotFound
		}

		switch entry.Status {
		case domain.EntryStatusPending, domain.EntryStatusFlagged, domain.EntryStatusDisputed:
		default:
			return domain.Precondition(clock.ReasonInvalidTransition, fmt.Sprintf("%s entries cannot be reviewed", entry.Status))
		}
		if entry.Status == target {
			return domain.Precondition(clock.ReasonInvalidTransition, fmt.Sprintf("entry is already %s", target))
		}

		before := entry.Clone()
		entry.Status = target
		record, _ := s.audit.Append(before, entry, caller.UserID, reason, now)
		entry.UpdatedAt = now

		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}

		updated = entry
		events = []domain.AuditEvent{s.audit.Event(entry, domain.ActionAdminReview, "", record)}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	s.logger.Info("Entry reviewed",
		slog.String("entry_id", entryID),
		slog.String("decision", string(decision)),
		slog.String("reviewed_by", caller.UserID),
	)
	s.audit.Publish(ctx, events)
	return updated, nil
}
