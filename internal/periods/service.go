package periods

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts transactional period storage.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes period operations inside a transaction.
type TxRepository interface {
	Locker
	InsertPeriod(ctx context.Context, p Period) (Period, error)
	UpdatePeriod(ctx context.Context, p Period) error
	ListPeriods(ctx context.Context, companyID int64) ([]Period, error)
	PeriodOverlaps(ctx context.Context, companyID int64, start, end time.Time) (bool, error)
	FindPeriodForDate(ctx context.Context, companyID int64, date time.Time) (Period, error)
}

// Service orchestrates period creation, close and reopen.
type Service struct {
	repo   RepositoryPort
	audit  *audit.Recorder
	logger *slog.Logger
	policy Policy
	now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo RepositoryPort, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: recorder, logger: logger, policy: DefaultPolicy, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithPolicy replaces the lifecycle policy.
func (s *Service) WithPolicy(p Policy) {
	s.policy = p
}

// CreatePeriod inserts an open month after checking overlap.
func (s *Service) CreatePeriod(ctx context.Context, actor rbac.Principal, in CreatePeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	if err := rbac.Authorize(actor, rbac.Target{}, rbac.ActionConfigure); err != nil {
		return Period{}, err
	}
	start, end := in.Bounds()
	var created Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		overlap, err := tx.PeriodOverlaps(ctx, in.CompanyID, start, end)
		if err != nil {
			return err
		}
		if overlap {
			return shared.Errorf(shared.KindConflict, "period %04d-%02d overlaps an existing period", in.Year, in.Month)
		}
		created, err = tx.InsertPeriod(ctx, Period{
			CompanyID: in.CompanyID,
			Year:      in.Year,
			Month:     in.Month,
			StartDate: start,
			EndDate:   end,
			Status:    StatusOpen,
		})
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.audit.Record(ctx, audit.Change{Entity: "period", EntityID: created.ID, Action: "period.create", After: created, ActorID: actor.UserID})
	return created, nil
}

// Close moves an open period to closed.
func (s *Service) Close(ctx context.Context, actor rbac.Principal, periodID int64) (Period, error) {
	return s.transition(ctx, actor, periodID, rbac.ActionClosePeriod, func(p *Period) error {
		if p.Status != StatusOpen {
			return shared.Errorf(shared.KindInvalidStateTransition, "Period %s is already closed", p.Code())
		}
		at := s.now()
		by := actor.UserID
		p.Status = StatusClosed
		p.ClosedAt = &at
		p.ClosedBy = &by
		return nil
	})
}

// Reopen moves a closed period back to open. A reason is mandatory.
func (s *Service) Reopen(ctx context.Context, actor rbac.Principal, periodID int64, reason string) (Period, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Period{}, shared.Errorf(shared.KindValidation, "a reason is required to reopen a period")
	}
	if !s.policy.AllowReopen {
		return Period{}, shared.Errorf(shared.KindPermissionDenied, "reopening periods is disabled")
	}
	return s.transition(ctx, actor, periodID, rbac.ActionReopenPeriod, func(p *Period) error {
		if p.Status != StatusClosed {
			return shared.Errorf(shared.KindInvalidStateTransition, "Period %s is not closed", p.Code())
		}
		p.Status = StatusOpen
		p.ClosedAt = nil
		p.ClosedBy = nil
		p.ReopenReason = reason
		return nil
	})
}

func (s *Service) transition(ctx context.Context, actor rbac.Principal, periodID int64, action rbac.Action, mutate func(*Period) error) (Period, error) {
	if err := rbac.Authorize(actor, rbac.Target{}, action); err != nil {
		return Period{}, err
	}
	var before, after Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if actor.CompanyID != 0 && p.CompanyID != actor.CompanyID {
			return shared.Errorf(shared.KindNotFound, "period %d not found", periodID)
		}
		before = p
		if err := mutate(&p); err != nil {
			return err
		}
		p.UpdatedAt = s.now()
		after = p
		return tx.UpdatePeriod(ctx, p)
	})
	if err != nil {
		return Period{}, err
	}
	name := "period.close"
	if action == rbac.ActionReopenPeriod {
		name = "period.reopen"
	}
	s.logger.Info("period transition",
		slog.Int64("period_id", after.ID),
		slog.String("period", after.Code()),
		slog.String("status", string(after.Status)),
		slog.Int64("actor_id", actor.UserID))
	s.audit.Record(ctx, audit.Change{Entity: "period", EntityID: after.ID, Action: name, Before: before, After: after, ActorID: actor.UserID})
	return after, nil
}

// ListPeriods returns every period of a company ordered by start date.
func (s *Service) ListPeriods(ctx context.Context, companyID int64) ([]Period, error) {
	var out []Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListPeriods(ctx, companyID)
		return err
	})
	return out, err
}

// PeriodForDate returns the unique period covering date.
func (s *Service) PeriodForDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	var out Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.FindPeriodForDate(ctx, companyID, date)
		return err
	})
	return out, err
}
