package periods

import (
	"context"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Locker loads a period row with a write lock inside the caller's transaction.
type Locker interface {
	GetPeriodForUpdate(ctx context.Context, periodID int64) (Period, error)
}

// Guard rejects postings into closed periods.
type Guard struct{}

// EnsureOpen locks the period and fails unless it is open. It must run in the
// same transaction as the write it protects.
func (Guard) EnsureOpen(ctx context.Context, tx Locker, periodID int64) (Period, error) {
	if periodID == 0 {
		return Period{}, shared.Errorf(shared.KindValidation, "period required")
	}
	p, err := tx.GetPeriodForUpdate(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if p.Status != StatusOpen {
		return Period{}, shared.Errorf(shared.KindPeriodClosed, "Period %s is closed", p.Code())
	}
	return p, nil
}

// EnsureCovers fails when date lies outside the period.
func (Guard) EnsureCovers(p Period, date time.Time) error {
	if !p.Covers(date) {
		return shared.Errorf(shared.KindValidation, "date %s is outside period %s", date.Format(time.DateOnly), p.Code())
	}
	return nil
}
