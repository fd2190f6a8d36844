package periods

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type lockerFunc func(ctx context.Context, id int64) (Period, error)

func (f lockerFunc) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) { return f(ctx, id) }

func TestGuardEnsureOpen(t *testing.T) {
	march := Period{ID: 7, CompanyID: 1, Year: 2024, Month: 3,
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), Status: StatusOpen}
	open := lockerFunc(func(context.Context, int64) (Period, error) { return march, nil })

	p, err := Guard{}.EnsureOpen(context.Background(), open, 7)
	require.NoError(t, err)
	require.Equal(t, march, p)

	closedPeriod := march
	closedPeriod.Status = StatusClosed
	closed := lockerFunc(func(context.Context, int64) (Period, error) { return closedPeriod, nil })
	_, err = Guard{}.EnsureOpen(context.Background(), closed, 7)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Equal(t, "Period 2024-03 is closed", shared.ReasonOf(err))

	missing := lockerFunc(func(context.Context, int64) (Period, error) {
		return Period{}, shared.Errorf(shared.KindNotFound, "period 7 not found")
	})
	_, err = Guard{}.EnsureOpen(context.Background(), missing, 7)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = Guard{}.EnsureOpen(context.Background(), open, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGuardEnsureCovers(t *testing.T) {
	march := Period{Year: 2024, Month: 3,
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, Guard{}.EnsureCovers(march, time.Date(2024, 3, 31, 18, 30, 0, 0, time.UTC)))
	require.ErrorIs(t, Guard{}.EnsureCovers(march, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)), shared.ErrValidation)
}
