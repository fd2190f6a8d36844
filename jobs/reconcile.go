package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
)

// Reconciler runs one reconciliation.
type Reconciler interface {
	Reconcile(ctx context.Context, companyID int64, side reconcile.Side) (reconcile.Result, error)
}

// ReconcileJob reconciles AR and AP for each company.
type ReconcileJob struct {
	Reports   Reconciler
	Companies []int64
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle executes the reconciliation task.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reports == nil {
		return errors.New("reconcile: handler not configured")
	}
	companies, err := decodeCompanies(t, j.Companies)
	if err != nil {
		return fmt.Errorf("reconcile: payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	logger := loggerOr(j.Logger).With(slog.String("job", TaskLedgerReconcile))
	unhealthy := 0
	for _, company := range companies {
		for _, side := range []reconcile.Side{reconcile.SideAR, reconcile.SideAP} {
			res, rerr := j.Reports.Reconcile(ctx, company, side)
			if rerr != nil {
				logger.Error("reconcile failed", slog.Int64("company_id", company), slog.String("side", string(side)), slog.Any("error", rerr))
				err = errors.Join(err, rerr)
				continue
			}
			if !res.Healthy() {
				unhealthy++
				j.Metrics.AddAnomalies("reconcile_"+string(side), company, 1)
				logger.Warn("subledger does not match control account",
					slog.Int64("company_id", company),
					slog.String("side", string(side)),
					slog.String("difference", money.Fixed(res.Difference)))
			}
		}
	}
	logger.Info("completed reconciliation",
		slog.Int("companies", len(companies)),
		slog.Int("unhealthy", unhealthy),
		slog.Duration("duration", time.Since(start)))
	return err
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
