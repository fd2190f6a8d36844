package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/money"
)

// IntegrityScanner lists unbalanced ledger journals.
type IntegrityScanner interface {
	IntegrityScan(ctx context.Context, companyID int64) ([]accounting.JournalTotal, error)
}

// GLIntegrityJob checks that every posted journal still balances.
type GLIntegrityJob struct {
	Ledger    IntegrityScanner
	Companies []int64
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle executes the integrity scan.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("gl integrity: handler not configured")
	}
	companies, err := decodeCompanies(t, j.Companies)
	if err != nil {
		return fmt.Errorf("gl integrity: payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() { err = tracker.End(err) }()

	logger := loggerOr(j.Logger).With(slog.String("job", TaskGLIntegrity))
	for _, company := range companies {
		offenders, serr := j.Ledger.IntegrityScan(ctx, company)
		if serr != nil {
			logger.Error("integrity scan failed", slog.Int64("company_id", company), slog.Any("error", serr))
			err = errors.Join(err, serr)
			continue
		}
		for _, o := range offenders {
			logger.Error("unbalanced journal in ledger",
				slog.Int64("company_id", company),
				slog.Int64("journal_id", o.JournalID),
				slog.String("number", o.Number),
				slog.String("debit", money.Fixed(o.Debit)),
				slog.String("credit", money.Fixed(o.Credit)))
		}
		j.Metrics.AddAnomalies("gl_integrity", company, len(offenders))
		logger.Info("GL integrity check executed", slog.Int64("company_id", company), slog.Int("offenders", len(offenders)))
	}
	return err
}
