package periods

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Repository persists periods in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("periods: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds period queries to an open transaction so other
// packages can lock periods in their own posting transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const periodColumns = `id, company_id, year, month, start_date, end_date, status, closed_at, closed_by, reopen_reason, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var (
		p        Period
		closedAt pgtype.Timestamptz
		closedBy pgtype.Int8
	)
	if err := row.Scan(&p.ID, &p.CompanyID, &p.Year, &p.Month, &p.StartDate, &p.EndDate, &p.Status, &closedAt, &closedBy, &p.ReopenReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	if closedBy.Valid {
		v := closedBy.Int64
		p.ClosedBy = &v
	}
	return p, nil
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, periodID int64) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1 FOR UPDATE`, periodID))
	if err != nil {
		return Period{}, db.MapError(err, fmt.Sprintf("period %d", periodID))
	}
	return p, nil
}

func (r *txRepository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO periods (company_id, year, month, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+periodColumns, p.CompanyID, p.Year, p.Month, p.StartDate, p.EndDate, p.Status)
	out, err := scanPeriod(row)
	if err != nil {
		return Period{}, db.MapError(err, "period "+p.Code())
	}
	return out, nil
}

func (r *txRepository) UpdatePeriod(ctx context.Context, p Period) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE periods SET status=$2, closed_at=$3, closed_by=$4, reopen_reason=$5, updated_at=NOW() WHERE id=$1`,
		p.ID, p.Status, p.ClosedAt, p.ClosedBy, p.ReopenReason)
	if err != nil {
		return fmt.Errorf("periods: update: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows, fmt.Sprintf("period %d", p.ID))
	}
	return nil
}

func (r *txRepository) ListPeriods(ctx context.Context, companyID int64) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM periods WHERE company_id=$1 ORDER BY start_date`, companyID)
	if err != nil {
		return nil, fmt.Errorf("periods: list: %w", err)
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("periods: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepository) PeriodOverlaps(ctx context.Context, companyID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM periods WHERE company_id=$1 AND start_date <= $3 AND end_date >= $2)`, companyID, start, end).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("periods: overlap: %w", err)
	}
	return exists, nil
}

func (r *txRepository) FindPeriodForDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE company_id=$1 AND start_date <= $2 AND end_date >= $2`, companyID, date))
	if err != nil {
		return Period{}, db.MapError(err, "period for "+date.Format(time.DateOnly))
	}
	return p, nil
}
