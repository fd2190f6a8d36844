package numbering

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository stores counters and reserved numbers in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the numbering repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Increment upserts the series row and returns the new value in one statement.
func (r *Repository) Increment(ctx context.Context, companyID int64, prefix string, year int) (int64, error) {
	var last int64
	err := r.pool.QueryRow(ctx, `INSERT INTO doc_sequences (company_id, prefix, year, last_value)
VALUES ($1,$2,$3,1)
ON CONFLICT (company_id, prefix, year) DO UPDATE SET last_value = doc_sequences.last_value + 1
RETURNING last_value`, companyID, prefix, year).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("numbering: upsert: %w", err)
	}
	return last, nil
}

func (r *Repository) MaxNumber(ctx context.Context, companyID int64, prefix string, year int) (int64, error) {
	var maxN int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM doc_numbers WHERE company_id=$1 AND prefix=$2 AND year=$3`, companyID, prefix, year).Scan(&maxN)
	if err != nil {
		return 0, fmt.Errorf("numbering: max: %w", err)
	}
	return maxN, nil
}

func (r *Repository) Reserve(ctx context.Context, companyID int64, prefix string, year int, n int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO doc_numbers (company_id, prefix, year, seq) VALUES ($1,$2,$3,$4)`, companyID, prefix, year, n)
	if db.IsUniqueViolation(err) {
		return shared.Wrap(shared.KindConflict, err, "number taken")
	}
	if err != nil {
		return fmt.Errorf("numbering: reserve: %w", err)
	}
	return nil
}
