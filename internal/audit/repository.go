package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres sink backed by the insert-only audit_records table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres sink.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Append(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO audit_records (id, entity, entity_id, action, before_state, after_state, actor_id, at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, rec.ID, rec.Entity, rec.EntityID, rec.Action, nullJSON(rec.Before), nullJSON(rec.After), rec.ActorID, rec.At)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, entity, entityID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, entity, entity_id, action, before_state, after_state, actor_id, at
FROM audit_records WHERE entity=$1 AND ($2 = '' OR entity_id=$2) ORDER BY at ASC, id ASC`, entity, entityID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var before, after []byte
		if err := rows.Scan(&rec.ID, &rec.Entity, &rec.EntityID, &rec.Action, &before, &after, &rec.ActorID, &rec.At); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		rec.Before = before
		rec.After = after
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
