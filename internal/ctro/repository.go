package ctro

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Repository stores rate cards in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the rate card repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) RateCardsCovering(ctx context.Context, companyID int64, date time.Time) ([]RateCard, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, season, bag_weight_kg::text, bags_per_tonne::text, effective_from, effective_to, created_at
FROM rate_cards WHERE company_id=$1 AND effective_from <= $2 AND (effective_to IS NULL OR effective_to >= $2)
ORDER BY effective_from DESC, created_at DESC`, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("ctro: rate cards: %w", err)
	}
	var cards []RateCard
	for rows.Next() {
		var (
			c            RateCard
			weight, bpt  string
			effectiveTo  pgtype.Date
		)
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Season, &weight, &bpt, &c.EffectiveFrom, &effectiveTo, &c.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ctro: scan rate card: %w", err)
		}
		c.BagWeightKg = decimal.RequireFromString(weight)
		c.BagsPerTonne = decimal.RequireFromString(bpt)
		if effectiveTo.Valid {
			t := effectiveTo.Time
			c.EffectiveTo = &t
		}
		cards = append(cards, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range cards {
		lines, err := r.lines(ctx, cards[i].ID)
		if err != nil {
			return nil, err
		}
		cards[i].Lines = lines
	}
	return cards, nil
}

func (r *Repository) lines(ctx context.Context, cardID int64) ([]RateCardLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, rate_card_id, region_id, district_id, depot_id, takeover_center_id,
producer_price::text, buyer_margin::text, secondary_evac_cost::text, takeover_price::text, created_at
FROM rate_card_lines WHERE rate_card_id=$1 ORDER BY id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("ctro: rate card lines: %w", err)
	}
	defer rows.Close()
	var out []RateCardLine
	for rows.Next() {
		var (
			l                              RateCardLine
			depot                          pgtype.Int8
			producer, margin, evac, takeover string
		)
		if err := rows.Scan(&l.ID, &l.RateCardID, &l.RegionID, &l.DistrictID, &depot, &l.TakeoverCenterID, &producer, &margin, &evac, &takeover, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("ctro: scan line: %w", err)
		}
		if depot.Valid {
			v := depot.Int64
			l.DepotID = &v
		}
		l.ProducerPrice = decimal.RequireFromString(producer)
		l.BuyerMargin = decimal.RequireFromString(margin)
		l.SecondaryEvacCost = decimal.RequireFromString(evac)
		l.TakeoverPrice = decimal.RequireFromString(takeover)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) InsertRateCard(ctx context.Context, card RateCard) (RateCard, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO rate_cards (company_id, season, bag_weight_kg, bags_per_tonne, effective_from, effective_to)
VALUES ($1,$2,$3::numeric,$4::numeric,$5,$6) RETURNING id, created_at`,
			card.CompanyID, card.Season, card.BagWeightKg.String(), card.BagsPerTonne.String(), card.EffectiveFrom, card.EffectiveTo).
			Scan(&card.ID, &card.CreatedAt)
		if err != nil {
			return db.MapError(err, "rate card "+card.Season)
		}
		for i := range card.Lines {
			l := &card.Lines[i]
			l.RateCardID = card.ID
			err := tx.QueryRow(ctx, `INSERT INTO rate_card_lines (rate_card_id, region_id, district_id, depot_id, takeover_center_id,
producer_price, buyer_margin, secondary_evac_cost, takeover_price)
VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9::numeric) RETURNING id, created_at`,
				card.ID, l.RegionID, l.DistrictID, l.DepotID, l.TakeoverCenterID,
				money.Fixed(l.ProducerPrice), money.Fixed(l.BuyerMargin), money.Fixed(l.SecondaryEvacCost), money.Fixed(l.TakeoverPrice)).
				Scan(&l.ID, &l.CreatedAt)
			if err != nil {
				return fmt.Errorf("ctro: insert line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return RateCard{}, err
	}
	return card, nil
}
