package ctro

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Covers reports effective_from <= date <= effective_to (open ended when nil).
func (c RateCard) Covers(date time.Time) bool {
	d := day(date)
	if d.Before(day(c.EffectiveFrom)) {
		return false
	}
	return c.EffectiveTo == nil || !d.After(day(*c.EffectiveTo))
}

// Divisor returns bags per tonne, deriving it from bag weight when unset.
func (c RateCard) Divisor(fallback decimal.Decimal) decimal.Decimal {
	if c.BagsPerTonne.IsPositive() {
		return c.BagsPerTonne
	}
	if c.BagWeightKg.IsPositive() {
		return decimal.NewFromInt(1000).Div(c.BagWeightKg)
	}
	if fallback.IsPositive() {
		return fallback
	}
	return DefaultBagsPerTonne
}

// SelectRateCard picks the card covering date; the highest effective_from wins.
func SelectRateCard(cards []RateCard, date time.Time) (RateCard, error) {
	var (
		best  RateCard
		found bool
	)
	for _, c := range cards {
		if !c.Covers(date) {
			continue
		}
		if !found || c.EffectiveFrom.After(best.EffectiveFrom) || (c.EffectiveFrom.Equal(best.EffectiveFrom) && c.CreatedAt.After(best.CreatedAt)) {
			best = c
			found = true
		}
	}
	if !found {
		return RateCard{}, shared.Errorf(shared.KindNoRateCard, "No rate card covers %s", date.Format(time.DateOnly))
	}
	return best, nil
}

// IndexLines keys lines by (depot, center). With DuplicateDiscard the most
// recently created line wins and the others are reported.
func IndexLines(lines []RateCardLine, policy DuplicatePolicy) (map[LineKey]RateCardLine, []DuplicateWarning, error) {
	index := make(map[LineKey]RateCardLine, len(lines))
	var warnings []DuplicateWarning
	for _, line := range lines {
		k := line.Key()
		existing, dup := index[k]
		if !dup {
			index[k] = line
			continue
		}
		if policy == DuplicateReject {
			return nil, nil, shared.Errorf(shared.KindValidation, "rate card has duplicate lines for depot %d and takeover center %d", k.DepotID, k.TakeoverCenterID)
		}
		kept, dropped := existing, line
		if newer(line, existing) {
			kept, dropped = line, existing
		}
		index[k] = kept
		warnings = append(warnings, DuplicateWarning{Key: k, KeptID: kept.ID, DroppedID: dropped.ID})
	}
	return index, warnings, nil
}

func newer(a, b RateCardLine) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Validate checks a card before it is published.
func (c RateCard) Validate(policy DuplicatePolicy) error {
	if c.CompanyID == 0 {
		return shared.Errorf(shared.KindValidation, "company required")
	}
	if c.EffectiveFrom.IsZero() {
		return shared.Errorf(shared.KindValidation, "effective from required")
	}
	if c.EffectiveTo != nil && c.EffectiveTo.Before(c.EffectiveFrom) {
		return shared.Errorf(shared.KindValidation, "effective to precedes effective from")
	}
	if c.BagsPerTonne.IsNegative() || c.BagWeightKg.IsNegative() {
		return shared.Errorf(shared.KindValidation, "bag weight and bags per tonne must not be negative")
	}
	if len(c.Lines) == 0 {
		return shared.Errorf(shared.KindValidation, "rate card needs at least one line")
	}
	for i, l := range c.Lines {
		if l.TakeoverCenterID == 0 {
			return shared.Errorf(shared.KindValidation, "line %d missing takeover center", i+1)
		}
		rates := []struct {
			name string
			v    decimal.Decimal
		}{
			{"producer price", l.ProducerPrice},
			{"buyer margin", l.BuyerMargin},
			{"secondary evac cost", l.SecondaryEvacCost},
			{"takeover price", l.TakeoverPrice},
		}
		for _, r := range rates {
			if r.v.IsNegative() {
				return shared.Errorf(shared.KindValidation, "line %d has a negative %s", i+1, r.name)
			}
		}
	}
	if _, _, err := IndexLines(c.Lines, policy); err != nil {
		return err
	}
	return nil
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (k LineKey) String() string {
	return fmt.Sprintf("depot %d / center %d", k.DepotID, k.TakeoverCenterID)
}
