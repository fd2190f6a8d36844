package ctro

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RateCardRepository loads and stores rate cards.
type RateCardRepository interface {
	RateCardsCovering(ctx context.Context, companyID int64, date time.Time) ([]RateCard, error)
	InsertRateCard(ctx context.Context, card RateCard) (RateCard, error)
}

// Engine prices CTRO lines.
type Engine struct {
	rates    RateCardRepository
	audit    *audit.Recorder
	logger   *slog.Logger
	policy   DuplicatePolicy
	fallback decimal.Decimal
}

// NewEngine constructs the costing engine.
func NewEngine(rates RateCardRepository, recorder *audit.Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rates: rates, audit: recorder, logger: logger, policy: DuplicateDiscard, fallback: DefaultBagsPerTonne}
}

// WithDuplicatePolicy switches duplicate handling.
func (e *Engine) WithDuplicatePolicy(p DuplicatePolicy) {
	e.policy = p
}

// WithDefaultBagsPerTonne overrides the divisor used when a card has none.
func (e *Engine) WithDefaultBagsPerTonne(v decimal.Decimal) {
	if v.IsPositive() {
		e.fallback = v
	}
}

// ComputeLine prices one input against an indexed card. A missing rate yields
// an excluded line together with ErrNoPublishedRate.
func ComputeLine(card RateCard, index map[LineKey]RateCardLine, in LineInput, fallback decimal.Decimal) (CostedLine, error) {
	out := CostedLine{LineInput: in, RateCardID: card.ID}
	if err := validateInput(in); err != nil {
		return out, err
	}
	rate, ok := index[in.Key()]
	if !ok {
		out.Excluded = true
		out.Reason = fmt.Sprintf("No published rate for %s", in.Key())
		return out, shared.Errorf(shared.KindNoPublishedRate, "%s", out.Reason)
	}
	tonnage := decimal.NewFromInt(in.Bags).Div(card.Divisor(fallback))
	out.RateCardLineID = rate.ID
	out.Tonnage = tonnage
	out.ProducerPrice = rate.ProducerPrice
	out.BuyerMargin = rate.BuyerMargin
	out.SecondaryEvacCost = rate.SecondaryEvacCost
	out.TakeoverPrice = rate.TakeoverPrice
	out.ProducerValue = money.Round2(tonnage.Mul(rate.ProducerPrice))
	out.MarginValue = money.Round2(tonnage.Mul(rate.BuyerMargin))
	out.EvacuationValue = money.Round2(tonnage.Mul(rate.SecondaryEvacCost))
	out.LineTotal = money.Round2(tonnage.Mul(rate.TakeoverPrice))
	return out, nil
}

func validateInput(in LineInput) error {
	if in.TakeoverCenterID == 0 {
		return shared.Errorf(shared.KindValidation, "takeover center required")
	}
	if in.Bags <= 0 {
		return shared.Errorf(shared.KindValidation, "bags must be positive")
	}
	if !in.Treatment.Valid() {
		return shared.Errorf(shared.KindValidation, "unknown evacuation treatment %q", in.Treatment)
	}
	return nil
}

// Summarize totals the valid lines. Tonnage is rounded only here.
func Summarize(lines []CostedLine) Totals {
	t := Totals{
		TotalTonnage:       decimal.Zero,
		ProducerValue:      decimal.Zero,
		MarginValue:        decimal.Zero,
		EvacuationValue:    decimal.Zero,
		PaidEvacuation:     decimal.Zero,
		DeductedEvacuation: decimal.Zero,
		LineTotal:          decimal.Zero,
	}
	tonnage := decimal.Zero
	for _, l := range lines {
		if l.Excluded {
			t.ExcludedLines++
			t.Warnings = append(t.Warnings, l.Reason)
			continue
		}
		t.ValidLines++
		t.TotalBags += l.Bags
		tonnage = tonnage.Add(l.Tonnage)
		t.ProducerValue = t.ProducerValue.Add(l.ProducerValue)
		t.MarginValue = t.MarginValue.Add(l.MarginValue)
		t.EvacuationValue = t.EvacuationValue.Add(l.EvacuationValue)
		t.LineTotal = t.LineTotal.Add(l.LineTotal)
		if l.Treatment == TreatmentDeducted {
			t.DeductedEvacuation = t.DeductedEvacuation.Add(l.EvacuationValue)
		} else {
			t.PaidEvacuation = t.PaidEvacuation.Add(l.EvacuationValue)
		}
	}
	t.TotalTonnage = money.Round3(tonnage)
	return t
}

// ComputeCtroLine prices a single line as of date.
func (e *Engine) ComputeCtroLine(ctx context.Context, companyID, depotID, centerID, bags int64, treatment Treatment, date time.Time) (CostedLine, error) {
	card, index, err := e.load(ctx, companyID, date)
	if err != nil {
		return CostedLine{}, err
	}
	if treatment == "" {
		treatment = TreatmentCompanyPaid
	}
	line, err := ComputeLine(card, index, LineInput{DepotID: depotID, TakeoverCenterID: centerID, Bags: bags, Treatment: treatment}, e.fallback)
	if err != nil && line.Excluded {
		e.logger.Warn("ctro line has no published rate",
			slog.Int64("company_id", companyID),
			slog.Int64("rate_card_id", card.ID),
			slog.Int64("depot_id", depotID),
			slog.Int64("takeover_center_id", centerID))
	}
	return line, err
}

// CostLines prices every line of a document. Lines without a published rate
// are returned excluded; a missing rate card or invalid input aborts.
func (e *Engine) CostLines(ctx context.Context, companyID int64, date time.Time, inputs []LineInput) ([]CostedLine, Totals, error) {
	if len(inputs) == 0 {
		return nil, Totals{}, shared.Errorf(shared.KindValidation, "CTRO requires at least one line")
	}
	card, index, err := e.load(ctx, companyID, date)
	if err != nil {
		return nil, Totals{}, err
	}
	out := make([]CostedLine, 0, len(inputs))
	for i, in := range inputs {
		line, err := ComputeLine(card, index, in, e.fallback)
		if err != nil {
			if !line.Excluded {
				return nil, Totals{}, shared.Errorf(shared.KindValidation, "line %d: %s", i+1, shared.ReasonOf(err))
			}
			e.logger.Warn("ctro line has no published rate",
				slog.Int64("company_id", companyID),
				slog.Int64("rate_card_id", card.ID),
				slog.Int("line", i+1),
				slog.Int64("depot_id", in.DepotID),
				slog.Int64("takeover_center_id", in.TakeoverCenterID))
		}
		out = append(out, line)
	}
	return out, Summarize(out), nil
}

func (e *Engine) load(ctx context.Context, companyID int64, date time.Time) (RateCard, map[LineKey]RateCardLine, error) {
	cards, err := e.rates.RateCardsCovering(ctx, companyID, date)
	if err != nil {
		return RateCard{}, nil, err
	}
	card, err := SelectRateCard(cards, date)
	if err != nil {
		return RateCard{}, nil, err
	}
	index, dups, err := IndexLines(card.Lines, e.policy)
	if err != nil {
		return RateCard{}, nil, err
	}
	for _, d := range dups {
		e.logger.Warn("duplicate rate card line discarded",
			slog.Int64("rate_card_id", card.ID),
			slog.Int64("depot_id", d.Key.DepotID),
			slog.Int64("takeover_center_id", d.Key.TakeoverCenterID),
			slog.Int64("kept_id", d.KeptID),
			slog.Int64("dropped_id", d.DroppedID))
	}
	return card, index, nil
}

// Publish validates and stores a rate card.
func (e *Engine) Publish(ctx context.Context, actor rbac.Principal, card RateCard) (RateCard, error) {
	if err := rbac.Authorize(actor, rbac.Target{}, rbac.ActionConfigure); err != nil {
		return RateCard{}, err
	}
	if actor.CompanyID != 0 && card.CompanyID != actor.CompanyID {
		return RateCard{}, shared.Errorf(shared.KindPermissionDenied, "company %d is outside your scope", card.CompanyID)
	}
	if err := card.Validate(e.policy); err != nil {
		return RateCard{}, err
	}
	stored, err := e.rates.InsertRateCard(ctx, card)
	if err != nil {
		return RateCard{}, err
	}
	e.audit.Record(ctx, audit.Change{Entity: "rate_card", EntityID: stored.ID, Action: "rate_card.publish", After: stored, ActorID: actor.UserID})
	return stored, nil
}

// CurrentRateCard returns the card effective on date.
func (e *Engine) CurrentRateCard(ctx context.Context, companyID int64, date time.Time) (RateCard, error) {
	card, _, err := e.load(ctx, companyID, date)
	return card, err
}
