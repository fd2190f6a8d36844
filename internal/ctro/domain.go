// Package ctro costs cocoa takeover receipts against published rate cards.
package ctro

import (
	"time"

	"github.com/shopspring/decimal"
)

// Treatment decides who bears secondary evacuation.
type Treatment string

const (
	TreatmentCompanyPaid Treatment = "COMPANY_PAID"
	TreatmentDeducted    Treatment = "DEDUCTED"
)

// Valid reports whether t is a known treatment.
func (t Treatment) Valid() bool {
	return t == TreatmentCompanyPaid || t == TreatmentDeducted
}

// DefaultBagsPerTonne applies when a card carries neither bags per tonne nor bag weight.
var DefaultBagsPerTonne = decimal.NewFromInt(16)

// RateCard is a seasonal, date-effective price list.
type RateCard struct {
	ID            int64           `json:"id"`
	CompanyID     int64           `json:"company_id"`
	Season        string          `json:"season"`
	BagWeightKg   decimal.Decimal `json:"bag_weight_kg"`
	BagsPerTonne  decimal.Decimal `json:"bags_per_tonne"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []RateCardLine  `json:"lines"`
}

// RateCardLine prices one (depot, takeover center) pair per tonne.
type RateCardLine struct {
	ID                int64           `json:"id"`
	RateCardID        int64           `json:"rate_card_id"`
	RegionID          int64           `json:"region_id"`
	DistrictID        int64           `json:"district_id"`
	DepotID           *int64          `json:"depot_id,omitempty"`
	TakeoverCenterID  int64           `json:"takeover_center_id"`
	ProducerPrice     decimal.Decimal `json:"producer_price"`
	BuyerMargin       decimal.Decimal `json:"buyer_margin"`
	SecondaryEvacCost decimal.Decimal `json:"secondary_evac_cost"`
	TakeoverPrice     decimal.Decimal `json:"takeover_price"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Key returns the lookup key of the line.
func (l RateCardLine) Key() LineKey {
	k := LineKey{TakeoverCenterID: l.TakeoverCenterID}
	if l.DepotID != nil {
		k.DepotID = *l.DepotID
	}
	return k
}

// LineKey identifies a rate. DepotID zero means the line has no depot.
type LineKey struct {
	DepotID          int64 `json:"depot_id"`
	TakeoverCenterID int64 `json:"takeover_center_id"`
}

// LineInput is a CTRO line as captured on the document.
type LineInput struct {
	DepotID          int64     `json:"depot_id"`
	TakeoverCenterID int64     `json:"takeover_center_id"`
	Bags             int64     `json:"bags"`
	Treatment        Treatment `json:"treatment"`
}

// Key returns the lookup key of the input.
func (in LineInput) Key() LineKey {
	return LineKey{DepotID: in.DepotID, TakeoverCenterID: in.TakeoverCenterID}
}

// CostedLine is a priced CTRO line. Tonnage is kept unrounded.
type CostedLine struct {
	LineInput
	RateCardID        int64           `json:"rate_card_id"`
	RateCardLineID    int64           `json:"rate_card_line_id"`
	Tonnage           decimal.Decimal `json:"tonnage"`
	ProducerPrice     decimal.Decimal `json:"producer_price"`
	BuyerMargin       decimal.Decimal `json:"buyer_margin"`
	SecondaryEvacCost decimal.Decimal `json:"secondary_evac_cost"`
	TakeoverPrice     decimal.Decimal `json:"takeover_price"`
	ProducerValue     decimal.Decimal `json:"producer_value"`
	MarginValue       decimal.Decimal `json:"margin_value"`
	EvacuationValue   decimal.Decimal `json:"evacuation_value"`
	LineTotal         decimal.Decimal `json:"line_total"`
	// Excluded lines carry no published rate and never post.
	Excluded bool   `json:"excluded"`
	Reason   string `json:"reason,omitempty"`
}

// Totals aggregates costed lines.
type Totals struct {
	TotalBags          int64           `json:"total_bags"`
	TotalTonnage       decimal.Decimal `json:"total_tonnage"`
	ProducerValue      decimal.Decimal `json:"producer_value"`
	MarginValue        decimal.Decimal `json:"margin_value"`
	EvacuationValue    decimal.Decimal `json:"evacuation_value"`
	PaidEvacuation     decimal.Decimal `json:"paid_evacuation"`
	DeductedEvacuation decimal.Decimal `json:"deducted_evacuation"`
	LineTotal          decimal.Decimal `json:"line_total"`
	ValidLines         int             `json:"valid_lines"`
	ExcludedLines      int             `json:"excluded_lines"`
	Warnings           []string        `json:"warnings,omitempty"`
}

// DuplicateWarning reports a discarded rate-card line.
type DuplicateWarning struct {
	Key       LineKey `json:"key"`
	KeptID    int64   `json:"kept_id"`
	DroppedID int64   `json:"dropped_id"`
}

// DuplicatePolicy decides what happens to duplicate (depot, center) lines.
type DuplicatePolicy int

const (
	// DuplicateDiscard keeps the most recently created line and warns.
	DuplicateDiscard DuplicatePolicy = iota
	// DuplicateReject refuses the card.
	DuplicateReject
)
