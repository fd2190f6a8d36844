package documents

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ctro"
)

type lineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required"`
	Description string          `json:"description" validate:"max=255"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type ctroLineRequest struct {
	DepotID          int64  `json:"depot_id" validate:"required"`
	TakeoverCenterID int64  `json:"takeover_center_id" validate:"required"`
	Bags             int64  `json:"bags" validate:"gt=0"`
	Treatment        string `json:"treatment" validate:"required,oneof=COMPANY_PAID DEDUCTED"`
}

type allocationRequest struct {
	TargetID int64           `json:"target_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

type draftRequest struct {
	CompanyID           int64               `json:"company_id"`
	DocDate             string              `json:"doc_date" validate:"required,datetime=2006-01-02"`
	DueDate             string              `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	PartyID             int64               `json:"party_id" validate:"required"`
	Narration           string              `json:"narration" validate:"max=500"`
	Lines               []lineRequest       `json:"lines" validate:"dive"`
	CtroLines           []ctroLineRequest   `json:"ctro_lines" validate:"dive"`
	Allocations         []allocationRequest `json:"allocations" validate:"dive"`
	Amount              decimal.Decimal     `json:"amount"`
	Withholding         decimal.Decimal     `json:"withholding"`
	CashAccountID       int64               `json:"cash_account_id"`
	EvacuationAccountID int64               `json:"evacuation_account_id"`
}

func (req draftRequest) toInput(t DocType, companyID int64) DraftInput {
	in := DraftInput{
		Type:                t,
		CompanyID:           companyID,
		PartyID:             req.PartyID,
		Narration:           req.Narration,
		Settlement:          Settlement{Amount: req.Amount, Withholding: req.Withholding, CashAccountID: req.CashAccountID},
		EvacuationAccountID: req.EvacuationAccountID,
	}
	if req.CompanyID != 0 {
		in.CompanyID = req.CompanyID
	}
	in.DocDate, _ = time.Parse(time.DateOnly, req.DocDate)
	if req.DueDate != "" {
		in.DueDate, _ = time.Parse(time.DateOnly, req.DueDate)
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, LineInput{AccountID: l.AccountID, Description: l.Description, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	for _, l := range req.CtroLines {
		in.CtroLines = append(in.CtroLines, ctro.LineInput{DepotID: l.DepotID, TakeoverCenterID: l.TakeoverCenterID, Bags: l.Bags, Treatment: ctro.Treatment(l.Treatment)})
	}
	for _, a := range req.Allocations {
		in.Allocations = append(in.Allocations, AllocationInput{TargetID: a.TargetID, Amount: a.Amount})
	}
	return in
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}
