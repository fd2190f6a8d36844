// Package documents runs the maker/checker workflow of financial documents.
package documents

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ctro"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// DocType enumerates supported documents.
type DocType string

const (
	TypeInvoice        DocType = "INVOICE"
	TypeBill           DocType = "BILL"
	TypeReceipt        DocType = "RECEIPT"
	TypePaymentVoucher DocType = "PAYMENT_VOUCHER"
	TypeCTRO           DocType = "CTRO"
)

// ParseType accepts "invoice", "payment-voucher" and similar spellings.
func ParseType(raw string) (DocType, bool) {
	norm := DocType(strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToUpper(strings.TrimSpace(raw))))
	switch norm {
	case TypeInvoice, TypeBill, TypeReceipt, TypePaymentVoucher, TypeCTRO:
		return norm, true
	case "VOUCHER":
		return TypePaymentVoucher, true
	}
	return "", false
}

// ParseStatus normalizes a document status such as "posted".
func ParseStatus(raw string) (shared.Status, bool) {
	st := shared.Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch st {
	case shared.StatusDraft, shared.StatusSubmitted, shared.StatusPosted, shared.StatusReversed, shared.StatusVoided:
		return st, true
	}
	return "", false
}

// Label is the human name of the type.
func (t DocType) Label() string {
	return strings.ToLower(strings.ReplaceAll(string(t), "_", " "))
}

// Mapping modules and keys used by the document strategies.
const (
	ModuleAR                 = "AR"
	ModuleAP                 = "AP"
	KeyControl               = "control"
	KeyWithholdingReceivable = "withholding_receivable"
	KeyWithholdingPayable    = "withholding_payable"
)

// Line is a priced line of an invoice or bill.
type Line struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Allocation applies part of a settlement to a target document.
type Allocation struct {
	ID          int64           `json:"id"`
	TargetID    int64           `json:"target_id"`
	TargetDocNo string          `json:"target_doc_no,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// Settlement holds the cash side of a receipt or voucher.
type Settlement struct {
	Amount        decimal.Decimal `json:"amount"`
	Withholding   decimal.Decimal `json:"withholding"`
	CashAccountID int64           `json:"cash_account_id"`
}

// Total is amount plus withholding, the value allocations must match.
func (s Settlement) Total() decimal.Decimal { return s.Amount.Add(s.Withholding) }

// Totals is the derived projection of a document.
type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Withholding decimal.Decimal `json:"withholding"`
	Total       decimal.Decimal `json:"total"`
	Ctro        *ctro.Totals    `json:"ctro,omitempty"`
}

// Document is the common header of every financial document.
type Document struct {
	ID                  int64             `json:"id"`
	CompanyID           int64             `json:"company_id"`
	PeriodID            int64             `json:"period_id"`
	Type                DocType           `json:"type"`
	DocNo               string            `json:"doc_no"`
	DocDate             time.Time         `json:"doc_date"`
	DueDate             time.Time         `json:"due_date"`
	PartyID             int64             `json:"party_id"`
	Status              shared.Status     `json:"status"`
	Narration           string            `json:"narration,omitempty"`
	CreatedBy           int64             `json:"created_by"`
	SubmittedBy         *int64            `json:"submitted_by,omitempty"`
	SubmittedAt         *time.Time        `json:"submitted_at,omitempty"`
	PostedBy            *int64            `json:"posted_by,omitempty"`
	PostedAt            *time.Time        `json:"posted_at,omitempty"`
	ClosedBy            *int64            `json:"closed_by,omitempty"`
	ClosedAt            *time.Time        `json:"closed_at,omitempty"`
	CloseReason         string            `json:"close_reason,omitempty"`
	JournalID           *int64            `json:"journal_id,omitempty"`
	ReversalJournalID   *int64            `json:"reversal_journal_id,omitempty"`
	Lines               []Line            `json:"lines,omitempty"`
	CtroLines           []ctro.CostedLine `json:"ctro_lines,omitempty"`
	Allocations         []Allocation      `json:"allocations,omitempty"`
	Settlement          Settlement        `json:"settlement"`
	EvacuationAccountID int64             `json:"evacuation_account_id,omitempty"`
	Totals              Totals            `json:"totals"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// SourceID derives the stable journal source reference of a document.
func (d Document) SourceID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("backoffice:document:%d", d.ID)))
}

// LineInput is a caller supplied invoice or bill line.
type LineInput struct {
	AccountID   int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// AllocationInput is a caller supplied allocation.
type AllocationInput struct {
	TargetID int64
	Amount   decimal.Decimal
}

// DraftInput carries everything needed to create or replace a draft.
type DraftInput struct {
	Type                DocType
	CompanyID           int64
	DocDate             time.Time
	DueDate             time.Time
	PartyID             int64
	Narration           string
	Lines               []LineInput
	CtroLines           []ctro.LineInput
	Allocations         []AllocationInput
	Settlement          Settlement
	EvacuationAccountID int64
}

// ListFilter narrows document listings. Zero fields are ignored.
type ListFilter struct {
	CompanyID int64
	Types     []DocType
	Statuses  []shared.Status
	PartyID   int64
}

// Matches reports whether doc passes the filter.
func (f ListFilter) Matches(doc Document) bool {
	if f.CompanyID != 0 && doc.CompanyID != f.CompanyID {
		return false
	}
	if f.PartyID != 0 && doc.PartyID != f.PartyID {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, doc.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, doc.Status) {
		return false
	}
	return true
}

func containsType(list []DocType, t DocType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsStatus(list []shared.Status, s shared.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func ctroInput(in ctro.LineInput) ctro.CostedLine {
	return ctro.CostedLine{LineInput: in}
}
