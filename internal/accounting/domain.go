package accounting

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// NormalBalance is the side an account normally carries.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// Account models a chart of accounts node of one company.
type Account struct {
	ID            int64         `json:"id"`
	CompanyID     int64         `json:"company_id"`
	Code          string        `json:"code"`
	Name          string        `json:"name"`
	NormalBalance NormalBalance `json:"normal_balance"`
	IsControl     bool          `json:"is_control"`
	IsActive      bool          `json:"is_active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// AccountMapping links an integration key to a ledger account.
type AccountMapping struct {
	CompanyID int64  `json:"company_id"`
	Module    string `json:"module"`
	Key       string `json:"key"`
	AccountID int64  `json:"account_id"`
}

// NormalizeMappingKey uppercases the module and lowercases the key.
func NormalizeMappingKey(module, key string) (string, string) {
	return strings.ToUpper(strings.TrimSpace(module)), strings.ToLower(strings.TrimSpace(key))
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID         int64         `json:"id"`
	CompanyID  int64         `json:"company_id"`
	PeriodID   int64         `json:"period_id"`
	Number     string        `json:"number"`
	Date       time.Time     `json:"date"`
	Narration  string        `json:"narration"`
	Status     shared.Status `json:"status"`
	Source     string        `json:"source"`
	SourceID   uuid.UUID     `json:"source_id"`
	CreatedBy  int64         `json:"created_by"`
	ApprovedBy *int64        `json:"approved_by,omitempty"`
	ApprovedAt *time.Time    `json:"approved_at,omitempty"`
	PostedBy   *int64        `json:"posted_by,omitempty"`
	PostedAt   *time.Time    `json:"posted_at,omitempty"`
	ReversalOf *int64        `json:"reversal_of,omitempty"`
	ReversedBy *int64        `json:"reversed_by,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Lines      []JournalLine `json:"lines,omitempty"`
}

// Journal sources. Document postings use SourceDocumentPrefix plus the
// document type; reversals append ReversalSuffix to the original source.
const (
	SourceDocumentPrefix = "DOC:"
	ReversalSuffix       = ":REVERSAL"
)

// DocumentType returns the owning document type of a document journal, or "".
func (e JournalEntry) DocumentType() string {
	if !strings.HasPrefix(e.Source, SourceDocumentPrefix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(e.Source, SourceDocumentPrefix), ReversalSuffix)
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID        int64           `json:"id"`
	JournalID int64           `json:"journal_id"`
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}

// CountsInLedger reports whether an entry's lines affect balances. A reversed
// entry still counts; its mirror offsets it.
func CountsInLedger(status shared.Status) bool {
	return status == shared.StatusPosted || status == shared.StatusReversed
}

// PostingLineInput describes a journal line for a posting request.
type PostingLineInput struct {
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	CompanyID  int64
	PeriodID   int64
	Date       time.Time
	Narration  string
	Source     string
	SourceID   uuid.UUID
	ActorID    int64
	ReversalOf *int64
	Lines      []PostingLineInput
}

// SumLines totals debits and credits.
func SumLines(lines []PostingLineInput) (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Validate checks shape and balance; tolerance zero means money.Tolerance.
func (in PostingInput) Validate(tolerance decimal.Decimal) error {
	if in.CompanyID == 0 {
		return shared.Errorf(shared.KindValidation, "company required")
	}
	if in.PeriodID == 0 {
		return shared.Errorf(shared.KindValidation, "period required")
	}
	if in.Date.IsZero() {
		return shared.Errorf(shared.KindValidation, "journal date required")
	}
	if len(in.Lines) < 2 {
		return shared.Errorf(shared.KindValidation, "journal requires at least two lines")
	}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return shared.Errorf(shared.KindValidation, "line %d missing account", idx+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.Errorf(shared.KindValidation, "line %d has a negative amount", idx+1)
		}
		debit, credit := line.Debit.IsPositive(), line.Credit.IsPositive()
		if debit && credit {
			return shared.Errorf(shared.KindValidation, "line %d cannot be both debit and credit", idx+1)
		}
		if !debit && !credit {
			return shared.Errorf(shared.KindValidation, "line %d needs a debit or a credit", idx+1)
		}
	}
	if tolerance.IsZero() {
		tolerance = money.Tolerance
	}
	debit, credit := SumLines(in.Lines)
	if !money.WithinCustom(debit, credit, tolerance) {
		return shared.Errorf(shared.KindUnbalanced, "journal lines must balance: debits %s, credits %s", money.Fixed(debit), money.Fixed(credit))
	}
	return nil
}

// ToPostingLines converts stored lines back into inputs.
func ToPostingLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, PostingLineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo})
	}
	return out
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, PostingLineInput{AccountID: l.AccountID, Debit: l.Credit, Credit: l.Debit, Memo: l.Memo})
	}
	return out
}

// AccountTotal is the summed activity of one account.
type AccountTotal struct {
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// Net returns debit minus credit.
func (t AccountTotal) Net() decimal.Decimal { return t.Debit.Sub(t.Credit) }

// LineFilter narrows ledger aggregation. Zero fields are ignored.
type LineFilter struct {
	CompanyID int64
	PeriodID  int64
	AccountID int64
}

// JournalTotal is the summed lines of one journal.
type JournalTotal struct {
	JournalID int64           `json:"journal_id"`
	Number    string          `json:"number"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}
