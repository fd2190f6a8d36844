package reconcile

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/documents"
)

// Side selects the receivable or payable subledger.
type Side string

const (
	SideAR Side = "AR"
	SideAP Side = "AP"
)

// ParseSide accepts "ar"/"ap" in any case.
func ParseSide(raw string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideAR:
		return SideAR, true
	case SideAP:
		return SideAP, true
	}
	return "", false
}

// module is the mapping module holding the side's control account.
func (s Side) module() string {
	if s == SideAP {
		return documents.ModuleAP
	}
	return documents.ModuleAR
}

// documentType is the document that raises the subledger.
func (s Side) documentType() documents.DocType {
	if s == SideAP {
		return documents.TypeBill
	}
	return documents.TypeInvoice
}

// settlementType is the document that clears it.
func (s Side) settlementType() documents.DocType {
	if s == SideAP {
		return documents.TypePaymentVoucher
	}
	return documents.TypeReceipt
}

// Result compares a control account with its subledger.
type Result struct {
	CompanyID        int64           `json:"company_id"`
	Side             Side            `json:"side"`
	ControlAccountID int64           `json:"control_account_id"`
	ControlBalance   decimal.Decimal `json:"control_balance"`
	SubledgerTotal   decimal.Decimal `json:"subledger_total"`
	Difference       decimal.Decimal `json:"difference"`
}

// Healthy reports a zero difference.
func (r Result) Healthy() bool { return r.Difference.IsZero() }

// StatementRow is one line of a party statement.
type StatementRow struct {
	Date           time.Time       `json:"date"`
	DocumentID     int64           `json:"document_id"`
	DocNo          string          `json:"doc_no"`
	Description    string          `json:"description"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// Statement is the running-balance history of one party.
type Statement struct {
	CompanyID      int64           `json:"company_id"`
	PartyID        int64           `json:"party_id"`
	Rows           []StatementRow  `json:"rows"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// Bucket names in display order.
const (
	BucketCurrent = "Current"
	Bucket1To30   = "1-30"
	Bucket31To60  = "31-60"
	Bucket61To90  = "61-90"
	BucketOver90  = "90+"
)

// BucketNames lists buckets in display order.
var BucketNames = []string{BucketCurrent, Bucket1To30, Bucket31To60, Bucket61To90, BucketOver90}

// BucketFor places a document by days past due.
func BucketFor(daysPastDue int) string {
	switch {
	case daysPastDue <= 0:
		return BucketCurrent
	case daysPastDue <= 30:
		return Bucket1To30
	case daysPastDue <= 60:
		return Bucket31To60
	case daysPastDue <= 90:
		return Bucket61To90
	default:
		return BucketOver90
	}
}

// AgingItem is one open document.
type AgingItem struct {
	DocumentID  int64           `json:"document_id"`
	DocNo       string          `json:"doc_no"`
	PartyID     int64           `json:"party_id"`
	DueDate     time.Time       `json:"due_date"`
	DaysPastDue int             `json:"days_past_due"`
	Bucket      string          `json:"bucket"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// Aging totals open documents by bucket.
type Aging struct {
	CompanyID int64                      `json:"company_id"`
	PartyID   int64                      `json:"party_id,omitempty"`
	Side      Side                       `json:"side,omitempty"`
	AsOf      time.Time                  `json:"as_of"`
	Buckets   map[string]decimal.Decimal `json:"buckets"`
	Total     decimal.Decimal            `json:"total"`
	Items     []AgingItem                `json:"items"`
}

func newAging(companyID int64, asOf time.Time) Aging {
	buckets := make(map[string]decimal.Decimal, len(BucketNames))
	for _, name := range BucketNames {
		buckets[name] = decimal.Zero
	}
	return Aging{CompanyID: companyID, AsOf: asOf, Buckets: buckets, Total: decimal.Zero}
}

func (a *Aging) add(item AgingItem) {
	a.Buckets[item.Bucket] = a.Buckets[item.Bucket].Add(item.Outstanding)
	a.Total = a.Total.Add(item.Outstanding)
	a.Items = append(a.Items, item)
}

func daysBetween(from, to time.Time) int {
	return int(day(to).Sub(day(from)).Hours() / 24)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
