package documents_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/ctro"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/periods"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/store/memory"
)

var (
	admin    = rbac.Principal{UserID: 1, CompanyID: 1, Roles: []rbac.Role{rbac.RoleAdmin}}
	manager  = rbac.Principal{UserID: 2, CompanyID: 1, Roles: []rbac.Role{rbac.RoleManager}}
	officer  = rbac.Principal{UserID: 3, CompanyID: 1, Roles: []rbac.Role{rbac.RoleAccountsOfficer}}
	admin2   = rbac.Principal{UserID: 4, CompanyID: 1, Roles: []rbac.Role{rbac.RoleAdmin}}
	director = rbac.Principal{UserID: 5, CompanyID: 1, Roles: []rbac.Role{rbac.RoleDirector}}
)

const party = 501

type invalidations struct {
	mu     sync.Mutex
	events []int64
}

func (i *invalidations) LedgerChanged(_ context.Context, companyID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.events = append(i.events, companyID)
}

type fixture struct {
	store   *memory.Store
	sink    *audit.MemorySink
	ledger  *accounting.Service
	periods *periods.Service
	engine  *ctro.Engine
	svc     *documents.Service
	inv     *invalidations
	period  periods.Period
	today   time.Time

	cash, ar, whtRec, ap, whtPay, sales, purchases   accounting.Account
	inventory, advances, evacCost, evacPay, foreign accounting.Account
}

type option func(skip map[string]bool)

func withoutMapping(module, key string) option {
	return func(skip map[string]bool) { skip[module+"."+key] = true }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	today := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return today }
	f := &fixture{store: memory.New(), sink: audit.NewMemorySink(), inv: &invalidations{}, today: today}
	f.store.WithNow(clock)
	recorder := audit.NewRecorder(f.sink, nil)
	numbers := numbering.NewSequencer(numbering.NewMemoryStore())

	f.ledger = accounting.NewService(f.store.Ledger(), recorder, numbers, nil)
	f.ledger.WithNow(clock)
	f.periods = periods.NewService(f.store.Periods(), recorder, nil)
	f.periods.WithNow(clock)
	f.engine = ctro.NewEngine(f.store.RateCards(), recorder, nil)
	f.svc = documents.NewService(f.store.Documents(), f.ledger, numbers, documents.DefaultRegistry(f.engine), recorder, nil)
	f.svc.WithNow(clock)
	f.svc.WithInvalidator(f.inv)

	f.period = f.store.SeedPeriod(1, 2024, 3)
	seed := func(code, name string, normal accounting.NormalBalance) accounting.Account {
		return f.store.SeedAccount(1, code, name, normal)
	}
	f.cash = seed("1000", "Bank", accounting.NormalDebit)
	f.ar = seed("1100", "Receivables", accounting.NormalDebit)
	f.whtRec = seed("1150", "WHT receivable", accounting.NormalDebit)
	f.inventory = seed("1300", "CTRO inventory", accounting.NormalDebit)
	f.advances = seed("1400", "Advances to agents", accounting.NormalDebit)
	f.ap = seed("2000", "Payables", accounting.NormalCredit)
	f.whtPay = seed("2150", "WHT payable", accounting.NormalCredit)
	f.evacPay = seed("2200", "Evacuation payable", accounting.NormalCredit)
	f.sales = seed("4000", "Sales", accounting.NormalCredit)
	f.purchases = seed("5000", "Purchases", accounting.NormalDebit)
	f.evacCost = seed("5200", "Evacuation cost", accounting.NormalDebit)
	f.foreign = f.store.SeedAccount(2, "4000", "Sales", accounting.NormalCredit)

	skip := map[string]bool{}
	for _, opt := range opts {
		opt(skip)
	}
	mapping := func(module, key string, accountID int64) {
		if !skip[module+"."+key] {
			f.store.SeedMapping(1, module, key, accountID)
		}
	}
	mapping(documents.ModuleAR, documents.KeyControl, f.ar.ID)
	mapping(documents.ModuleAR, documents.KeyWithholdingReceivable, f.whtRec.ID)
	mapping(documents.ModuleAP, documents.KeyControl, f.ap.ID)
	mapping(documents.ModuleAP, documents.KeyWithholdingPayable, f.whtPay.ID)
	mapping(ctro.MappingModule, ctro.KeyInventory, f.inventory.ID)
	mapping(ctro.MappingModule, ctro.KeyAdvancesToAgents, f.advances.ID)
	mapping(ctro.MappingModule, ctro.KeyEvacuationCost, f.evacCost.ID)
	mapping(ctro.MappingModule, ctro.KeyEvacuationPayable, f.evacPay.ID)
	return f
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func march(day int) time.Time { return time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC) }

func (f *fixture) invoiceInput() documents.DraftInput {
	return documents.DraftInput{
		Type:      documents.TypeInvoice,
		CompanyID: 1,
		DocDate:   march(5),
		DueDate:   march(19),
		PartyID:   party,
		Lines: []documents.LineInput{
			{AccountID: f.sales.ID, Description: "cocoa sacks", Quantity: d("2"), UnitPrice: d("50")},
			{AccountID: f.sales.ID, Description: "haulage", Quantity: d("1"), UnitPrice: d("25.50")},
		},
	}
}

func (f *fixture) billInput(amount string) documents.DraftInput {
	return documents.DraftInput{
		Type:      documents.TypeBill,
		CompanyID: 1,
		DocDate:   march(6),
		PartyID:   party,
		Lines:     []documents.LineInput{{AccountID: f.purchases.ID, Description: "jute", Quantity: d("1"), UnitPrice: d(amount)}},
	}
}

// postedInvoice creates, submits and posts an invoice for 125.50.
func (f *fixture) postedInvoice(t *testing.T) documents.Document {
	t.Helper()
	return f.postDraft(t, f.invoiceInput())
}

func (f *fixture) postDraft(t *testing.T, in documents.DraftInput) documents.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := f.svc.CreateDraft(ctx, officer, in)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, officer, doc.ID)
	require.NoError(t, err)
	posted, err := f.svc.Post(ctx, manager, doc.ID)
	require.NoError(t, err)
	return posted
}

func (f *fixture) journalOf(t *testing.T, doc documents.Document) accounting.JournalEntry {
	t.Helper()
	require.NotNil(t, doc.JournalID)
	entry, err := f.ledger.GetJournal(context.Background(), *doc.JournalID)
	require.NoError(t, err)
	return entry
}

func amountOn(entry accounting.JournalEntry, accountID int64) (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range entry.Lines {
		if l.AccountID == accountID {
			debit = debit.Add(l.Debit)
			credit = credit.Add(l.Credit)
		}
	}
	return debit, credit
}

func requireAmounts(t *testing.T, entry accounting.JournalEntry, accountID int64, debit, credit string) {
	t.Helper()
	dr, cr := amountOn(entry, accountID)
	require.Equal(t, debit, dr.StringFixed(2), "debit on account %d", accountID)
	require.Equal(t, credit, cr.StringFixed(2), "credit on account %d", accountID)
}
