package reconcile_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/ctro"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/store/memory"
)

var (
	officer = rbac.Principal{UserID: 3, CompanyID: 1, Roles: []rbac.Role{rbac.RoleAccountsOfficer}}
	manager = rbac.Principal{UserID: 2, CompanyID: 1, Roles: []rbac.Role{rbac.RoleManager}}
)

type ledgerFixture struct {
	docs    *documents.Service
	reports *reconcile.Service
	ledger  *accounting.Service
	codes   map[string]int64
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	today := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return today }
	store := memory.New()
	store.WithNow(clock)
	store.SeedDemo(1, today)

	recorder := audit.NewRecorder(audit.NewMemorySink(), nil)
	numbers := numbering.NewSequencer(numbering.NewMemoryStore())
	ledger := accounting.NewService(store.Ledger(), recorder, numbers, nil)
	ledger.WithNow(clock)
	engine := ctro.NewEngine(store.RateCards(), recorder, nil)
	docs := documents.NewService(store.Documents(), ledger, numbers, documents.DefaultRegistry(engine), recorder, nil)
	docs.WithNow(clock)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := reconcile.NewReportCache(client, time.Hour, nil)
	docs.WithInvalidator(cache)
	ledger.WithInvalidator(cache)
	reports := reconcile.NewService(docs, ledger, cache, nil)
	reports.WithNow(clock)

	accounts, err := ledger.ListAccounts(context.Background(), 1)
	require.NoError(t, err)
	codes := map[string]int64{}
	for _, a := range accounts {
		codes[a.Code] = a.ID
	}
	return &ledgerFixture{docs: docs, reports: reports, ledger: ledger, codes: codes}
}

func (f *ledgerFixture) post(t *testing.T, in documents.DraftInput) documents.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := f.docs.CreateDraft(ctx, officer, in)
	require.NoError(t, err)
	_, err = f.docs.Submit(ctx, officer, doc.ID)
	require.NoError(t, err)
	posted, err := f.docs.Post(ctx, manager, doc.ID)
	require.NoError(t, err)
	return posted
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPostedReceiptReconcilesAndInvalidatesReports(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	inv := f.post(t, documents.DraftInput{
		Type: documents.TypeInvoice, CompanyID: 1, PartyID: 77,
		DocDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Lines:   []documents.LineInput{{AccountID: f.codes["4000"], Quantity: money("1"), UnitPrice: money("1000")}},
	})

	res, err := f.reports.Reconcile(ctx, 1, reconcile.SideAR)
	require.NoError(t, err)
	require.True(t, res.Healthy())
	require.Equal(t, "1000.00", res.ControlBalance.StringFixed(2))

	aging, err := f.reports.Aging(ctx, 1, 77, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "1000.00", aging.Buckets[reconcile.Bucket1To30].StringFixed(2))

	f.post(t, documents.DraftInput{
		Type: documents.TypeReceipt, CompanyID: 1, PartyID: 77,
		DocDate:     time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
		Settlement:  documents.Settlement{Amount: money("1000"), Withholding: decimal.Zero, CashAccountID: f.codes["1000"]},
		Allocations: []documents.AllocationInput{{TargetID: inv.ID, Amount: money("1000")}},
	})

	res, err = f.reports.Reconcile(ctx, 1, reconcile.SideAR)
	require.NoError(t, err)
	require.True(t, res.Healthy())
	require.True(t, res.ControlBalance.IsZero())
	require.True(t, res.SubledgerTotal.IsZero())

	aging, err = f.reports.Aging(ctx, 1, 77, time.Time{})
	require.NoError(t, err)
	require.True(t, aging.Total.IsZero())

	st, err := f.reports.Statement(ctx, 1, 77)
	require.NoError(t, err)
	require.Len(t, st.Rows, 2)
	require.True(t, st.ClosingBalance.IsZero())
}

func (f *ledgerFixture) postInvoice(t *testing.T, total string) documents.Document {
	t.Helper()
	return f.post(t, documents.DraftInput{
		Type: documents.TypeInvoice, CompanyID: 1, PartyID: 77,
		DocDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Lines:   []documents.LineInput{{AccountID: f.codes["4000"], Quantity: money("1"), UnitPrice: money(total)}},
	})
}

func TestManualJournalOnControlAccountShowsInReconcile(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.postInvoice(t, "1000")

	res, err := f.reports.Reconcile(ctx, 1, reconcile.SideAR)
	require.NoError(t, err)
	require.True(t, res.Healthy())

	_, err = f.ledger.PostJournal(ctx, accounting.PostingInput{
		CompanyID: 1,
		PeriodID:  inv.PeriodID,
		Date:      time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Narration: "manual adjustment",
		ActorID:   manager.UserID,
		Lines: []accounting.PostingLineInput{
			{AccountID: f.codes["1100"], Debit: money("50"), Credit: decimal.Zero},
			{AccountID: f.codes["4000"], Debit: decimal.Zero, Credit: money("50")},
		},
	})
	require.NoError(t, err)

	res, err = f.reports.Reconcile(ctx, 1, reconcile.SideAR)
	require.NoError(t, err)
	require.False(t, res.Healthy())
	require.Equal(t, "1050.00", res.ControlBalance.StringFixed(2))
	require.Equal(t, "50.00", res.Difference.StringFixed(2))
}

func TestDocumentJournalReversedOnlyThroughDocument(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.postInvoice(t, "400")
	require.NotNil(t, inv.JournalID)

	_, err := f.ledger.ReverseJournal(ctx, manager, *inv.JournalID, "wrong customer")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	stored, err := f.docs.Get(ctx, manager, inv.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusPosted, stored.Status)
	entry, err := f.ledger.GetJournal(ctx, *inv.JournalID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusPosted, entry.Status)

	reversed, err := f.docs.Reverse(ctx, manager, inv.ID, "wrong customer")
	require.NoError(t, err)
	require.Equal(t, shared.StatusReversed, reversed.Status)

	res, err := f.reports.Reconcile(ctx, 1, reconcile.SideAR)
	require.NoError(t, err)
	require.True(t, res.Healthy())
	require.True(t, res.ControlBalance.IsZero())
}
