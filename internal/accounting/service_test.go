package accounting_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/periods"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/store/memory"
)

var (
	admin   = rbac.Principal{UserID: 1, CompanyID: 1, Roles: []rbac.Role{rbac.RoleAdmin}}
	manager = rbac.Principal{UserID: 2, CompanyID: 1, Roles: []rbac.Role{rbac.RoleManager}}
	officer = rbac.Principal{UserID: 3, CompanyID: 1, Roles: []rbac.Role{rbac.RoleAccountsOfficer}}
)

type fixture struct {
	store    *memory.Store
	sink     *audit.MemorySink
	svc      *accounting.Service
	periods  *periods.Service
	observer *countingObserver
	period   periods.Period
	cash     accounting.Account
	sales    accounting.Account
	foreign  accounting.Account
	today    time.Time
}

type countingObserver struct {
	posted map[string]int
	failed map[shared.Kind]int
}

func (o *countingObserver) JournalPosted(source string)   { o.posted[source]++ }
func (o *countingObserver) PostingFailed(kind shared.Kind) { o.failed[kind]++ }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	today := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return today }
	store := memory.New()
	store.WithNow(clock)
	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(sink, nil)
	svc := accounting.NewService(store.Ledger(), recorder, numbering.NewSequencer(numbering.NewMemoryStore()), nil)
	svc.WithNow(clock)
	obs := &countingObserver{posted: map[string]int{}, failed: map[shared.Kind]int{}}
	svc.WithObserver(obs)
	ps := periods.NewService(store.Periods(), recorder, nil)
	ps.WithNow(clock)
	return &fixture{
		store:    store,
		sink:     sink,
		svc:      svc,
		periods:  ps,
		observer: obs,
		period:   store.SeedPeriod(1, 2024, 3),
		cash:     store.SeedAccount(1, "1000", "Cash", accounting.NormalDebit),
		sales:    store.SeedAccount(1, "4000", "Sales", accounting.NormalCredit),
		foreign:  store.SeedAccount(2, "1000", "Cash", accounting.NormalDebit),
		today:    today,
	}
}

func (f *fixture) input(debit, credit string) accounting.PostingInput {
	return accounting.PostingInput{
		CompanyID: 1,
		PeriodID:  f.period.ID,
		Date:      time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Narration: "cash sale",
		ActorID:   admin.UserID,
		Lines: []accounting.PostingLineInput{
			{AccountID: f.cash.ID, Debit: decimal.RequireFromString(debit)},
			{AccountID: f.sales.ID, Credit: decimal.RequireFromString(credit)},
		},
	}
}

func TestPostJournalPersistsPostedEntry(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.PostJournal(context.Background(), f.input("100.00", "100.00"))
	require.NoError(t, err)
	require.Equal(t, shared.StatusPosted, entry.Status)
	require.Equal(t, "JV-2024-0001", entry.Number)
	require.Len(t, entry.Lines, 2)
	require.NotNil(t, entry.PostedAt)
	require.Equal(t, f.today, *entry.PostedAt)
	require.Equal(t, []string{"journal.post"}, f.sink.Actions())
	require.Equal(t, 1, f.observer.posted["MANUAL"])
}

func TestPostJournalBalanceTolerance(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PostJournal(context.Background(), f.input("100.004", "100.00"))
	require.NoError(t, err)

	_, err = f.svc.PostJournal(context.Background(), f.input("100.01", "100.00"))
	require.ErrorIs(t, err, shared.ErrUnbalanced)
	require.Contains(t, shared.ReasonOf(err), "debits 100.01, credits 100.00")
	require.Equal(t, 1, f.observer.failed[shared.KindUnbalanced])
}

func TestPostJournalRejectsBadShapes(t *testing.T) {
	f := newFixture(t)
	single := f.input("10", "10")
	single.Lines = single.Lines[:1]
	_, err := f.svc.PostJournal(context.Background(), single)
	require.ErrorIs(t, err, shared.ErrValidation)

	both := f.input("10", "10")
	both.Lines[0].Credit = decimal.NewFromInt(10)
	_, err = f.svc.PostJournal(context.Background(), both)
	require.ErrorIs(t, err, shared.ErrValidation)

	negative := f.input("-10", "-10")
	_, err = f.svc.PostJournal(context.Background(), negative)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPostJournalForeignAccountLeavesNothing(t *testing.T) {
	f := newFixture(t)
	in := f.input("50", "50")
	in.Lines[0].AccountID = f.foreign.ID
	_, err := f.svc.PostJournal(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrForeignAccount)

	entries, err := f.svc.ListJournals(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPostJournalIntoClosedPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.periods.Close(context.Background(), manager, f.period.ID)
	require.NoError(t, err)

	_, err = f.svc.PostJournal(context.Background(), f.input("10", "10"))
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Equal(t, "Period 2024-03 is closed", shared.ReasonOf(err))

	_, err = f.periods.Reopen(context.Background(), manager, f.period.ID, "late invoice")
	require.NoError(t, err)
	_, err = f.svc.PostJournal(context.Background(), f.input("10", "10"))
	require.NoError(t, err)
}

func TestPostJournalDateOutsidePeriod(t *testing.T) {
	f := newFixture(t)
	in := f.input("10", "10")
	in.Date = time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	_, err := f.svc.PostJournal(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDraftApprovePostPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateJournalDraft(ctx, admin, f.input("75", "75"))
	require.NoError(t, err)
	require.Equal(t, shared.StatusDraft, draft.Status)

	_, err = f.svc.PostApprovedJournal(ctx, manager, draft.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	_, err = f.svc.ApproveJournal(ctx, admin, draft.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.Equal(t, "You cannot approve a document you created", shared.ReasonOf(err))

	_, err = f.svc.ApproveJournal(ctx, officer, draft.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	approved, err := f.svc.ApproveJournal(ctx, manager, draft.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusApproved, approved.Status)

	posted, err := f.svc.PostApprovedJournal(ctx, manager, draft.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusPosted, posted.Status)
	require.Equal(t, manager.UserID, *posted.PostedBy)

	err = f.svc.DeleteJournalDraft(ctx, admin, draft.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.Equal(t, "Only draft journals can be deleted", shared.ReasonOf(err))
}

func TestDeleteJournalDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateJournalDraft(ctx, officer, f.input("20", "20"))
	require.NoError(t, err)
	err = f.svc.DeleteJournalDraft(ctx, officer, draft.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.NoError(t, f.svc.DeleteJournalDraft(ctx, admin, draft.ID))
	_, err = f.svc.GetJournal(ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReverseJournalMirrorsLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.PostJournal(ctx, f.input("120", "120"))
	require.NoError(t, err)

	_, err = f.svc.ReverseJournal(ctx, manager, entry.ID, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	reversal, err := f.svc.ReverseJournal(ctx, manager, entry.ID, "posted twice")
	require.NoError(t, err)
	require.Equal(t, entry.ID, *reversal.ReversalOf)
	require.Equal(t, f.today, reversal.Date)
	require.True(t, reversal.Lines[0].Credit.Equal(entry.Lines[0].Debit))
	require.True(t, reversal.Lines[1].Debit.Equal(entry.Lines[1].Credit))

	original, err := f.svc.GetJournal(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusReversed, original.Status)
	require.Equal(t, reversal.ID, *original.ReversedBy)
	require.True(t, original.Lines[0].Debit.Equal(decimal.NewFromInt(120)))

	_, err = f.svc.ReverseJournal(ctx, manager, entry.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	balance, err := f.svc.AccountBalance(ctx, f.cash.ID)
	require.NoError(t, err)
	require.True(t, balance.Net().IsZero())
}

func TestReverseJournalRefusesDocumentJournals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.input("300", "300")
	in.Source = accounting.SourceDocumentPrefix + "INVOICE"
	entry, err := f.svc.PostJournal(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "INVOICE", entry.DocumentType())

	_, err = f.svc.ReverseJournal(ctx, manager, entry.ID, "wrong customer")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.Equal(t, "Journal JV-2024-0001 was posted by invoice document; reverse or void the document instead", shared.ReasonOf(err))

	stored, err := f.svc.GetJournal(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusPosted, stored.Status)
	require.Nil(t, stored.ReversedBy)

	// Documents reverse their own journal inside their transaction.
	var reversal accounting.JournalEntry
	err = f.store.Ledger().WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		reversal, _, err = f.svc.ReverseInTx(ctx, tx, accounting.ReverseInput{JournalID: entry.ID, Reason: "document reversed", ActorID: manager.UserID})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "INVOICE", reversal.DocumentType())
	require.Equal(t, "DOC:INVOICE:REVERSAL", reversal.Source)
}

type invalidations []int64

func (i *invalidations) LedgerChanged(_ context.Context, companyID int64) {
	*i = append(*i, companyID)
}

func TestJournalChangesInvalidateReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var seen invalidations
	f.svc.WithInvalidator(&seen)

	entry, err := f.svc.PostJournal(ctx, f.input("50", "50"))
	require.NoError(t, err)
	require.Equal(t, invalidations{1}, seen)

	draft, err := f.svc.CreateJournalDraft(ctx, admin, f.input("10", "10"))
	require.NoError(t, err)
	_, err = f.svc.ApproveJournal(ctx, manager, draft.ID)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	_, err = f.svc.PostApprovedJournal(ctx, manager, draft.ID)
	require.NoError(t, err)
	require.Len(t, seen, 2)

	_, err = f.svc.ReverseJournal(ctx, manager, entry.ID, "duplicate")
	require.NoError(t, err)
	require.Len(t, seen, 3)

	_, err = f.svc.PostJournal(ctx, f.input("50", "49"))
	require.Error(t, err)
	require.Len(t, seen, 3)
}

func TestTrialBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.PostJournal(ctx, f.input("100", "100"))
	require.NoError(t, err)
	_, err = f.svc.PostJournal(ctx, f.input("40.50", "40.50"))
	require.NoError(t, err)

	tb, err := f.svc.TrialBalance(ctx, 1, f.period.ID)
	require.NoError(t, err)
	require.True(t, tb.Balanced)
	require.Len(t, tb.Rows, 2)
	require.Equal(t, "1000", tb.Rows[0].Code)
	require.Equal(t, "140.5", tb.Rows[0].Balance.String())
	require.Equal(t, "4000", tb.Rows[1].Code)
	require.Equal(t, "140.5", tb.Rows[1].Balance.String())
	require.True(t, tb.TotalDebit.Equal(tb.TotalCredit))

	offenders, err := f.svc.IntegrityScan(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, offenders)
}

func TestUpdateAccountLockedOnceUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.PostJournal(ctx, f.input("10", "10"))
	require.NoError(t, err)

	renamed := f.cash
	renamed.Name = "Main bank"
	out, err := f.svc.UpdateAccount(ctx, admin, renamed)
	require.NoError(t, err)
	require.Equal(t, "Main bank", out.Name)

	recoded := out
	recoded.Code = "1001"
	_, err = f.svc.UpdateAccount(ctx, admin, recoded)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	_, err = f.svc.UpdateAccount(ctx, officer, renamed)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestCreateAccountUniqueCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateAccount(context.Background(), admin, accounting.Account{CompanyID: 1, Code: "1000", Name: "Dup", NormalBalance: accounting.NormalDebit, IsActive: true})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestInactiveAccountRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inactive := f.sales
	inactive.IsActive = false
	_, err := f.svc.UpdateAccount(ctx, admin, inactive)
	require.NoError(t, err)
	_, err = f.svc.PostJournal(ctx, f.input("10", "10"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAccountMappings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.svc.SetAccountMapping(ctx, admin, accounting.AccountMapping{CompanyID: 1, Module: "ar", Key: "Control", AccountID: f.foreign.ID})
	require.ErrorIs(t, err, shared.ErrForeignAccount)

	require.NoError(t, f.svc.SetAccountMapping(ctx, admin, accounting.AccountMapping{CompanyID: 1, Module: "ar", Key: "Control", AccountID: f.cash.ID}))

	err = f.store.Ledger().WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		id, err := accounting.ResolveMapping(ctx, tx, 1, "AR", "control")
		require.NoError(t, err)
		require.Equal(t, f.cash.ID, id)

		_, err = accounting.ResolveMapping(ctx, tx, 1, "CTRO", "inventory")
		require.ErrorIs(t, err, shared.ErrMissingAccountMapping)
		require.Equal(t, "account mapping CTRO.inventory is not configured", shared.ReasonOf(err))
		return nil
	})
	require.NoError(t, err)
}
