package documents_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/ctro"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

func TestInvoiceLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.svc.CreateDraft(ctx, officer, f.invoiceInput())
	require.NoError(t, err)
	require.Equal(t, shared.StatusDraft, draft.Status)
	require.Equal(t, "INV-2024-0001", draft.DocNo)
	require.Equal(t, f.period.ID, draft.PeriodID)
	require.Equal(t, "125.50", draft.Totals.Total.StringFixed(2))
	require.Equal(t, "100.00", draft.Lines[0].Amount.StringFixed(2))

	submitted, err := f.svc.Submit(ctx, officer, draft.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusSubmitted, submitted.Status)
	require.Equal(t, officer.UserID, *submitted.SubmittedBy)

	_, err = f.svc.Post(ctx, officer, draft.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	posted, err := f.svc.Post(ctx, manager, draft.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusPosted, posted.Status)
	require.Equal(t, manager.UserID, *posted.PostedBy)

	entry := f.journalOf(t, posted)
	require.Equal(t, shared.StatusPosted, entry.Status)
	require.Equal(t, "DOC:INVOICE", entry.Source)
	require.Equal(t, posted.SourceID(), entry.SourceID)
	require.Equal(t, march(5), entry.Date)
	require.Len(t, entry.Lines, 2)
	requireAmounts(t, entry, f.ar.ID, "125.50", "0.00")
	requireAmounts(t, entry, f.sales.ID, "0.00", "125.50")

	require.Equal(t, []string{"document.create", "document.submit", "journal.post", "document.post"}, f.sink.Actions())
	require.Equal(t, []int64{1}, f.inv.events)

	_, err = f.svc.Post(ctx, manager, draft.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.Equal(t, "Only submitted documents can be posted", shared.ReasonOf(err))
}

func TestSubmitRequiresDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.CreateDraft(ctx, officer, f.invoiceInput())
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, officer, doc.ID)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, officer, doc.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.Equal(t, "Only draft documents can be submitted", shared.ReasonOf(err))

	_, err = f.svc.Submit(ctx, director, doc.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestMakerCheckerOnPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.CreateDraft(ctx, admin, f.invoiceInput())
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, admin, doc.ID)
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, admin, doc.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.Equal(t, "You cannot post a document you created", shared.ReasonOf(err))

	posted, err := f.svc.Post(ctx, admin2, doc.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusPosted, posted.Status)
}

func TestSubmitAndPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	own, err := f.svc.CreateDraft(ctx, admin, f.invoiceInput())
	require.NoError(t, err)
	_, err = f.svc.SubmitAndPost(ctx, admin, own.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	reloaded, err := f.svc.Get(ctx, admin, own.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusDraft, reloaded.Status)

	doc, err := f.svc.CreateDraft(ctx, officer, f.invoiceInput())
	require.NoError(t, err)
	_, err = f.svc.SubmitAndPost(ctx, officer, doc.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.Equal(t, "Only admins can submit and post in one step", shared.ReasonOf(err))

	posted, err := f.svc.SubmitAndPost(ctx, admin2, doc.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusPosted, posted.Status)
	require.Equal(t, admin2.UserID, *posted.SubmittedBy)
	require.Equal(t, admin2.UserID, *posted.PostedBy)
	require.NotNil(t, posted.JournalID)
}

func TestPostIntoClosedPeriodIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.CreateDraft(ctx, officer, f.invoiceInput())
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, officer, doc.ID)
	require.NoError(t, err)
	_, err = f.periods.Close(ctx, manager, f.period.ID)
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, manager, doc.ID)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Equal(t, "Period 2024-03 is closed", shared.ReasonOf(err))

	reloaded, err := f.svc.Get(ctx, manager, doc.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusSubmitted, reloaded.Status)
	require.Nil(t, reloaded.JournalID)
	journals, err := f.ledger.ListJournals(ctx, 1, 0)
	require.NoError(t, err)
	require.Empty(t, journals)
	require.Empty(t, f.inv.events)

	_, err = f.periods.Reopen(ctx, manager, f.period.ID, "late invoice")
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, manager, doc.ID)
	require.NoError(t, err)
}

func TestDraftNeedsCoveringPeriod(t *testing.T) {
	f := newFixture(t)
	in := f.invoiceInput()
	in.DocDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	in.DueDate = time.Time{}
	_, err := f.svc.CreateDraft(context.Background(), officer, in)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "no period covers 2024-06-01", shared.ReasonOf(err))
}

func TestDraftValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noLines := f.invoiceInput()
	noLines.Lines = nil
	_, err := f.svc.CreateDraft(ctx, officer, noLines)
	require.ErrorIs(t, err, shared.ErrValidation)

	noParty := f.invoiceInput()
	noParty.PartyID = 0
	_, err = f.svc.CreateDraft(ctx, officer, noParty)
	require.ErrorIs(t, err, shared.ErrValidation)

	early := f.invoiceInput()
	early.DueDate = march(1)
	_, err = f.svc.CreateDraft(ctx, officer, early)
	require.ErrorIs(t, err, shared.ErrValidation)

	otherCompany := f.invoiceInput()
	otherCompany.CompanyID = 2
	_, err = f.svc.CreateDraft(ctx, officer, otherCompany)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = f.svc.CreateDraft(ctx, director, f.invoiceInput())
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestMissingMappingBlocksPost(t *testing.T) {
	f := newFixture(t, withoutMapping(documents.ModuleAP, documents.KeyControl))
	ctx := context.Background()
	doc, err := f.svc.CreateDraft(ctx, officer, f.billInput("300"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, officer, doc.ID)
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, manager, doc.ID)
	require.ErrorIs(t, err, shared.ErrMissingAccountMapping)
	require.Equal(t, "account mapping AP.control is not configured", shared.ReasonOf(err))

	reloaded, err := f.svc.Get(ctx, manager, doc.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusSubmitted, reloaded.Status)
}

func TestForeignAccountLineBlocksPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.invoiceInput()
	in.Lines[1].AccountID = f.foreign.ID
	doc, err := f.svc.CreateDraft(ctx, officer, in)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, officer, doc.ID)
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, manager, doc.ID)
	require.ErrorIs(t, err, shared.ErrForeignAccount)
}

func TestBillPosting(t *testing.T) {
	f := newFixture(t)
	bill := f.postDraft(t, f.billInput("300"))
	require.Equal(t, "BILL-2024-0001", bill.DocNo)
	entry := f.journalOf(t, bill)
	requireAmounts(t, entry, f.purchases.ID, "300.00", "0.00")
	requireAmounts(t, entry, f.ap.ID, "0.00", "300.00")
}

func (f *fixture) receiptInput(invoiceID int64, amount, withholding, allocated string) documents.DraftInput {
	return documents.DraftInput{
		Type:        documents.TypeReceipt,
		CompanyID:   1,
		DocDate:     march(12),
		PartyID:     party,
		Settlement:  documents.Settlement{Amount: d(amount), Withholding: d(withholding), CashAccountID: f.cash.ID},
		Allocations: []documents.AllocationInput{{TargetID: invoiceID, Amount: d(allocated)}},
	}
}

func TestReceiptAllocationRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.postedInvoice(t)

	_, err := f.svc.CreateDraft(ctx, officer, f.receiptInput(inv.ID, "120.50", "5", "120.50"))
	require.ErrorIs(t, err, shared.ErrAllocationMismatch)
	require.Equal(t, "allocations total 120.50 but amount plus withholding is 125.50", shared.ReasonOf(err))

	_, err = f.svc.CreateDraft(ctx, officer, f.receiptInput(inv.ID, "130", "0", "130"))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, shared.ReasonOf(err), "exceeds the 125.50 outstanding on INV-2024-0001")

	zero := f.receiptInput(inv.ID, "10", "0", "10")
	zero.Allocations = append(zero.Allocations, documents.AllocationInput{TargetID: inv.ID, Amount: d("0")})
	_, err = f.svc.CreateDraft(ctx, officer, zero)
	require.ErrorIs(t, err, shared.ErrValidation)

	otherParty := f.receiptInput(inv.ID, "10", "0", "10")
	otherParty.PartyID = party + 1
	_, err = f.svc.CreateDraft(ctx, officer, otherParty)
	require.ErrorIs(t, err, shared.ErrValidation)

	draftInv, err := f.svc.CreateDraft(ctx, officer, f.invoiceInput())
	require.NoError(t, err)
	_, err = f.svc.CreateDraft(ctx, officer, f.receiptInput(draftInv.ID, "10", "0", "10"))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, shared.ReasonOf(err), "is not posted")

	bill := f.postDraft(t, f.billInput("40"))
	_, err = f.svc.CreateDraft(ctx, officer, f.receiptInput(bill.ID, "10", "0", "10"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiptPostingAndReversalOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.postedInvoice(t)

	receipt := f.postDraft(t, f.receiptInput(inv.ID, "120.50", "5", "125.50"))
	require.Equal(t, "RCT-2024-0001", receipt.DocNo)
	require.Equal(t, inv.DocNo, receipt.Allocations[0].TargetDocNo)
	entry := f.journalOf(t, receipt)
	requireAmounts(t, entry, f.cash.ID, "120.50", "0.00")
	requireAmounts(t, entry, f.whtRec.ID, "5.00", "0.00")
	requireAmounts(t, entry, f.ar.ID, "0.00", "125.50")

	_, err := f.svc.Reverse(ctx, manager, inv.ID, "wrong customer")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.Equal(t, "INV-2024-0001 has 125.50 settled; reverse its settlements first", shared.ReasonOf(err))

	reversed, err := f.svc.Reverse(ctx, manager, receipt.ID, "bounced cheque")
	require.NoError(t, err)
	require.Equal(t, shared.StatusReversed, reversed.Status)
	require.Equal(t, "bounced cheque", reversed.CloseReason)

	_, err = f.svc.Reverse(ctx, manager, inv.ID, "wrong customer")
	require.NoError(t, err)
}

func TestPartialSettlementsTrackOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.postedInvoice(t)
	f.postDraft(t, f.receiptInput(inv.ID, "100", "0", "100"))

	_, err := f.svc.CreateDraft(ctx, officer, f.receiptInput(inv.ID, "30", "0", "30"))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, shared.ReasonOf(err), "25.50 outstanding")

	second := f.postDraft(t, f.receiptInput(inv.ID, "25.50", "0", "25.50"))
	require.Equal(t, shared.StatusPosted, second.Status)
}

func TestVoucherPosting(t *testing.T) {
	f := newFixture(t)
	bill := f.postDraft(t, f.billInput("300"))
	voucher := f.postDraft(t, documents.DraftInput{
		Type:        documents.TypePaymentVoucher,
		CompanyID:   1,
		DocDate:     march(15),
		PartyID:     party,
		Settlement:  documents.Settlement{Amount: d("290"), Withholding: d("10"), CashAccountID: f.cash.ID},
		Allocations: []documents.AllocationInput{{TargetID: bill.ID, Amount: d("300")}},
	})
	require.Equal(t, "PV-2024-0001", voucher.DocNo)
	entry := f.journalOf(t, voucher)
	requireAmounts(t, entry, f.ap.ID, "300.00", "0.00")
	requireAmounts(t, entry, f.cash.ID, "0.00", "290.00")
	requireAmounts(t, entry, f.whtPay.ID, "0.00", "10.00")
}

func (f *fixture) publishCard(t *testing.T) {
	t.Helper()
	depot := int64(7)
	_, err := f.engine.Publish(context.Background(), admin, ctro.RateCard{
		CompanyID:     1,
		Season:        "2023/24 main",
		BagsPerTonne:  d("16"),
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Lines: []ctro.RateCardLine{{
			DepotID:           &depot,
			TakeoverCenterID:  3,
			ProducerPrice:     d("2000"),
			BuyerMargin:       d("300"),
			SecondaryEvacCost: d("150"),
			TakeoverPrice:     d("2450"),
		}},
	})
	require.NoError(t, err)
}

func ctroInput(lines ...ctro.LineInput) documents.DraftInput {
	return documents.DraftInput{Type: documents.TypeCTRO, CompanyID: 1, DocDate: march(8), PartyID: 900, CtroLines: lines}
}

func TestCTROPosting(t *testing.T) {
	f := newFixture(t)
	f.publishCard(t)
	ctx := context.Background()

	draft, err := f.svc.CreateDraft(ctx, officer, ctroInput(
		ctro.LineInput{DepotID: 7, TakeoverCenterID: 3, Bags: 160, Treatment: ctro.TreatmentCompanyPaid},
		ctro.LineInput{DepotID: 7, TakeoverCenterID: 3, Bags: 160, Treatment: ctro.TreatmentDeducted},
		ctro.LineInput{DepotID: 8, TakeoverCenterID: 3, Bags: 32, Treatment: ctro.TreatmentCompanyPaid},
	))
	require.NoError(t, err)
	require.Equal(t, "CTRO-2024-0001", draft.DocNo)
	require.Len(t, draft.CtroLines, 3)
	require.True(t, draft.CtroLines[2].Excluded)
	require.NotNil(t, draft.Totals.Ctro)
	require.Equal(t, 1, draft.Totals.Ctro.ExcludedLines)
	require.Equal(t, "49000.00", draft.Totals.Total.StringFixed(2))

	_, err = f.svc.Submit(ctx, officer, draft.ID)
	require.NoError(t, err)
	posted, err := f.svc.Post(ctx, manager, draft.ID)
	require.NoError(t, err)

	entry := f.journalOf(t, posted)
	requireAmounts(t, entry, f.inventory.ID, "49000.00", "0.00")
	requireAmounts(t, entry, f.evacCost.ID, "1500.00", "1500.00")
	requireAmounts(t, entry, f.advances.ID, "0.00", "47500.00")
	requireAmounts(t, entry, f.evacPay.ID, "0.00", "1500.00")
}

func TestCTROCompanyPaidToCash(t *testing.T) {
	f := newFixture(t)
	f.publishCard(t)
	in := ctroInput(ctro.LineInput{DepotID: 7, TakeoverCenterID: 3, Bags: 160, Treatment: ctro.TreatmentCompanyPaid})
	in.EvacuationAccountID = f.cash.ID
	posted := f.postDraft(t, in)
	entry := f.journalOf(t, posted)
	requireAmounts(t, entry, f.cash.ID, "0.00", "1500.00")
	requireAmounts(t, entry, f.evacPay.ID, "0.00", "0.00")
}

func TestCTROWithoutRateCard(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateDraft(context.Background(), officer, ctroInput(
		ctro.LineInput{DepotID: 7, TakeoverCenterID: 3, Bags: 160, Treatment: ctro.TreatmentCompanyPaid},
	))
	require.ErrorIs(t, err, shared.ErrNoRateCard)
}

func TestVoidUsesDocumentDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.postedInvoice(t)

	_, err := f.svc.Void(ctx, manager, inv.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Void(ctx, director, inv.ID, "duplicate")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	voided, err := f.svc.Void(ctx, manager, inv.ID, "duplicate")
	require.NoError(t, err)
	require.Equal(t, shared.StatusVoided, voided.Status)
	require.NotNil(t, voided.ReversalJournalID)

	reversal, err := f.ledger.GetJournal(ctx, *voided.ReversalJournalID)
	require.NoError(t, err)
	require.Equal(t, march(5), reversal.Date)
	original := f.journalOf(t, voided)
	require.Equal(t, shared.StatusReversed, original.Status)

	balance, err := f.ledger.AccountBalance(ctx, f.ar.ID)
	require.NoError(t, err)
	require.True(t, balance.Net().IsZero())

	_, err = f.svc.Reverse(ctx, manager, inv.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestVoidIntoClosedPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.postedInvoice(t)
	_, err := f.periods.Close(ctx, manager, f.period.ID)
	require.NoError(t, err)

	_, err = f.svc.Void(ctx, manager, inv.ID, "duplicate")
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	reloaded, err := f.svc.Get(ctx, manager, inv.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusPosted, reloaded.Status)
}

func TestUpdateDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.CreateDraft(ctx, officer, f.invoiceInput())
	require.NoError(t, err)

	in := f.invoiceInput()
	in.Lines = []documents.LineInput{{AccountID: f.sales.ID, Quantity: d("3"), UnitPrice: d("10")}}
	updated, err := f.svc.UpdateDraft(ctx, officer, doc.ID, in)
	require.NoError(t, err)
	require.Equal(t, doc.DocNo, updated.DocNo)
	require.Equal(t, "30.00", updated.Totals.Total.StringFixed(2))
	require.Len(t, updated.Lines, 1)

	wrongType := in
	wrongType.Type = documents.TypeBill
	_, err = f.svc.UpdateDraft(ctx, officer, doc.ID, wrongType)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Submit(ctx, officer, doc.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateDraft(ctx, officer, doc.ID, in)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.Equal(t, "Only draft documents can be edited", shared.ReasonOf(err))
}

func TestDeleteDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.CreateDraft(ctx, officer, f.invoiceInput())
	require.NoError(t, err)
	err = f.svc.DeleteDraft(ctx, officer, doc.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.NoError(t, f.svc.DeleteDraft(ctx, admin, doc.ID))

	_, err = f.svc.Get(ctx, officer, doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	records := f.sink.Records()
	last := records[len(records)-1]
	require.Equal(t, "document.delete", last.Action)
	require.Nil(t, last.After)
	var before documents.Document
	require.NoError(t, json.Unmarshal(last.Before, &before))
	require.Equal(t, doc.DocNo, before.DocNo)

	inv := f.postedInvoice(t)
	err = f.svc.DeleteDraft(ctx, admin, inv.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestDocumentsScopedToCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.postedInvoice(t)
	outsider := rbac.Principal{UserID: 8, CompanyID: 2, Roles: []rbac.Role{rbac.RoleManager}}
	_, err := f.svc.Get(ctx, outsider, inv.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.Reverse(ctx, outsider, inv.ID, "nope")
	require.ErrorIs(t, err, shared.ErrNotFound)

	docs, err := f.svc.List(ctx, documents.ListFilter{CompanyID: 1, Statuses: []shared.Status{shared.StatusPosted}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
