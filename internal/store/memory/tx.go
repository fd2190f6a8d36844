package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/ctro"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/periods"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// tx implements the period, ledger and document transaction interfaces.
type tx struct {
	st  *state
	now func() time.Time
}

var (
	_ periods.TxRepository    = (*tx)(nil)
	_ accounting.TxRepository = (*tx)(nil)
	_ documents.TxRepository  = (*tx)(nil)
)

// Periods.

func (t *tx) GetPeriodForUpdate(_ context.Context, id int64) (periods.Period, error) {
	p, ok := t.st.periods[id]
	if !ok {
		return periods.Period{}, shared.Errorf(shared.KindNotFound, "period %d not found", id)
	}
	return p, nil
}

func (t *tx) InsertPeriod(_ context.Context, p periods.Period) (periods.Period, error) {
	for _, existing := range t.st.periods {
		if existing.CompanyID == p.CompanyID && existing.Year == p.Year && existing.Month == p.Month {
			return periods.Period{}, shared.Errorf(shared.KindConflict, "period %s already exists", p.Code())
		}
	}
	p.ID = t.st.id()
	now := t.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.periods[p.ID] = p
	return p, nil
}

func (t *tx) UpdatePeriod(_ context.Context, p periods.Period) error {
	if _, ok := t.st.periods[p.ID]; !ok {
		return shared.Errorf(shared.KindNotFound, "period %d not found", p.ID)
	}
	p.UpdatedAt = t.now()
	t.st.periods[p.ID] = p
	return nil
}

func (t *tx) ListPeriods(_ context.Context, companyID int64) ([]periods.Period, error) {
	var out []periods.Period
	for _, p := range t.st.periods {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (t *tx) PeriodOverlaps(_ context.Context, companyID int64, start, end time.Time) (bool, error) {
	for _, p := range t.st.periods {
		if p.CompanyID == companyID && !p.StartDate.After(end) && !p.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) FindPeriodForDate(_ context.Context, companyID int64, date time.Time) (periods.Period, error) {
	for _, p := range t.st.periods {
		if p.CompanyID == companyID && p.Covers(date) {
			return p, nil
		}
	}
	return periods.Period{}, shared.Errorf(shared.KindNotFound, "period for %s not found", date.Format(time.DateOnly))
}

// Accounts and mappings.

func (t *tx) GetAccounts(_ context.Context, ids []int64) (map[int64]accounting.Account, error) {
	out := make(map[int64]accounting.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.st.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (t *tx) ListAccounts(_ context.Context, companyID int64) ([]accounting.Account, error) {
	var out []accounting.Account
	for _, a := range t.st.accounts {
		if a.CompanyID == companyID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) InsertAccount(_ context.Context, a accounting.Account) (accounting.Account, error) {
	for _, existing := range t.st.accounts {
		if existing.CompanyID == a.CompanyID && existing.Code == a.Code {
			return accounting.Account{}, shared.Errorf(shared.KindConflict, "account %s already exists", a.Code)
		}
	}
	a.ID = t.st.id()
	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.st.accounts[a.ID] = a
	return a, nil
}

func (t *tx) UpdateAccount(_ context.Context, a accounting.Account) error {
	if _, ok := t.st.accounts[a.ID]; !ok {
		return shared.Errorf(shared.KindNotFound, "account %d not found", a.ID)
	}
	for _, existing := range t.st.accounts {
		if existing.ID != a.ID && existing.CompanyID == a.CompanyID && existing.Code == a.Code {
			return shared.Errorf(shared.KindConflict, "account %s already exists", a.Code)
		}
	}
	t.st.accounts[a.ID] = a
	return nil
}

func (t *tx) AccountHasPostedLines(_ context.Context, accountID int64) (bool, error) {
	for _, e := range t.st.journals {
		if !accounting.CountsInLedger(e.Status) {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID == accountID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *tx) GetAccountMapping(_ context.Context, companyID int64, module, key string) (accounting.AccountMapping, error) {
	m, ok := t.st.mappings[mappingKey{companyID, module, key}]
	if !ok {
		return accounting.AccountMapping{}, shared.Errorf(shared.KindNotFound, "mapping %s.%s not found", module, key)
	}
	return m, nil
}

func (t *tx) UpsertAccountMapping(_ context.Context, m accounting.AccountMapping) error {
	t.st.mappings[mappingKey{m.CompanyID, m.Module, m.Key}] = m
	return nil
}

// Journals.

func (t *tx) InsertJournalEntry(_ context.Context, e accounting.JournalEntry) (accounting.JournalEntry, error) {
	for _, existing := range t.st.journals {
		if e.Number != "" && existing.CompanyID == e.CompanyID && existing.Number == e.Number {
			return accounting.JournalEntry{}, shared.Errorf(shared.KindConflict, "journal %s already exists", e.Number)
		}
	}
	e.ID = t.st.id()
	e.Lines = nil
	t.st.journals[e.ID] = e
	return e, nil
}

func (t *tx) InsertJournalLines(_ context.Context, journalID int64, lines []accounting.PostingLineInput) ([]accounting.JournalLine, error) {
	e, ok := t.st.journals[journalID]
	if !ok {
		return nil, shared.Errorf(shared.KindNotFound, "journal %d not found", journalID)
	}
	stored := append([]accounting.JournalLine(nil), e.Lines...)
	out := make([]accounting.JournalLine, 0, len(lines))
	for _, l := range lines {
		line := accounting.JournalLine{ID: t.st.id(), JournalID: journalID, AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo}
		stored = append(stored, line)
		out = append(out, line)
	}
	e.Lines = stored
	t.st.journals[journalID] = e
	return out, nil
}

func (t *tx) GetJournal(_ context.Context, id int64) (accounting.JournalEntry, error) {
	e, ok := t.st.journals[id]
	if !ok {
		return accounting.JournalEntry{}, shared.Errorf(shared.KindNotFound, "journal %d not found", id)
	}
	e.Lines = append([]accounting.JournalLine(nil), e.Lines...)
	return e, nil
}

func (t *tx) GetJournalForUpdate(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	return t.GetJournal(ctx, id)
}

func (t *tx) UpdateJournal(_ context.Context, e accounting.JournalEntry) error {
	current, ok := t.st.journals[e.ID]
	if !ok {
		return shared.Errorf(shared.KindNotFound, "journal %d not found", e.ID)
	}
	// Lines are immutable once written.
	e.Lines = current.Lines
	t.st.journals[e.ID] = e
	return nil
}

func (t *tx) DeleteJournal(_ context.Context, id int64) error {
	e, ok := t.st.journals[id]
	if !ok || e.Status != shared.StatusDraft {
		return shared.Errorf(shared.KindNotFound, "draft journal %d not found", id)
	}
	delete(t.st.journals, id)
	return nil
}

func (t *tx) ListJournals(_ context.Context, companyID, periodID int64) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, e := range t.st.journals {
		if e.CompanyID == companyID && (periodID == 0 || e.PeriodID == periodID) {
			e.Lines = nil
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) AccountTotals(_ context.Context, f accounting.LineFilter) ([]accounting.AccountTotal, error) {
	sums := map[int64]*accounting.AccountTotal{}
	for _, e := range t.st.journals {
		if !accounting.CountsInLedger(e.Status) {
			continue
		}
		if (f.CompanyID != 0 && e.CompanyID != f.CompanyID) || (f.PeriodID != 0 && e.PeriodID != f.PeriodID) {
			continue
		}
		for _, l := range e.Lines {
			if f.AccountID != 0 && l.AccountID != f.AccountID {
				continue
			}
			s, ok := sums[l.AccountID]
			if !ok {
				s = &accounting.AccountTotal{AccountID: l.AccountID, Debit: decimal.Zero, Credit: decimal.Zero}
				sums[l.AccountID] = s
			}
			s.Debit = s.Debit.Add(l.Debit)
			s.Credit = s.Credit.Add(l.Credit)
		}
	}
	out := make([]accounting.AccountTotal, 0, len(sums))
	for _, s := range sums {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (t *tx) JournalTotals(_ context.Context, companyID int64) ([]accounting.JournalTotal, error) {
	var out []accounting.JournalTotal
	for _, e := range t.st.journals {
		if !accounting.CountsInLedger(e.Status) || (companyID != 0 && e.CompanyID != companyID) {
			continue
		}
		total := accounting.JournalTotal{JournalID: e.ID, Number: e.Number, Debit: decimal.Zero, Credit: decimal.Zero}
		for _, l := range e.Lines {
			total.Debit = total.Debit.Add(l.Debit)
			total.Credit = total.Credit.Add(l.Credit)
		}
		out = append(out, total)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JournalID < out[j].JournalID })
	return out, nil
}

// Documents.

func (t *tx) Ledger() accounting.TxRepository { return t }

func (t *tx) InsertDocument(_ context.Context, doc documents.Document) (documents.Document, error) {
	for _, existing := range t.st.documents {
		if existing.CompanyID == doc.CompanyID && existing.DocNo == doc.DocNo {
			return documents.Document{}, shared.Errorf(shared.KindConflict, "document %s already exists", doc.DocNo)
		}
	}
	doc.ID = t.st.id()
	now := t.now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	t.st.documents[doc.ID] = t.detach(doc, true)
	return t.detach(t.st.documents[doc.ID], false), nil
}

func (t *tx) UpdateDocument(_ context.Context, doc documents.Document) error {
	if _, ok := t.st.documents[doc.ID]; !ok {
		return shared.Errorf(shared.KindNotFound, "document %d not found", doc.ID)
	}
	doc.UpdatedAt = t.now()
	t.st.documents[doc.ID] = t.detach(doc, true)
	return nil
}

func (t *tx) GetDocument(_ context.Context, id int64) (documents.Document, error) {
	doc, ok := t.st.documents[id]
	if !ok {
		return documents.Document{}, shared.Errorf(shared.KindNotFound, "document %d not found", id)
	}
	return t.detach(doc, false), nil
}

func (t *tx) GetDocumentForUpdate(ctx context.Context, id int64) (documents.Document, error) {
	return t.GetDocument(ctx, id)
}

func (t *tx) DeleteDocument(_ context.Context, id int64) error {
	doc, ok := t.st.documents[id]
	if !ok || doc.Status != shared.StatusDraft {
		return shared.Errorf(shared.KindNotFound, "draft document %d not found", id)
	}
	delete(t.st.documents, id)
	return nil
}

func (t *tx) ListDocuments(_ context.Context, f documents.ListFilter) ([]documents.Document, error) {
	var out []documents.Document
	for _, doc := range t.st.documents {
		if f.Matches(doc) {
			out = append(out, t.detach(doc, false))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DocDate.Equal(out[j].DocDate) {
			return out[i].DocDate.Before(out[j].DocDate)
		}
		return out[i].DocNo < out[j].DocNo
	})
	return out, nil
}

func (t *tx) AllocatedTo(_ context.Context, targetID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, doc := range t.st.documents {
		if doc.Status != shared.StatusPosted {
			continue
		}
		for _, a := range doc.Allocations {
			if a.TargetID == targetID {
				total = total.Add(a.Amount)
			}
		}
	}
	return total, nil
}

// detach copies the slices of doc. On write it also assigns child ids and
// target numbers.
func (t *tx) detach(doc documents.Document, write bool) documents.Document {
	lines := make([]documents.Line, len(doc.Lines))
	for i, l := range doc.Lines {
		if write && l.ID == 0 {
			l.ID = t.st.id()
		}
		lines[i] = l
	}
	allocs := make([]documents.Allocation, len(doc.Allocations))
	for i, a := range doc.Allocations {
		if write {
			if a.ID == 0 {
				a.ID = t.st.id()
			}
			if target, ok := t.st.documents[a.TargetID]; ok {
				a.TargetDocNo = target.DocNo
			}
		}
		allocs[i] = a
	}
	doc.Lines = nilIfEmpty(lines)
	doc.Allocations = nilIfEmptyAlloc(allocs)
	if doc.CtroLines != nil {
		doc.CtroLines = append([]ctro.CostedLine(nil), doc.CtroLines...)
	}
	if doc.Totals.Ctro != nil {
		totals := *doc.Totals.Ctro
		doc.Totals.Ctro = &totals
	}
	return doc
}

func nilIfEmpty(lines []documents.Line) []documents.Line {
	if len(lines) == 0 {
		return nil
	}
	return lines
}

func nilIfEmptyAlloc(allocs []documents.Allocation) []documents.Allocation {
	if len(allocs) == 0 {
		return nil
	}
	return allocs
}
