// Package reconcile compares control accounts with their subledgers and
// builds party statements and aging.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// DocumentSource lists documents and resolves control accounts.
type DocumentSource interface {
	List(ctx context.Context, filter documents.ListFilter) ([]documents.Document, error)
	ControlAccount(ctx context.Context, companyID int64, module string) (int64, error)
}

// LedgerSource returns posted activity per account.
type LedgerSource interface {
	AccountBalance(ctx context.Context, accountID int64) (accounting.AccountTotal, error)
}

// Observer receives reconciliation outcomes.
type Observer interface {
	ReconcileDifference(companyID int64, side string, difference decimal.Decimal)
}

// Service computes read-only ledger reports.
type Service struct {
	docs     DocumentSource
	ledger   LedgerSource
	cache    *ReportCache
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewService wires the report engine. cache may be nil.
func NewService(docs DocumentSource, ledger LedgerSource, cache *ReportCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, ledger: ledger, cache: cache, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock used for default aging dates.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithObserver attaches a metrics sink.
func (s *Service) WithObserver(o Observer) {
	s.observer = o
}

// Reconcile compares the side's control account balance with its subledger.
func (s *Service) Reconcile(ctx context.Context, companyID int64, side Side) (Result, error) {
	if _, ok := ParseSide(string(side)); !ok {
		return Result{}, shared.Errorf(shared.KindValidation, "unknown side %q", side)
	}
	key, err := s.cache.BuildKey(ctx, companyID, "reconcile", string(side))
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = s.cache.FetchJSON(ctx, key, &res, func(ctx context.Context) (any, error) {
		return s.reconcile(ctx, companyID, side)
	})
	if err != nil {
		return Result{}, err
	}
	if s.observer != nil {
		s.observer.ReconcileDifference(companyID, string(side), res.Difference)
	}
	if !res.Healthy() {
		s.logger.Warn("control account out of balance",
			slog.Int64("company_id", companyID),
			slog.String("side", string(side)),
			slog.String("control_balance", money.Fixed(res.ControlBalance)),
			slog.String("subledger_total", money.Fixed(res.SubledgerTotal)),
			slog.String("difference", money.Fixed(res.Difference)))
	}
	return res, nil
}

func (s *Service) reconcile(ctx context.Context, companyID int64, side Side) (Result, error) {
	accountID, err := s.docs.ControlAccount(ctx, companyID, side.module())
	if err != nil {
		return Result{}, err
	}
	total, err := s.ledger.AccountBalance(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	control := total.Net()
	if side == SideAP {
		control = control.Neg()
	}
	book, err := s.book(ctx, companyID, 0, side)
	if err != nil {
		return Result{}, err
	}
	subledger := decimal.Zero
	for _, doc := range book.documents {
		subledger = subledger.Add(doc.Totals.Total)
	}
	for _, settlement := range book.settlements {
		for _, a := range settlement.Allocations {
			subledger = subledger.Sub(a.Amount)
		}
	}
	return Result{
		CompanyID:        companyID,
		Side:             side,
		ControlAccountID: accountID,
		ControlBalance:   control,
		SubledgerTotal:   subledger,
		Difference:       control.Sub(subledger),
	}, nil
}

// Statement lists a party's posted documents as debits and the settlements
// allocated to them as credits, with a running balance.
func (s *Service) Statement(ctx context.Context, companyID, partyID int64) (Statement, error) {
	if partyID == 0 {
		return Statement{}, shared.Errorf(shared.KindValidation, "party required")
	}
	key, err := s.cache.BuildKey(ctx, companyID, "statement", strconv.FormatInt(partyID, 10))
	if err != nil {
		return Statement{}, err
	}
	var st Statement
	err = s.cache.FetchJSON(ctx, key, &st, func(ctx context.Context) (any, error) {
		return s.statement(ctx, companyID, partyID)
	})
	return st, err
}

type statementEntry struct {
	row        StatementRow
	settlement bool
}

func (s *Service) statement(ctx context.Context, companyID, partyID int64) (Statement, error) {
	var entries []statementEntry
	for _, side := range []Side{SideAR, SideAP} {
		book, err := s.book(ctx, companyID, partyID, side)
		if err != nil {
			return Statement{}, err
		}
		for _, doc := range book.documents {
			entries = append(entries, statementEntry{row: StatementRow{
				Date:        doc.DocDate,
				DocumentID:  doc.ID,
				DocNo:       doc.DocNo,
				Description: describe(doc),
				Debit:       doc.Totals.Total,
				Credit:      decimal.Zero,
			}})
		}
		for _, settlement := range book.settlements {
			for _, a := range settlement.Allocations {
				entries = append(entries, statementEntry{settlement: true, row: StatementRow{
					Date:        settlement.DocDate,
					DocumentID:  settlement.ID,
					DocNo:       settlement.DocNo,
					Description: fmt.Sprintf("%s %s against %s", titleOf(settlement.Type), settlement.DocNo, a.TargetDocNo),
					Debit:       decimal.Zero,
					Credit:      a.Amount,
				}})
			}
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !day(a.row.Date).Equal(day(b.row.Date)) {
			return a.row.Date.Before(b.row.Date)
		}
		if a.settlement != b.settlement {
			return !a.settlement
		}
		return a.row.DocNo < b.row.DocNo
	})
	st := Statement{CompanyID: companyID, PartyID: partyID, Rows: make([]StatementRow, 0, len(entries)), ClosingBalance: decimal.Zero}
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.row.Debit).Sub(e.row.Credit)
		e.row.RunningBalance = balance
		st.Rows = append(st.Rows, e.row)
	}
	st.ClosingBalance = balance
	return st, nil
}

// Aging buckets a party's open documents as of asOf (today when zero).
func (s *Service) Aging(ctx context.Context, companyID, partyID int64, asOf time.Time) (Aging, error) {
	if partyID == 0 {
		return Aging{}, shared.Errorf(shared.KindValidation, "party required")
	}
	asOf = s.asOf(asOf)
	key, err := s.cache.BuildKey(ctx, companyID, "aging", strconv.FormatInt(partyID, 10), asOf.Format(time.DateOnly))
	if err != nil {
		return Aging{}, err
	}
	var out Aging
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		aging := newAging(companyID, asOf)
		aging.PartyID = partyID
		for _, side := range []Side{SideAR, SideAP} {
			if err := s.age(ctx, &aging, companyID, partyID, side); err != nil {
				return nil, err
			}
		}
		return aging, nil
	})
	return out, err
}

// AgingAll buckets every open document of one side.
func (s *Service) AgingAll(ctx context.Context, companyID int64, side Side, asOf time.Time) (Aging, error) {
	if _, ok := ParseSide(string(side)); !ok {
		return Aging{}, shared.Errorf(shared.KindValidation, "unknown side %q", side)
	}
	asOf = s.asOf(asOf)
	key, err := s.cache.BuildKey(ctx, companyID, "aging_all", string(side), asOf.Format(time.DateOnly))
	if err != nil {
		return Aging{}, err
	}
	var out Aging
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		aging := newAging(companyID, asOf)
		aging.Side = side
		if err := s.age(ctx, &aging, companyID, 0, side); err != nil {
			return nil, err
		}
		return aging, nil
	})
	return out, err
}

func (s *Service) age(ctx context.Context, aging *Aging, companyID, partyID int64, side Side) error {
	book, err := s.book(ctx, companyID, partyID, side)
	if err != nil {
		return err
	}
	settled := book.settled()
	for _, doc := range book.documents {
		outstanding := doc.Totals.Total.Sub(settled[doc.ID])
		if !outstanding.IsPositive() {
			continue
		}
		due := doc.DueDate
		if due.IsZero() {
			due = doc.DocDate
		}
		days := daysBetween(due, aging.AsOf)
		aging.add(AgingItem{
			DocumentID:  doc.ID,
			DocNo:       doc.DocNo,
			PartyID:     doc.PartyID,
			DueDate:     due,
			DaysPastDue: days,
			Bucket:      BucketFor(days),
			Outstanding: outstanding,
		})
	}
	return nil
}

func (s *Service) asOf(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return day(t)
}

// book holds the posted documents and settlements of one side.
type book struct {
	documents   []documents.Document
	settlements []documents.Document
}

func (b book) settled() map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(b.documents))
	for _, settlement := range b.settlements {
		for _, a := range settlement.Allocations {
			out[a.TargetID] = out[a.TargetID].Add(a.Amount)
		}
	}
	return out
}

func (s *Service) book(ctx context.Context, companyID, partyID int64, side Side) (book, error) {
	docs, err := s.docs.List(ctx, documents.ListFilter{
		CompanyID: companyID,
		PartyID:   partyID,
		Types:     []documents.DocType{side.documentType(), side.settlementType()},
		Statuses:  []shared.Status{shared.StatusPosted},
	})
	if err != nil {
		return book{}, err
	}
	var b book
	for _, doc := range docs {
		if doc.Type == side.settlementType() {
			b.settlements = append(b.settlements, doc)
			continue
		}
		b.documents = append(b.documents, doc)
	}
	return b, nil
}

func describe(doc documents.Document) string {
	if doc.Narration != "" {
		return titleOf(doc.Type) + " " + doc.DocNo + ": " + doc.Narration
	}
	return titleOf(doc.Type) + " " + doc.DocNo
}

func titleOf(t documents.DocType) string {
	label := t.Label()
	if label == "" {
		return label
	}
	return string(label[0]-'a'+'A') + label[1:]
}
