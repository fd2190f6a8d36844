package accounting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/periods"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes ledger operations bound to one transaction.
type TxRepository interface {
	periods.Locker
	FindPeriodForDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error)

	GetAccounts(ctx context.Context, ids []int64) (map[int64]Account, error)
	ListAccounts(ctx context.Context, companyID int64) ([]Account, error)
	InsertAccount(ctx context.Context, a Account) (Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	AccountHasPostedLines(ctx context.Context, accountID int64) (bool, error)

	GetAccountMapping(ctx context.Context, companyID int64, module, key string) (AccountMapping, error)
	UpsertAccountMapping(ctx context.Context, m AccountMapping) error

	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, journalID int64, lines []PostingLineInput) ([]JournalLine, error)
	GetJournal(ctx context.Context, id int64) (JournalEntry, error)
	GetJournalForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	UpdateJournal(ctx context.Context, entry JournalEntry) error
	DeleteJournal(ctx context.Context, id int64) error
	ListJournals(ctx context.Context, companyID, periodID int64) ([]JournalEntry, error)

	AccountTotals(ctx context.Context, filter LineFilter) ([]AccountTotal, error)
	JournalTotals(ctx context.Context, companyID int64) ([]JournalTotal, error)
}

// NumberSource issues journal numbers.
type NumberSource interface {
	Next(ctx context.Context, companyID int64, prefix string, year int) (string, error)
}

// Observer receives posting outcomes, typically metrics.
type Observer interface {
	JournalPosted(source string)
	PostingFailed(kind shared.Kind)
}

// Invalidator is told after a journal changes the balances of a company.
type Invalidator interface {
	LedgerChanged(ctx context.Context, companyID int64)
}

// Service coordinates drafting, approving, posting and reversing journal entries.
type Service struct {
	repo      RepositoryPort
	audit     *audit.Recorder
	numbers   NumberSource
	observer  Observer
	inval     Invalidator
	guard     periods.Guard
	logger    *slog.Logger
	tolerance decimal.Decimal
	now       func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, recorder *audit.Recorder, numbers NumberSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: recorder, numbers: numbers, logger: logger, tolerance: money.Tolerance, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTolerance overrides the balance tolerance.
func (s *Service) WithTolerance(tol decimal.Decimal) {
	if tol.IsPositive() {
		s.tolerance = tol
	}
}

// WithObserver attaches a posting observer.
func (s *Service) WithObserver(o Observer) {
	s.observer = o
}

// WithInvalidator registers a report cache to bump after journals post or reverse.
func (s *Service) WithInvalidator(inv Invalidator) {
	s.inval = inv
}

// Now exposes the service clock to collaborators sharing a transaction.
func (s *Service) Now() time.Time { return s.now() }

// PostJournal validates and persists a system-generated journal as Posted.
func (s *Service) PostJournal(ctx context.Context, input PostingInput) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.PostInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		s.failed(err)
		return JournalEntry{}, err
	}
	s.posted(ctx, entry, "journal.post", nil)
	s.ledgerChanged(ctx, entry.CompanyID)
	return entry, nil
}

// PostInTx posts input inside a caller-owned transaction. The period guard
// runs inside tx so a concurrent close cannot interleave. The caller records
// audit and metrics after commit.
func (s *Service) PostInTx(ctx context.Context, tx TxRepository, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(s.tolerance); err != nil {
		return JournalEntry{}, err
	}
	if _, err := s.lockPeriod(ctx, tx, input.CompanyID, input.PeriodID, input.Date); err != nil {
		return JournalEntry{}, err
	}
	if err := s.checkAccounts(ctx, tx, input.CompanyID, input.Lines); err != nil {
		return JournalEntry{}, err
	}
	number, err := s.nextNumber(ctx, input.CompanyID, input.Date)
	if err != nil {
		return JournalEntry{}, err
	}
	now := s.now()
	actor := input.ActorID
	entry := JournalEntry{
		CompanyID:  input.CompanyID,
		PeriodID:   input.PeriodID,
		Number:     number,
		Date:       input.Date,
		Narration:  input.Narration,
		Status:     shared.StatusPosted,
		Source:     defaultSource(input.Source),
		SourceID:   defaultSourceID(input.SourceID),
		CreatedBy:  actor,
		ApprovedBy: &actor,
		ApprovedAt: &now,
		PostedBy:   &actor,
		PostedAt:   &now,
		ReversalOf: input.ReversalOf,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.insert(ctx, tx, entry, input.Lines)
}

// CreateJournalDraft stores a balanced manual journal awaiting approval.
func (s *Service) CreateJournalDraft(ctx context.Context, actor rbac.Principal, input PostingInput) (JournalEntry, error) {
	if err := rbac.Authorize(actor, rbac.Target{}, rbac.ActionCreate); err != nil {
		return JournalEntry{}, err
	}
	if err := sameCompany(actor, input.CompanyID); err != nil {
		return JournalEntry{}, err
	}
	input.ActorID = actor.UserID
	if err := input.Validate(s.tolerance); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, input.PeriodID)
		if err != nil {
			return err
		}
		if period.CompanyID != input.CompanyID {
			return shared.Errorf(shared.KindValidation, "period %s belongs to another company", period.Code())
		}
		if err := s.guard.EnsureCovers(period, input.Date); err != nil {
			return err
		}
		if err := s.checkAccounts(ctx, tx, input.CompanyID, input.Lines); err != nil {
			return err
		}
		number, err := s.nextNumber(ctx, input.CompanyID, input.Date)
		if err != nil {
			return err
		}
		now := s.now()
		entry, err = s.insert(ctx, tx, JournalEntry{
			CompanyID: input.CompanyID,
			PeriodID:  input.PeriodID,
			Number:    number,
			Date:      input.Date,
			Narration: input.Narration,
			Status:    shared.StatusDraft,
			Source:    defaultSource(input.Source),
			SourceID:  defaultSourceID(input.SourceID),
			CreatedBy: actor.UserID,
			CreatedAt: now,
			UpdatedAt: now,
		}, input.Lines)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.audit.Record(ctx, audit.Change{Entity: "journal_entry", EntityID: entry.ID, Action: "journal.create", After: entry, ActorID: actor.UserID})
	return entry, nil
}

// ApproveJournal moves a draft to Approved. The creator may not approve.
func (s *Service) ApproveJournal(ctx context.Context, actor rbac.Principal, journalID int64) (JournalEntry, error) {
	var before, after JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := s.loadForAction(ctx, tx, actor, journalID, rbac.ActionApprove)
		if err != nil {
			return err
		}
		if err := s.validateStored(entry); err != nil {
			return err
		}
		before = entry
		now := s.now()
		by := actor.UserID
		entry.Status = shared.StatusApproved
		entry.ApprovedBy = &by
		entry.ApprovedAt = &now
		entry.UpdatedAt = now
		after = entry
		return tx.UpdateJournal(ctx, entry)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.audit.Record(ctx, audit.Change{Entity: "journal_entry", EntityID: after.ID, Action: "journal.approve", Before: before, After: after, ActorID: actor.UserID})
	return after, nil
}

// PostApprovedJournal posts an approved journal after re-validating its stored lines.
func (s *Service) PostApprovedJournal(ctx context.Context, actor rbac.Principal, journalID int64) (JournalEntry, error) {
	var before, after JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := s.loadForAction(ctx, tx, actor, journalID, rbac.ActionPost)
		if err != nil {
			return err
		}
		if err := s.validateStored(entry); err != nil {
			return err
		}
		if _, err := s.lockPeriod(ctx, tx, entry.CompanyID, entry.PeriodID, entry.Date); err != nil {
			return err
		}
		if err := s.checkAccounts(ctx, tx, entry.CompanyID, ToPostingLines(entry.Lines)); err != nil {
			return err
		}
		before = entry
		now := s.now()
		by := actor.UserID
		entry.Status = shared.StatusPosted
		entry.PostedBy = &by
		entry.PostedAt = &now
		entry.UpdatedAt = now
		after = entry
		return tx.UpdateJournal(ctx, entry)
	})
	if err != nil {
		s.failed(err)
		return JournalEntry{}, err
	}
	s.posted(ctx, after, "journal.post", &before)
	s.ledgerChanged(ctx, after.CompanyID)
	return after, nil
}

// DeleteJournalDraft removes a draft journal and its lines.
func (s *Service) DeleteJournalDraft(ctx context.Context, actor rbac.Principal, journalID int64) error {
	var before JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := s.loadForAction(ctx, tx, actor, journalID, rbac.ActionDeleteDraft)
		if err != nil {
			return err
		}
		before = entry
		return tx.DeleteJournal(ctx, entry.ID)
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Change{Entity: "journal_entry", EntityID: before.ID, Action: "journal.delete", Before: before, ActorID: actor.UserID})
	return nil
}

// ReverseJournal mirrors a posted journal dated today and marks the original Reversed.
func (s *Service) ReverseJournal(ctx context.Context, actor rbac.Principal, journalID int64, reason string) (JournalEntry, error) {
	var reversal, original JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := s.loadForAction(ctx, tx, actor, journalID, rbac.ActionReverse)
		if err != nil {
			return err
		}
		if doc := entry.DocumentType(); doc != "" {
			return shared.Errorf(shared.KindInvalidStateTransition,
				"Journal %s was posted by %s document; reverse or void the document instead", entry.Number, strings.ToLower(doc))
		}
		reversal, original, err = s.ReverseInTx(ctx, tx, ReverseInput{JournalID: journalID, Reason: reason, ActorID: actor.UserID})
		return err
	})
	if err != nil {
		s.failed(err)
		return JournalEntry{}, err
	}
	s.RecordReversal(ctx, original, reversal, actor.UserID)
	s.ledgerChanged(ctx, original.CompanyID)
	return reversal, nil
}

// ReverseInput parameterises a reversal. A zero Date means today.
type ReverseInput struct {
	JournalID int64
	Reason    string
	ActorID   int64
	Date      time.Time
}

// ReverseInTx creates the mirror entry inside a caller-owned transaction and
// returns it together with the updated original.
func (s *Service) ReverseInTx(ctx context.Context, tx TxRepository, in ReverseInput) (JournalEntry, JournalEntry, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return JournalEntry{}, JournalEntry{}, shared.Errorf(shared.KindValidation, "a reason is required to reverse a journal")
	}
	original, err := tx.GetJournalForUpdate(ctx, in.JournalID)
	if err != nil {
		return JournalEntry{}, JournalEntry{}, err
	}
	if original.Status != shared.StatusPosted {
		return JournalEntry{}, JournalEntry{}, shared.Errorf(shared.KindInvalidStateTransition, "Only posted journals can be reversed")
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	period, err := tx.FindPeriodForDate(ctx, original.CompanyID, date)
	if err != nil {
		if shared.KindOf(err) == shared.KindNotFound {
			return JournalEntry{}, JournalEntry{}, shared.Errorf(shared.KindValidation, "no period covers %s", date.Format(time.DateOnly))
		}
		return JournalEntry{}, JournalEntry{}, err
	}
	originalID := original.ID
	reversal, err := s.PostInTx(ctx, tx, PostingInput{
		CompanyID:  original.CompanyID,
		PeriodID:   period.ID,
		Date:       date,
		Narration:  "Reversal of " + original.Number + ": " + reason,
		Source:     original.Source + ReversalSuffix,
		SourceID:   original.SourceID,
		ActorID:    in.ActorID,
		ReversalOf: &originalID,
		Lines:      reverseLines(original.Lines),
	})
	if err != nil {
		return JournalEntry{}, JournalEntry{}, err
	}
	original.Status = shared.StatusReversed
	original.ReversedBy = &reversal.ID
	original.UpdatedAt = s.now()
	if err := tx.UpdateJournal(ctx, original); err != nil {
		return JournalEntry{}, JournalEntry{}, err
	}
	return reversal, original, nil
}

// RecordReversal writes the post-commit audit trail and metrics of a reversal.
func (s *Service) RecordReversal(ctx context.Context, original, reversal JournalEntry, actorID int64) {
	s.posted(ctx, reversal, "journal.post", nil)
	s.audit.Record(ctx, audit.Change{
		Entity:   "journal_entry",
		EntityID: original.ID,
		Action:   "journal.reverse",
		After:    map[string]any{"status": original.Status, "reversal_id": reversal.ID, "reversal_number": reversal.Number},
		ActorID:  actorID,
	})
}

// RecordPosted writes the post-commit audit trail and metrics of a posting
// performed through PostInTx.
func (s *Service) RecordPosted(ctx context.Context, entry JournalEntry) {
	s.posted(ctx, entry, "journal.post", nil)
}

// RecordFailure feeds a failed posting attempt to the observer.
func (s *Service) RecordFailure(err error) {
	s.failed(err)
}

func (s *Service) insert(ctx context.Context, tx TxRepository, entry JournalEntry, lines []PostingLineInput) (JournalEntry, error) {
	inserted, err := tx.InsertJournalEntry(ctx, entry)
	if err != nil {
		return JournalEntry{}, err
	}
	stored, err := tx.InsertJournalLines(ctx, inserted.ID, lines)
	if err != nil {
		return JournalEntry{}, err
	}
	inserted.Lines = stored
	return inserted, nil
}

func (s *Service) loadForAction(ctx context.Context, tx TxRepository, actor rbac.Principal, journalID int64, action rbac.Action) (JournalEntry, error) {
	entry, err := tx.GetJournalForUpdate(ctx, journalID)
	if err != nil {
		return JournalEntry{}, err
	}
	if actor.CompanyID != 0 && entry.CompanyID != actor.CompanyID {
		return JournalEntry{}, shared.Errorf(shared.KindNotFound, "journal %d not found", journalID)
	}
	if err := rbac.Authorize(actor, rbac.Target{Kind: rbac.TargetJournal, Status: entry.Status, CreatedBy: entry.CreatedBy}, action); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *Service) validateStored(entry JournalEntry) error {
	return PostingInput{
		CompanyID: entry.CompanyID,
		PeriodID:  entry.PeriodID,
		Date:      entry.Date,
		Lines:     ToPostingLines(entry.Lines),
	}.Validate(s.tolerance)
}

func (s *Service) lockPeriod(ctx context.Context, tx TxRepository, companyID, periodID int64, date time.Time) (periods.Period, error) {
	period, err := s.guard.EnsureOpen(ctx, tx, periodID)
	if err != nil {
		return periods.Period{}, err
	}
	if period.CompanyID != companyID {
		return periods.Period{}, shared.Errorf(shared.KindValidation, "period %s belongs to another company", period.Code())
	}
	if err := s.guard.EnsureCovers(period, date); err != nil {
		return periods.Period{}, err
	}
	return period, nil
}

func (s *Service) checkAccounts(ctx context.Context, tx TxRepository, companyID int64, lines []PostingLineInput) error {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		ids = append(ids, l.AccountID)
	}
	accounts, err := tx.GetAccounts(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		acc, ok := accounts[id]
		if !ok {
			return shared.Errorf(shared.KindValidation, "account %d does not exist", id)
		}
		if acc.CompanyID != companyID {
			return shared.Errorf(shared.KindForeignAccount, "account %s belongs to another company", acc.Code)
		}
		if !acc.IsActive {
			return shared.Errorf(shared.KindValidation, "account %s is inactive", acc.Code)
		}
	}
	return nil
}

func (s *Service) nextNumber(ctx context.Context, companyID int64, date time.Time) (string, error) {
	if s.numbers == nil {
		return "", nil
	}
	return s.numbers.Next(ctx, companyID, numbering.PrefixJournal, date.Year())
}

func (s *Service) posted(ctx context.Context, entry JournalEntry, action string, before *JournalEntry) {
	if s.observer != nil {
		s.observer.JournalPosted(entry.Source)
	}
	change := audit.Change{Entity: "journal_entry", EntityID: entry.ID, Action: action, After: entry, ActorID: actorOf(entry)}
	if before != nil {
		change.Before = *before
	}
	s.audit.Record(ctx, change)
	s.logger.Info("journal posted",
		slog.Int64("journal_id", entry.ID),
		slog.String("number", entry.Number),
		slog.String("source", entry.Source),
		slog.Int64("company_id", entry.CompanyID))
}

func (s *Service) ledgerChanged(ctx context.Context, companyID int64) {
	if s.inval != nil {
		s.inval.LedgerChanged(ctx, companyID)
	}
}

func (s *Service) failed(err error) {
	if s.observer != nil {
		s.observer.PostingFailed(shared.KindOf(err))
	}
}

func actorOf(entry JournalEntry) int64 {
	if entry.PostedBy != nil {
		return *entry.PostedBy
	}
	return entry.CreatedBy
}

func sameCompany(actor rbac.Principal, companyID int64) error {
	if actor.CompanyID != 0 && companyID != actor.CompanyID {
		return shared.Errorf(shared.KindPermissionDenied, "company %d is outside your scope", companyID)
	}
	return nil
}

func defaultSource(source string) string {
	if source == "" {
		return "MANUAL"
	}
	return source
}

func defaultSourceID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}
