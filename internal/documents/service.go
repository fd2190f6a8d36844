package documents

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/periods"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes document persistence bound to one transaction. Ledger
// returns the ledger view of the same transaction.
type TxRepository interface {
	Ledger() accounting.TxRepository

	InsertDocument(ctx context.Context, doc Document) (Document, error)
	UpdateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id int64) (Document, error)
	GetDocumentForUpdate(ctx context.Context, id int64) (Document, error)
	DeleteDocument(ctx context.Context, id int64) error
	ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error)
	// AllocatedTo sums allocations against targetID from posted settlements.
	AllocatedTo(ctx context.Context, targetID int64) (decimal.Decimal, error)
}

// Ledger posts and reverses journals inside a document transaction.
type Ledger interface {
	PostInTx(ctx context.Context, tx accounting.TxRepository, input accounting.PostingInput) (accounting.JournalEntry, error)
	ReverseInTx(ctx context.Context, tx accounting.TxRepository, in accounting.ReverseInput) (accounting.JournalEntry, accounting.JournalEntry, error)
	RecordPosted(ctx context.Context, entry accounting.JournalEntry)
	RecordReversal(ctx context.Context, original, reversal accounting.JournalEntry, actorID int64)
	RecordFailure(err error)
}

// NumberSource issues document numbers.
type NumberSource interface {
	Next(ctx context.Context, companyID int64, prefix string, year int) (string, error)
}

// Invalidator is told whenever the ledger of a company changes.
type Invalidator interface {
	LedgerChanged(ctx context.Context, companyID int64)
}

// Service runs the document lifecycle.
type Service struct {
	repo        RepositoryPort
	ledger      Ledger
	numbers     NumberSource
	registry    Registry
	audit       *audit.Recorder
	invalidator Invalidator
	guard       periods.Guard
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the document service.
func NewService(repo RepositoryPort, ledger Ledger, numbers NumberSource, registry Registry, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, numbers: numbers, registry: registry, audit: recorder, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithInvalidator registers a cache to bump after ledger changes.
func (s *Service) WithInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// CreateDraft numbers and stores a new draft document.
func (s *Service) CreateDraft(ctx context.Context, actor rbac.Principal, in DraftInput) (Document, error) {
	spec, err := s.registry.Lookup(in.Type)
	if err != nil {
		return Document{}, err
	}
	if err := rbac.Authorize(actor, rbac.Target{}, rbac.ActionCreate); err != nil {
		return Document{}, err
	}
	if actor.CompanyID != 0 && in.CompanyID != actor.CompanyID {
		return Document{}, shared.Errorf(shared.KindPermissionDenied, "company %d is outside your scope", in.CompanyID)
	}
	now := s.now()
	doc := Document{Type: in.Type, CompanyID: in.CompanyID, Status: shared.StatusDraft, CreatedBy: actor.UserID, CreatedAt: now, UpdatedAt: now}
	if err := apply(&doc, in); err != nil {
		return Document{}, err
	}
	if err := spec.Costing.Cost(ctx, &doc); err != nil {
		return Document{}, err
	}
	var created Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.resolvePeriod(ctx, tx, &doc); err != nil {
			return err
		}
		if err := s.checkAllocations(ctx, tx, spec, &doc); err != nil {
			return err
		}
		number, err := s.numbers.Next(ctx, doc.CompanyID, spec.Prefix, doc.DocDate.Year())
		if err != nil {
			return err
		}
		doc.DocNo = number
		created, err = tx.InsertDocument(ctx, doc)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, actor, "document.create", nil, &created)
	return created, nil
}

// UpdateDraft replaces the content of a draft and recomputes its totals.
func (s *Service) UpdateDraft(ctx context.Context, actor rbac.Principal, id int64, in DraftInput) (Document, error) {
	var before, after Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, spec, err := s.loadForAction(ctx, tx, actor, id, rbac.ActionEdit)
		if err != nil {
			return err
		}
		if in.Type != "" && in.Type != doc.Type {
			return shared.Errorf(shared.KindValidation, "document type cannot change from %s", doc.Type)
		}
		before = doc
		if err := apply(&doc, in); err != nil {
			return err
		}
		if err := spec.Costing.Cost(ctx, &doc); err != nil {
			return err
		}
		if err := s.resolvePeriod(ctx, tx, &doc); err != nil {
			return err
		}
		if err := s.checkAllocations(ctx, tx, spec, &doc); err != nil {
			return err
		}
		doc.UpdatedAt = s.now()
		after = doc
		return tx.UpdateDocument(ctx, doc)
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, actor, "document.update", &before, &after)
	return after, nil
}

// Submit moves a draft to Submitted.
func (s *Service) Submit(ctx context.Context, actor rbac.Principal, id int64) (Document, error) {
	var before, after Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, spec, err := s.loadForAction(ctx, tx, actor, id, rbac.ActionSubmit)
		if err != nil {
			return err
		}
		before = doc
		if err := s.submit(ctx, tx, spec, actor, &doc); err != nil {
			return err
		}
		after = doc
		return tx.UpdateDocument(ctx, doc)
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, actor, "document.submit", &before, &after)
	return after, nil
}

// Post books a submitted document to the ledger in one transaction.
func (s *Service) Post(ctx context.Context, actor rbac.Principal, id int64) (Document, error) {
	var before, after Document
	var entry accounting.JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, spec, err := s.loadForAction(ctx, tx, actor, id, rbac.ActionPost)
		if err != nil {
			return err
		}
		before = doc
		entry, err = s.post(ctx, tx, spec, actor, &doc)
		after = doc
		return err
	})
	if err != nil {
		s.postFailed(id, err)
		return Document{}, err
	}
	s.posted(ctx, actor, entry, &before, &after)
	return after, nil
}

// SubmitAndPost submits and posts a draft in one step. Admin only; each step
// keeps its own precondition and maker/checker still applies to the post.
func (s *Service) SubmitAndPost(ctx context.Context, actor rbac.Principal, id int64) (Document, error) {
	if !actor.HasRole(rbac.RoleAdmin) {
		return Document{}, shared.Errorf(shared.KindPermissionDenied, "Only admins can submit and post in one step")
	}
	var before, after Document
	var entry accounting.JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, spec, err := s.loadForAction(ctx, tx, actor, id, rbac.ActionSubmit)
		if err != nil {
			return err
		}
		before = doc
		if err := s.submit(ctx, tx, spec, actor, &doc); err != nil {
			return err
		}
		if _, err := Next(doc.Status, rbac.ActionPost); err != nil {
			return err
		}
		if err := rbac.Authorize(actor, rbac.Target{Status: doc.Status, CreatedBy: doc.CreatedBy}, rbac.ActionPost); err != nil {
			return err
		}
		entry, err = s.post(ctx, tx, spec, actor, &doc)
		after = doc
		return err
	})
	if err != nil {
		s.postFailed(id, err)
		return Document{}, err
	}
	s.posted(ctx, actor, entry, &before, &after)
	return after, nil
}

// Reverse mirrors the linked journal dated today and marks the document Reversed.
func (s *Service) Reverse(ctx context.Context, actor rbac.Principal, id int64, reason string) (Document, error) {
	return s.unpost(ctx, actor, id, reason, rbac.ActionReverse)
}

// Void mirrors the linked journal on the document date and marks it Voided.
// The original period must still be open.
func (s *Service) Void(ctx context.Context, actor rbac.Principal, id int64, reason string) (Document, error) {
	return s.unpost(ctx, actor, id, reason, rbac.ActionVoid)
}

// DeleteDraft removes a draft with its lines and allocations.
func (s *Service) DeleteDraft(ctx context.Context, actor rbac.Principal, id int64) error {
	var before Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, _, err := s.loadForAction(ctx, tx, actor, id, rbac.ActionDeleteDraft)
		if err != nil {
			return err
		}
		before = doc
		return tx.DeleteDocument(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "document.delete", &before, nil)
	return nil
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id int64) (Document, error) {
	if err := rbac.Authorize(actor, rbac.Target{}, rbac.ActionView); err != nil {
		return Document{}, err
	}
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		return inScope(actor, doc)
	})
	return doc, err
}

// List returns documents matching filter, ordered by date then number.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	var docs []Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		docs, err = tx.ListDocuments(ctx, filter)
		return err
	})
	return docs, err
}

// ControlAccount resolves the AR or AP control account of a company.
func (s *Service) ControlAccount(ctx context.Context, companyID int64, module string) (int64, error) {
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = accounting.ResolveMapping(ctx, tx.Ledger(), companyID, module, KeyControl)
		return err
	})
	return id, err
}

func (s *Service) submit(ctx context.Context, tx TxRepository, spec TypeSpec, actor rbac.Principal, doc *Document) error {
	next, err := Next(doc.Status, rbac.ActionSubmit)
	if err != nil {
		return err
	}
	if err := spec.Costing.Cost(ctx, doc); err != nil {
		return err
	}
	if err := s.checkAllocations(ctx, tx, spec, doc); err != nil {
		return err
	}
	now := s.now()
	by := actor.UserID
	doc.Status = next
	doc.SubmittedBy = &by
	doc.SubmittedAt = &now
	doc.UpdatedAt = now
	return nil
}

// post runs guard, costing, mapping and journal insert, then links the
// journal. The caller persists nothing else.
func (s *Service) post(ctx context.Context, tx TxRepository, spec TypeSpec, actor rbac.Principal, doc *Document) (accounting.JournalEntry, error) {
	next, err := Next(doc.Status, rbac.ActionPost)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	ledger := tx.Ledger()
	if _, err := s.guard.EnsureOpen(ctx, ledger, doc.PeriodID); err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := spec.Costing.Cost(ctx, doc); err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := s.checkAllocations(ctx, tx, spec, doc); err != nil {
		return accounting.JournalEntry{}, err
	}
	lines, err := spec.Mapping.JournalLines(ctx, ledger, *doc)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	entry, err := s.ledger.PostInTx(ctx, ledger, accounting.PostingInput{
		CompanyID: doc.CompanyID,
		PeriodID:  doc.PeriodID,
		Date:      doc.DocDate,
		Narration: narration(*doc),
		Source:    accounting.SourceDocumentPrefix + string(doc.Type),
		SourceID:  doc.SourceID(),
		ActorID:   actor.UserID,
		Lines:     lines,
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	now := s.now()
	by := actor.UserID
	doc.Status = next
	doc.PostedBy = &by
	doc.PostedAt = &now
	doc.JournalID = &entry.ID
	doc.UpdatedAt = now
	if err := tx.UpdateDocument(ctx, *doc); err != nil {
		return accounting.JournalEntry{}, err
	}
	return entry, nil
}

func (s *Service) unpost(ctx context.Context, actor rbac.Principal, id int64, reason string, action rbac.Action) (Document, error) {
	reason = strings.TrimSpace(reason)
	var before, after Document
	var reversal, original accounting.JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, _, err := s.loadForAction(ctx, tx, actor, id, action)
		if err != nil {
			return err
		}
		next, err := Next(doc.Status, action)
		if err != nil {
			return err
		}
		if reason == "" {
			return shared.Errorf(shared.KindValidation, "a reason is required to %s a document", strings.ToLower(string(action)))
		}
		if doc.JournalID == nil {
			return shared.Errorf(shared.KindInternal, "posted document %s has no journal", doc.DocNo)
		}
		if doc.Type == TypeInvoice || doc.Type == TypeBill {
			allocated, err := tx.AllocatedTo(ctx, doc.ID)
			if err != nil {
				return err
			}
			if allocated.IsPositive() {
				return shared.Errorf(shared.KindInvalidStateTransition, "%s has %s settled; reverse its settlements first", doc.DocNo, money.Fixed(allocated))
			}
		}
		before = doc
		in := accounting.ReverseInput{JournalID: *doc.JournalID, Reason: reason, ActorID: actor.UserID}
		if action == rbac.ActionVoid {
			in.Date = doc.DocDate
		}
		reversal, original, err = s.ledger.ReverseInTx(ctx, tx.Ledger(), in)
		if err != nil {
			return err
		}
		now := s.now()
		by := actor.UserID
		doc.Status = next
		doc.ClosedBy = &by
		doc.ClosedAt = &now
		doc.CloseReason = reason
		doc.ReversalJournalID = &reversal.ID
		doc.UpdatedAt = now
		after = doc
		return tx.UpdateDocument(ctx, doc)
	})
	if err != nil {
		s.postFailed(id, err)
		return Document{}, err
	}
	s.ledger.RecordReversal(ctx, original, reversal, actor.UserID)
	s.record(ctx, actor, "document."+strings.ToLower(string(action)), &before, &after)
	s.changed(ctx, after.CompanyID)
	return after, nil
}

func (s *Service) loadForAction(ctx context.Context, tx TxRepository, actor rbac.Principal, id int64, action rbac.Action) (Document, TypeSpec, error) {
	doc, err := tx.GetDocumentForUpdate(ctx, id)
	if err != nil {
		return Document{}, TypeSpec{}, err
	}
	if err := inScope(actor, doc); err != nil {
		return Document{}, TypeSpec{}, err
	}
	spec, err := s.registry.Lookup(doc.Type)
	if err != nil {
		return Document{}, TypeSpec{}, err
	}
	if _, err := Next(doc.Status, action); err != nil {
		return Document{}, TypeSpec{}, err
	}
	if err := rbac.Authorize(actor, rbac.Target{Status: doc.Status, CreatedBy: doc.CreatedBy}, action); err != nil {
		return Document{}, TypeSpec{}, err
	}
	return doc, spec, nil
}

func (s *Service) resolvePeriod(ctx context.Context, tx TxRepository, doc *Document) error {
	p, err := tx.Ledger().FindPeriodForDate(ctx, doc.CompanyID, doc.DocDate)
	if err != nil {
		if shared.KindOf(err) == shared.KindNotFound {
			return shared.Errorf(shared.KindValidation, "no period covers %s", doc.DocDate.Format(time.DateOnly))
		}
		return err
	}
	doc.PeriodID = p.ID
	return nil
}

// checkAllocations validates settlement targets against posted documents.
func (s *Service) checkAllocations(ctx context.Context, tx TxRepository, spec TypeSpec, doc *Document) error {
	if !spec.IsSettlement() {
		return nil
	}
	for i := range doc.Allocations {
		a := &doc.Allocations[i]
		target, err := tx.GetDocument(ctx, a.TargetID)
		if err != nil {
			if shared.KindOf(err) == shared.KindNotFound {
				return shared.Errorf(shared.KindValidation, "allocation target %d not found", a.TargetID)
			}
			return err
		}
		switch {
		case target.CompanyID != doc.CompanyID:
			return shared.Errorf(shared.KindValidation, "%s belongs to another company", target.DocNo)
		case target.Type != spec.SettlesType:
			return shared.Errorf(shared.KindValidation, "a %s can only settle %ss; %s is a %s", doc.Type.Label(), spec.SettlesType.Label(), target.DocNo, target.Type.Label())
		case target.PartyID != doc.PartyID:
			return shared.Errorf(shared.KindValidation, "%s belongs to another party", target.DocNo)
		case target.Status != shared.StatusPosted:
			return shared.Errorf(shared.KindValidation, "%s is not posted", target.DocNo)
		}
		allocated, err := tx.AllocatedTo(ctx, target.ID)
		if err != nil {
			return err
		}
		outstanding := target.Totals.Total.Sub(allocated)
		if a.Amount.GreaterThan(outstanding) {
			return shared.Errorf(shared.KindValidation, "allocation of %s exceeds the %s outstanding on %s", money.Fixed(a.Amount), money.Fixed(outstanding), target.DocNo)
		}
		a.TargetDocNo = target.DocNo
	}
	return nil
}

func (s *Service) posted(ctx context.Context, actor rbac.Principal, entry accounting.JournalEntry, before, after *Document) {
	s.ledger.RecordPosted(ctx, entry)
	s.record(ctx, actor, "document.post", before, after)
	s.changed(ctx, after.CompanyID)
}

func (s *Service) postFailed(id int64, err error) {
	s.ledger.RecordFailure(err)
	s.logger.Info("document posting rejected",
		slog.Int64("document_id", id),
		slog.String("kind", string(shared.KindOf(err))),
		slog.String("reason", shared.ReasonOf(err)))
}

func (s *Service) changed(ctx context.Context, companyID int64) {
	if s.invalidator != nil {
		s.invalidator.LedgerChanged(ctx, companyID)
	}
}

func (s *Service) record(ctx context.Context, actor rbac.Principal, action string, before, after *Document) {
	change := audit.Change{Entity: "document", Action: action, ActorID: actor.UserID}
	if before != nil {
		change.EntityID = before.ID
		change.Before = before
	}
	if after != nil {
		change.EntityID = after.ID
		change.After = after
	}
	s.audit.Record(ctx, change)
}

func inScope(actor rbac.Principal, doc Document) error {
	if actor.CompanyID != 0 && doc.CompanyID != actor.CompanyID {
		return shared.Errorf(shared.KindNotFound, "document %d not found", doc.ID)
	}
	return nil
}

func narration(doc Document) string {
	if doc.Narration != "" {
		return doc.DocNo + " " + doc.Narration
	}
	return doc.DocNo
}

// apply copies caller content onto doc.
func apply(doc *Document, in DraftInput) error {
	if in.DocDate.IsZero() {
		return shared.Errorf(shared.KindValidation, "document date required")
	}
	if in.PartyID == 0 {
		return shared.Errorf(shared.KindValidation, "party required")
	}
	due := in.DueDate
	if due.IsZero() {
		due = in.DocDate
	}
	if due.Before(in.DocDate) {
		return shared.Errorf(shared.KindValidation, "due date %s is before document date %s", due.Format(time.DateOnly), in.DocDate.Format(time.DateOnly))
	}
	doc.DocDate = in.DocDate
	doc.DueDate = due
	doc.PartyID = in.PartyID
	doc.Narration = strings.TrimSpace(in.Narration)
	doc.EvacuationAccountID = in.EvacuationAccountID
	doc.Settlement = Settlement{Amount: in.Settlement.Amount, Withholding: in.Settlement.Withholding, CashAccountID: in.Settlement.CashAccountID}

	doc.Lines = nil
	for _, l := range in.Lines {
		doc.Lines = append(doc.Lines, Line{AccountID: l.AccountID, Description: strings.TrimSpace(l.Description), Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	doc.CtroLines = nil
	for _, l := range in.CtroLines {
		doc.CtroLines = append(doc.CtroLines, ctroInput(l))
	}
	doc.Allocations = nil
	for _, a := range in.Allocations {
		doc.Allocations = append(doc.Allocations, Allocation{TargetID: a.TargetID, Amount: a.Amount})
	}
	return nil
}
