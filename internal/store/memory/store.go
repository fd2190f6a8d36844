// Package memory is a transactional in-process store backing every domain
// repository port. Each transaction works on a copy of the state that is
// swapped in on success, so a failed operation leaves nothing behind.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/ctro"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/periods"
)

type mappingKey struct {
	company int64
	module  string
	key     string
}

type state struct {
	nextID    int64
	periods   map[int64]periods.Period
	accounts  map[int64]accounting.Account
	mappings  map[mappingKey]accounting.AccountMapping
	journals  map[int64]accounting.JournalEntry
	documents map[int64]documents.Document
}

func newState() *state {
	return &state{
		periods:   map[int64]periods.Period{},
		accounts:  map[int64]accounting.Account{},
		mappings:  map[mappingKey]accounting.AccountMapping{},
		journals:  map[int64]accounting.JournalEntry{},
		documents: map[int64]documents.Document{},
	}
}

// clone copies the maps. Stored values are never mutated in place.
func (s *state) clone() *state {
	c := &state{
		nextID:    s.nextID,
		periods:   make(map[int64]periods.Period, len(s.periods)),
		accounts:  make(map[int64]accounting.Account, len(s.accounts)),
		mappings:  make(map[mappingKey]accounting.AccountMapping, len(s.mappings)),
		journals:  make(map[int64]accounting.JournalEntry, len(s.journals)),
		documents: make(map[int64]documents.Document, len(s.documents)),
	}
	for k, v := range s.periods {
		c.periods[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.mappings {
		c.mappings[k] = v
	}
	for k, v := range s.journals {
		c.journals[k] = v
	}
	for k, v := range s.documents {
		c.documents[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store serialises transactions over one shared state.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time

	ratesMu  sync.RWMutex
	rates    []ctro.RateCard
	nextRate int64
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithNow overrides the clock used for stored timestamps.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Periods returns the period repository port.
func (s *Store) Periods() periods.RepositoryPort { return periodPort{s} }

// Ledger returns the accounting repository port.
func (s *Store) Ledger() accounting.RepositoryPort { return ledgerPort{s} }

// Documents returns the documents repository port.
func (s *Store) Documents() documents.RepositoryPort { return documentPort{s} }

// RateCards returns the rate card repository. It is locked separately so the
// costing engine can run inside a document transaction.
func (s *Store) RateCards() ctro.RateCardRepository { return rateCards{s} }

type periodPort struct{ s *Store }

func (p periodPort) WithTx(ctx context.Context, fn func(context.Context, periods.TxRepository) error) error {
	return p.s.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

type ledgerPort struct{ s *Store }

func (p ledgerPort) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	return p.s.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

type documentPort struct{ s *Store }

func (p documentPort) WithTx(ctx context.Context, fn func(context.Context, documents.TxRepository) error) error {
	return p.s.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

type rateCards struct{ s *Store }

func (r rateCards) RateCardsCovering(_ context.Context, companyID int64, date time.Time) ([]ctro.RateCard, error) {
	r.s.ratesMu.RLock()
	defer r.s.ratesMu.RUnlock()
	var out []ctro.RateCard
	for _, c := range r.s.rates {
		if c.CompanyID == companyID && c.Covers(date) {
			c.Lines = append([]ctro.RateCardLine(nil), c.Lines...)
			out = append(out, c)
		}
	}
	return out, nil
}

func (r rateCards) InsertRateCard(_ context.Context, card ctro.RateCard) (ctro.RateCard, error) {
	r.s.ratesMu.Lock()
	defer r.s.ratesMu.Unlock()
	now := r.s.now()
	r.s.nextRate++
	card.ID = r.s.nextRate
	if card.CreatedAt.IsZero() {
		card.CreatedAt = now
	}
	lines := make([]ctro.RateCardLine, len(card.Lines))
	for i, l := range card.Lines {
		r.s.nextRate++
		l.ID = r.s.nextRate
		l.RateCardID = card.ID
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		lines[i] = l
	}
	card.Lines = lines
	r.s.rates = append(r.s.rates, card)
	out := card
	out.Lines = append([]ctro.RateCardLine(nil), lines...)
	return out, nil
}
