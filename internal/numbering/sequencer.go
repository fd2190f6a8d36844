// Package numbering issues human readable document numbers.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Prefixes per document type.
const (
	PrefixInvoice        = "INV"
	PrefixBill           = "BILL"
	PrefixReceipt        = "RCT"
	PrefixPaymentVoucher = "PV"
	PrefixCTRO           = "CTRO"
	PrefixJournal        = "JV"
)

// Format renders PREFIX-YYYY-NNNN; the counter widens past 9999.
func Format(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%04d-%04d", prefix, year, n)
}

// Counter atomically increments and returns the next value of a series.
type Counter interface {
	Increment(ctx context.Context, companyID int64, prefix string, year int) (int64, error)
}

// Sequencer issues numbers from an atomic counter.
type Sequencer struct {
	counter Counter
}

// NewSequencer constructs a Sequencer over counter.
func NewSequencer(counter Counter) *Sequencer {
	return &Sequencer{counter: counter}
}

// Next returns the next number of (company, prefix, year).
func (s *Sequencer) Next(ctx context.Context, companyID int64, prefix string, year int) (string, error) {
	if prefix == "" {
		return "", shared.Errorf(shared.KindValidation, "numbering prefix required")
	}
	n, err := s.counter.Increment(ctx, companyID, prefix, year)
	if err != nil {
		return "", fmt.Errorf("numbering: increment %s-%d: %w", prefix, year, err)
	}
	return Format(prefix, year, n), nil
}

// Reserver issues numbers as max+1 guarded by a unique constraint.
type Reserver interface {
	MaxNumber(ctx context.Context, companyID int64, prefix string, year int) (int64, error)
	// Reserve fails with shared.ErrConflict when n is already taken.
	Reserve(ctx context.Context, companyID int64, prefix string, year int, n int64) error
}

// RetryingSequencer retries max+1 reservation on unique conflicts.
type RetryingSequencer struct {
	store  Reserver
	limit  int
	logger *slog.Logger
}

// NewRetryingSequencer constructs a RetryingSequencer; limit < 1 means 5.
func NewRetryingSequencer(store Reserver, limit int, logger *slog.Logger) *RetryingSequencer {
	if limit < 1 {
		limit = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingSequencer{store: store, limit: limit, logger: logger}
}

// Next reserves max+1, retrying when a concurrent writer took it first.
func (s *RetryingSequencer) Next(ctx context.Context, companyID int64, prefix string, year int) (string, error) {
	if prefix == "" {
		return "", shared.Errorf(shared.KindValidation, "numbering prefix required")
	}
	for attempt := 1; attempt <= s.limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		maxN, err := s.store.MaxNumber(ctx, companyID, prefix, year)
		if err != nil {
			return "", fmt.Errorf("numbering: max %s-%d: %w", prefix, year, err)
		}
		next := maxN + 1
		err = s.store.Reserve(ctx, companyID, prefix, year, next)
		if err == nil {
			return Format(prefix, year, next), nil
		}
		if !errors.Is(err, shared.ErrConflict) {
			return "", fmt.Errorf("numbering: reserve %s: %w", Format(prefix, year, next), err)
		}
		s.logger.Debug("numbering conflict, retrying", slog.String("number", Format(prefix, year, next)), slog.Int("attempt", attempt))
	}
	return "", shared.Errorf(shared.KindConflict, "could not reserve a %s number after %d attempts", prefix, s.limit)
}
