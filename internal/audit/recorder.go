package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Recorder turns changes into records and hands them to a sink.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder constructs a Recorder. A nil logger falls back to slog.Default.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (r *Recorder) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Append stores a change and returns the written record.
func (r *Recorder) Append(ctx context.Context, change Change) (Record, error) {
	if r == nil || r.sink == nil {
		return Record{}, nil
	}
	if change.Entity == "" || change.Action == "" {
		return Record{}, fmt.Errorf("audit: entity and action required")
	}
	before, err := snapshot(change.Before)
	if err != nil {
		return Record{}, err
	}
	after, err := snapshot(change.After)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		ID:       uuid.New(),
		Entity:   change.Entity,
		EntityID: fmt.Sprint(change.EntityID),
		Action:   change.Action,
		Before:   before,
		After:    after,
		ActorID:  change.ActorID,
		At:       r.now().UTC(),
	}
	if err := r.sink.Append(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("audit: append: %w", err)
	}
	return rec, nil
}

// Record appends a change after commit; failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, change Change) {
	if r == nil || r.sink == nil {
		return
	}
	if _, err := r.Append(ctx, change); err != nil {
		r.logger.Warn("audit record failed",
			slog.String("entity", change.Entity),
			slog.String("action", change.Action),
			slog.Any("error", err))
	}
}

// Timeline lists the records of one entity, oldest first.
func (r *Recorder) Timeline(ctx context.Context, entity, entityID string) ([]Record, error) {
	if r == nil || r.sink == nil {
		return nil, nil
	}
	return r.sink.List(ctx, entity, entityID)
}
