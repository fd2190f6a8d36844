// Package audit keeps the append-only record of every state change.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one immutable audit entry.
type Record struct {
	ID       uuid.UUID
	Entity   string
	EntityID string
	Action   string
	Before   json.RawMessage
	After    json.RawMessage
	ActorID  int64
	At       time.Time
}

// Sink stores records. Implementations never update or delete.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, entity, entityID string) ([]Record, error)
}

// Change describes a mutation before it becomes a Record.
type Change struct {
	Entity   string
	EntityID any
	Action   string
	Before   any
	After    any
	ActorID  int64
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: snapshot: %w", err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}
