package audit

import (
	"context"
	"sync"
)

// MemorySink keeps records in process; used by tests and the memory store profile.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink constructs an empty sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemorySink) List(_ context.Context, entity, entityID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if rec.Entity == entity && (entityID == "" || rec.EntityID == entityID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Records returns a copy of everything appended so far.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Actions lists record actions in append order.
func (m *MemorySink) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Action)
	}
	return out
}
