package numbering

import (
	"context"
	"fmt"
	"sync"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type seriesKey struct {
	company int64
	prefix  string
	year    int
}

// MemoryStore implements Counter and Reserver in process.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[seriesKey]int64
	taken    map[seriesKey]map[int64]struct{}
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: map[seriesKey]int64{}, taken: map[seriesKey]map[int64]struct{}{}}
}

func (m *MemoryStore) Increment(_ context.Context, companyID int64, prefix string, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := seriesKey{companyID, prefix, year}
	m.counters[k]++
	return m.counters[k], nil
}

func (m *MemoryStore) MaxNumber(_ context.Context, companyID int64, prefix string, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var maxN int64
	for n := range m.taken[seriesKey{companyID, prefix, year}] {
		if n > maxN {
			maxN = n
		}
	}
	return maxN, nil
}

func (m *MemoryStore) Reserve(_ context.Context, companyID int64, prefix string, year int, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := seriesKey{companyID, prefix, year}
	if m.taken[k] == nil {
		m.taken[k] = map[int64]struct{}{}
	}
	if _, ok := m.taken[k][n]; ok {
		return shared.Errorf(shared.KindConflict, "number %s taken", fmt.Sprint(n))
	}
	m.taken[k][n] = struct{}{}
	return nil
}
