package journal

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process. It backs the "memory" journal
// backend and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	recs []Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Query(_ context.Context, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Record
	for _, r := range m.recs {
		if q.Matches(r) {
			res = append(res, r)
		}
	}
	return tail(res, q.Limit), nil
}

func (m *MemoryStore) Close() error { return nil }
