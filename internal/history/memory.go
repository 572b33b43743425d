package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the most recent entries in memory. It is used when no
// database is configured, and by the CLI.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry // oldest first
	limit   int
	now     func() time.Time
}

// NewMemoryStore keeps at most limit entries; older ones are dropped.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryStore{limit: limit, now: time.Now}
}

func (m *MemoryStore) Record(_ context.Context, e Entry) error {
	e = prepare(e, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if over := len(m.entries) - m.limit; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	limit = clampLimit(limit)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := min(limit, len(m.entries))
	out := make([]Entry, 0, n)
	for i := len(m.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *MemoryStore) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var purged int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return purged, nil
}

func (m *MemoryStore) Close() {}
