package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Used in tests and when no persistent
// backend is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	staleness time.Duration
	stats     counters
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(staleness time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]Entry),
		staleness: staleness,
		now:       time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	entry, found := m.entries[key]
	m.mu.RUnlock()

	entry, ok := m.stats.lookup(entry, found, m.staleness, m.now())
	if !ok && found {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
	}
	return entry, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, entry Entry) error {
	m.mu.Lock()
	m.entries[key] = stamp(entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Stats() Stats { return m.stats.snapshot("memory") }

func (m *MemoryStore) Flush() error { return nil }

func (m *MemoryStore) Close() error { return nil }
