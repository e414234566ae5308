package cache

import (
	"context"
	"slices"
	"sync"

	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

// MemoryStore is a process-local storage.CacheStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]core.CacheEntry
}

var _ storage.CacheStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]core.CacheEntry)}
}

func (m *MemoryStore) GetEntry(ctx context.Context, fingerprint string) (*core.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	e.CitedChunkIDs = slices.Clone(e.CitedChunkIDs)
	return &e, nil
}

func (m *MemoryStore) PutEntry(ctx context.Context, entry *core.CacheEntry) error {
	e := *entry
	e.CitedChunkIDs = slices.Clone(entry.CitedChunkIDs)
	m.mu.Lock()
	m.entries[e.Fingerprint] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteEntry(ctx context.Context, fingerprint string) error {
	m.mu.Lock()
	delete(m.entries, fingerprint)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
