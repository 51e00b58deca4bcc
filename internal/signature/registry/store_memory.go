package registry

import (
	"context"
	"sync"

	"syncmesh/pkg/platform/sentinel"
)

// MemoryStore holds registry entries in memory. Suitable for tests and
// single-instance deployments seeded at startup.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Put registers or replaces an entry. Seeding surface, not part of Store.
func (s *MemoryStore) Put(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(entry.WriterType, entry.WriterID)] = entry
}

// Lookup returns the entry for (writerType, writerID).
func (s *MemoryStore) Lookup(ctx context.Context, writerType, writerID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key(writerType, writerID)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func key(writerType, writerID string) string {
	return writerType + "/" + writerID
}
