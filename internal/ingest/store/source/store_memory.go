package source

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"syncmesh/internal/ingest/models"
	"syncmesh/pkg/platform/sentinel"
)

// MemoryStore holds registered sources in memory. Suitable for tests and
// single-instance deployments seeded at startup.
type MemoryStore struct {
	mu      sync.RWMutex
	sources map[uuid.UUID]*models.RegisteredSource
}

// NewMemoryStore creates an empty in-memory source store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sources: make(map[uuid.UUID]*models.RegisteredSource)}
}

// Put registers or replaces a source. Seeding surface, not part of Store.
func (s *MemoryStore) Put(src *models.RegisteredSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *src
	s.sources[src.ID] = &copied
}

// FindActiveByNodeID returns every active source row for a node id.
func (s *MemoryStore) FindActiveByNodeID(ctx context.Context, nodeID string) ([]*models.RegisteredSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RegisteredSource
	for _, src := range s.sources {
		if src.NodeID == nodeID && src.IsActive {
			copied := *src
			out = append(out, &copied)
		}
	}
	return out, nil
}

// TouchLastSeen updates the source's last-seen marker.
func (s *MemoryStore) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	src.LastSeenAt = &at
	return nil
}
