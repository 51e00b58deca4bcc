package event

import (
	"context"
	"sync"

	"syncmesh/internal/ingest/models"
	"syncmesh/pkg/platform/sentinel"
)

// MemoryStore keeps forwarded events in memory. Correct only for
// single-instance deployments.
type MemoryStore struct {
	mu     sync.Mutex
	byKey  map[string]*models.ForwardedEvent
	events []*models.ForwardedEvent
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*models.ForwardedEvent)}
}

// Insert persists one event, enforcing dedupe-key uniqueness.
func (s *MemoryStore) Insert(ctx context.Context, ev *models.ForwardedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[ev.DedupeKey]; ok {
		return sentinel.ErrConflict
	}
	copied := *ev
	s.byKey[ev.DedupeKey] = &copied
	s.events = append(s.events, &copied)
	return nil
}

// FindByDedupeKey returns the event stored under a key.
func (s *MemoryStore) FindByDedupeKey(ctx context.Context, dedupeKey string) (*models.ForwardedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byKey[dedupeKey]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *ev
	return &copied, nil
}

// Len reports how many events are stored. Test surface.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
