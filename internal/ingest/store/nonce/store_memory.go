package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"syncmesh/pkg/platform/sentinel"
)

// MemoryStore keeps the nonce ledger in memory. Correct only for
// single-instance deployments; multi-instance deployments need the postgres
// store so racing requests resolve on one constraint.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryStore creates an empty in-memory nonce ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

// Insert records (sourceID, nonce, seenAt) exactly once.
func (s *MemoryStore) Insert(ctx context.Context, sourceID uuid.UUID, nonce string, seenAt time.Time) error {
	key := sourceID.String() + ":" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return sentinel.ErrConflict
	}
	s.seen[key] = seenAt
	return nil
}

// DeleteOlderThan garbage-collects ledger entries by age.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, seenAt := range s.seen {
		if seenAt.Before(cutoff) {
			delete(s.seen, key)
			n++
		}
	}
	return n, nil
}
