package syncqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"syncmesh/pkg/platform/sentinel"
)

const statusClaimed ItemStatus = "claimed"

// MemoryStore keeps the queue in memory. Correct only for single-instance
// deployments; multi-instance drains need the postgres store's row claims.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Item
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory queue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Item), now: time.Now}
}

// Enqueue records or replaces the pending task for a logical document.
func (s *MemoryStore) Enqueue(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *item
	copied.Status = StatusPending
	copied.UpdatedAt = s.now()
	if existing, ok := s.items[itemKey(item.Domain, item.CanonicalPath)]; ok {
		copied.Attempts = existing.Attempts
	}
	s.items[itemKey(item.Domain, item.CanonicalPath)] = &copied
	return nil
}

// Claim atomically takes up to limit pending tasks. A stale claim counts as
// pending again: its holder is assumed dead.
func (s *MemoryStore) Claim(ctx context.Context, limit int) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	staleBefore := now.Add(-staleClaimAfter)

	var pending []*Item
	for _, item := range s.items {
		if item.Status == StatusPending ||
			(item.Status == statusClaimed && item.UpdatedAt.Before(staleBefore)) {
			pending = append(pending, item)
		}
	}
	// Oldest first so a hot document cannot starve the rest.
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]*Item, 0, len(pending))
	for _, item := range pending {
		item.Status = statusClaimed
		item.UpdatedAt = now
		copied := *item
		out = append(out, &copied)
	}
	return out, nil
}

// MarkSucceeded finishes a claimed task.
func (s *MemoryStore) MarkSucceeded(ctx context.Context, domain, canonicalPath string) error {
	return s.setStatus(domain, canonicalPath, StatusSucceeded, false)
}

// MarkSkipped finishes a claimed task whose content the target already had.
func (s *MemoryStore) MarkSkipped(ctx context.Context, domain, canonicalPath string) error {
	return s.setStatus(domain, canonicalPath, StatusSkipped, false)
}

// Release returns a claimed task to pending after a failed attempt.
func (s *MemoryStore) Release(ctx context.Context, domain, canonicalPath string) error {
	return s.setStatus(domain, canonicalPath, StatusPending, true)
}

// PendingCount reports how many tasks await a drain.
func (s *MemoryStore) PendingCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range s.items {
		if item.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) setStatus(domain, canonicalPath string, status ItemStatus, countAttempt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemKey(domain, canonicalPath)]
	if !ok {
		return sentinel.ErrNotFound
	}
	item.Status = status
	item.UpdatedAt = s.now()
	if countAttempt {
		item.Attempts++
	}
	return nil
}

func itemKey(domain, canonicalPath string) string {
	return domain + "\x00" + canonicalPath
}
