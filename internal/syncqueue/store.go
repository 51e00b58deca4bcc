package syncqueue

import (
	"context"
	"time"
)

// staleClaimAfter is how long a claim may sit unfinished before the task is
// handed out again. A claimer that crashed or was killed between Claim and
// Mark/Release would otherwise strand the task forever.
const staleClaimAfter = 5 * time.Minute

// Store holds propagation tasks. Claiming must be atomic: two concurrent
// drain callers never receive the same pending task.
type Store interface {
	// Enqueue records or replaces the pending task for the item's
	// (domain, canonicalPath), resetting it to pending with the new
	// content snapshot.
	Enqueue(ctx context.Context, item *Item) error

	// Claim atomically takes up to limit tasks that are pending, or whose
	// claim went stale, out of reach of other callers.
	Claim(ctx context.Context, limit int) ([]*Item, error)

	// MarkSucceeded and MarkSkipped finish a claimed task.
	MarkSucceeded(ctx context.Context, domain, canonicalPath string) error
	MarkSkipped(ctx context.Context, domain, canonicalPath string) error

	// Release returns a claimed task to pending after a failed attempt,
	// incrementing its attempt counter.
	Release(ctx context.Context, domain, canonicalPath string) error

	// PendingCount reports how many tasks await a drain.
	PendingCount(ctx context.Context) (int, error)
}
