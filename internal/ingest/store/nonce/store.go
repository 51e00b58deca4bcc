package nonce

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the replay-nonce ledger. Insert must be atomic with respect to
// concurrent ingests from the same source: exactly one of two racing
// requests wins, the other observes sentinel.ErrConflict and is reported as
// a duplicate.
type Store interface {
	// Insert records (sourceID, nonce, seenAt). Returns sentinel.ErrConflict
	// when the pair was already recorded, which is the replay-detection signal.
	Insert(ctx context.Context, sourceID uuid.UUID, nonce string, seenAt time.Time) error

	// DeleteOlderThan garbage-collects ledger entries by age. Optional
	// maintenance; correctness does not depend on it because the freshness
	// window already bounds useful replay attempts.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
