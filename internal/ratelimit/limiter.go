package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// BucketStore tracks request counts per key. Implementations must be safe
// under concurrent use and increment atomically; read-then-write races would
// let bursts through.
type BucketStore interface {
	// Allow records one request against key and reports whether it fit
	// within limit for the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error
}

// Limiter bounds ingestion per (source, network origin) pair. The gateway
// consults it before any source lookup or signature work so exhausted
// callers are rejected cheaply.
type Limiter struct {
	store  BucketStore
	limit  int
	window time.Duration
}

// NewLimiter builds a Limiter over the given store.
func NewLimiter(store BucketStore, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow checks and consumes one token for the (nodeID, origin) pair.
func (l *Limiter) Allow(ctx context.Context, nodeID, origin string) (*Result, error) {
	key := Key(nodeID, origin)
	result, err := l.store.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	return result, nil
}

// Key builds the bucket key for a source and its observed network origin.
func Key(nodeID, origin string) string {
	return "ingest:" + nodeID + ":" + origin
}
