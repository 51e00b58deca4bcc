package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBucketStore implements BucketStore with a fixed-window counter in
// Redis. INCR is atomic, so concurrent instances share one counter without
// read-then-write races.
type RedisBucketStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisBucketStore creates a Redis-backed bucket store.
func NewRedisBucketStore(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

// Allow increments the counter for the current window and compares against
// the limit. The key expires with the window so idle buckets cost nothing.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	windowStart := now.Truncate(window)
	bucketKey := key + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, bucketKey)
	pipe.ExpireNX(ctx, bucketKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis incr: %w", err)
	}

	count := int(incr.Val())
	resetAt := windowStart.Add(window)

	if count > limit {
		return &Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: resetAt}, nil
	}
	return &Result{
		Allowed:   true,
		Remaining: limit - count,
		Limit:     limit,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears all window counters for a key. Operator/test surface, not on
// the request path, so a KEYS scan is acceptable here.
func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	keys, err := s.client.Keys(ctx, key+":*").Result()
	if err != nil {
		return fmt.Errorf("redis keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
