//go:build integration

package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"syncmesh/internal/ratelimit"
	"syncmesh/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisBucketStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = ratelimit.NewRedisBucketStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestAllowUpToLimitThenDeny() {
	ctx := context.Background()
	const limit = 3

	for i := 0; i < limit; i++ {
		res, err := s.store.Allow(ctx, "bucket", limit, time.Minute)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(limit-i-1, res.Remaining)
	}

	res, err := s.store.Allow(ctx, "bucket", limit, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(0, res.Remaining)
	s.True(res.ResetAt.After(time.Now()))
}

func (s *RedisStoreSuite) TestKeysAreIndependent() {
	ctx := context.Background()

	res, err := s.store.Allow(ctx, "bucket-a", 1, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)

	res, err = s.store.Allow(ctx, "bucket-a", 1, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)

	res, err = s.store.Allow(ctx, "bucket-b", 1, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *RedisStoreSuite) TestResetClearsCounters() {
	ctx := context.Background()

	_, err := s.store.Allow(ctx, "bucket", 1, time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(ctx, "bucket"))

	res, err := s.store.Allow(ctx, "bucket", 1, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

// The INCR pipeline must serialize concurrent callers so the shared counter
// never over-admits.
func (s *RedisStoreSuite) TestConcurrentAllowEnforcesLimit() {
	ctx := context.Background()
	const limit = 10
	const goroutines = 50

	var wg sync.WaitGroup
	var allowed atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(ctx, "bucket", limit, time.Minute)
			s.Require().NoError(err)
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(limit), allowed.Load())
}
