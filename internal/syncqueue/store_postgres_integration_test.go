//go:build integration

package syncqueue_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"

	"syncmesh/internal/syncqueue"
	"syncmesh/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *syncqueue.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = syncqueue.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "sync_queue")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) enqueue(path, content string) {
	err := s.store.Enqueue(context.Background(), &syncqueue.Item{
		EventID:       "evt-1",
		Operation:     "upsert",
		Domain:        "docs",
		CanonicalPath: path,
		Content:       json.RawMessage(content),
	})
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestEnqueueReplacesContentSnapshot() {
	ctx := context.Background()
	s.enqueue("/a", `{"v":1}`)
	s.enqueue("/a", `{"v":2}`)

	count, err := s.store.PendingCount(ctx)
	s.Require().NoError(err)
	s.Equal(1, count)

	items, err := s.store.Claim(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.JSONEq(`{"v":2}`, string(items[0].Content))
}

func (s *PostgresStoreSuite) TestClaimIsExclusive() {
	ctx := context.Background()
	s.enqueue("/a", `{"v":1}`)
	s.enqueue("/b", `{"v":2}`)

	first, err := s.store.Claim(ctx, 10)
	s.Require().NoError(err)
	s.Len(first, 2)

	second, err := s.store.Claim(ctx, 10)
	s.Require().NoError(err)
	s.Empty(second)
}

func (s *PostgresStoreSuite) TestStaleClaimIsReclaimed() {
	ctx := context.Background()
	s.enqueue("/a", `{"v":1}`)

	items, err := s.store.Claim(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)

	// Simulate a claimer that died mid-batch: the row sits in claimed with
	// no one coming back for it.
	_, err = s.postgres.DB.ExecContext(ctx,
		`UPDATE sync_queue SET updated_at = now() - interval '10 minutes' WHERE domain = 'docs' AND canonical_path = '/a'`)
	s.Require().NoError(err)

	reclaimed, err := s.store.Claim(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(reclaimed, 1)
	s.Equal("/a", reclaimed[0].CanonicalPath)
}

func (s *PostgresStoreSuite) TestReleaseReturnsTaskAndCountsAttempt() {
	ctx := context.Background()
	s.enqueue("/a", `{"v":1}`)

	items, err := s.store.Claim(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(0, items[0].Attempts)

	err = s.store.Release(ctx, "docs", "/a")
	s.Require().NoError(err)

	again, err := s.store.Claim(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(again, 1)
	s.Equal(1, again[0].Attempts)
}

func (s *PostgresStoreSuite) TestMarkSucceededFinishesTask() {
	ctx := context.Background()
	s.enqueue("/a", `{"v":1}`)

	items, err := s.store.Claim(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)

	err = s.store.MarkSucceeded(ctx, "docs", "/a")
	s.Require().NoError(err)

	count, err := s.store.PendingCount(ctx)
	s.Require().NoError(err)
	s.Equal(0, count)

	// Re-enqueue resets the finished row back to pending.
	s.enqueue("/a", `{"v":2}`)
	count, err = s.store.PendingCount(ctx)
	s.Require().NoError(err)
	s.Equal(1, count)
}
