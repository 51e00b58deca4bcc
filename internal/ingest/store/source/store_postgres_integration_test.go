//go:build integration

package source_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"syncmesh/internal/ingest/store/source"
	"syncmesh/pkg/platform/sentinel"
	"syncmesh/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *source.PostgresStore
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
	s.store = source.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "registered_sources")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seed(nodeID, keyHash string, active bool) uuid.UUID {
	id := uuid.New()
	_, err := s.postgres.DB.ExecContext(context.Background(),
		`INSERT INTO registered_sources (id, node_id, api_key_hash, is_active) VALUES ($1, $2, $3, $4)`,
		id, nodeID, keyHash, active)
	s.Require().NoError(err)
	return id
}

func (s *PostgresStoreSuite) TestFindActiveReturnsAllRotationCandidates() {
	s.seed("node-1", "old-key-hash", true)
	s.seed("node-1", "new-key-hash", true)
	s.seed("node-1", "revoked-hash", false)
	s.seed("node-2", "other-hash", true)

	rows, err := s.store.FindActiveByNodeID(context.Background(), "node-1")
	s.Require().NoError(err)
	s.Len(rows, 2)

	hashes := []string{rows[0].APIKeyHash, rows[1].APIKeyHash}
	s.ElementsMatch([]string{"old-key-hash", "new-key-hash"}, hashes)
}

func (s *PostgresStoreSuite) TestUnknownNodeReturnsEmpty() {
	rows, err := s.store.FindActiveByNodeID(context.Background(), "nobody")
	s.Require().NoError(err)
	s.Empty(rows)
}

func (s *PostgresStoreSuite) TestTouchLastSeen() {
	ctx := context.Background()
	id := s.seed("node-1", "hash", true)
	at := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(s.store.TouchLastSeen(ctx, id, at))

	rows, err := s.store.FindActiveByNodeID(ctx, "node-1")
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Require().NotNil(rows[0].LastSeenAt)
	s.WithinDuration(at, *rows[0].LastSeenAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestTouchUnknownSource() {
	err := s.store.TouchLastSeen(context.Background(), uuid.New(), time.Now())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
