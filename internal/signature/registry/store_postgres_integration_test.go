//go:build integration

package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"syncmesh/internal/signature/registry"
	"syncmesh/pkg/platform/sentinel"
	"syncmesh/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *registry.PostgresStore
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
	s.store = registry.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "signer_registry")
	s.Require().NoError(err)

	_, err = s.postgres.DB.ExecContext(ctx,
		`INSERT INTO signer_registry (writer_type, writer_id, key_ref, address) VALUES
		 ('agent', 'writer-1', 'key-ref-1', '0xabc'),
		 ('operator', 'writer-1', 'key-ref-2', '0xdef')`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestLookupScopedByWriterType() {
	ctx := context.Background()

	entry, err := s.store.Lookup(ctx, "agent", "writer-1")
	s.Require().NoError(err)
	s.Equal("key-ref-1", entry.KeyRef)
	s.Equal("0xabc", entry.Address)

	entry, err = s.store.Lookup(ctx, "operator", "writer-1")
	s.Require().NoError(err)
	s.Equal("key-ref-2", entry.KeyRef)
}

func (s *PostgresStoreSuite) TestLookupUnknownWriter() {
	_, err := s.store.Lookup(context.Background(), "agent", "stranger")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
