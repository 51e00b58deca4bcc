package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"syncmesh/pkg/platform/sentinel"
)

// PostgresStore reads the signer registry from PostgreSQL. Pure I/O; the
// verifier owns all matching logic.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed registry store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Lookup returns the entry for (writerType, writerID).
func (s *PostgresStore) Lookup(ctx context.Context, writerType, writerID string) (*Entry, error) {
	query := `
		SELECT writer_type, writer_id, key_ref, address
		FROM signer_registry
		WHERE writer_type = $1 AND writer_id = $2
	`
	var entry Entry
	err := s.db.QueryRowContext(ctx, query, writerType, writerID).Scan(
		&entry.WriterType,
		&entry.WriterID,
		&entry.KeyRef,
		&entry.Address,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lookup signer: %w", err)
	}
	return &entry, nil
}
