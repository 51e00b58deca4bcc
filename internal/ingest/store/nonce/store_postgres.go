package nonce

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"syncmesh/internal/platform/postgres"
)

// PostgresStore persists the nonce ledger in PostgreSQL. The primary key on
// (source_id, nonce) makes Insert atomic across instances; a unique
// violation maps to sentinel.ErrConflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed nonce ledger.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert records (sourceID, nonce, seenAt) exactly once.
func (s *PostgresStore) Insert(ctx context.Context, sourceID uuid.UUID, nonce string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replay_nonces (source_id, nonce, seen_at) VALUES ($1, $2, $3)`,
		sourceID, nonce, seenAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return postgres.MapUniqueViolation(err)
		}
		return fmt.Errorf("insert nonce: %w", err)
	}
	return nil
}

// DeleteOlderThan garbage-collects ledger entries by age.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM replay_nonces WHERE seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete nonces: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted nonces: %w", err)
	}
	return n, nil
}
