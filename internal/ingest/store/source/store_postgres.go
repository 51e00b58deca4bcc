package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"syncmesh/internal/ingest/models"
	"syncmesh/pkg/platform/sentinel"
)

// PostgresStore persists registered sources in PostgreSQL. Pure I/O; key
// matching and rotation logic live in the gateway service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed source store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindActiveByNodeID returns every active source row for a node id.
func (s *PostgresStore) FindActiveByNodeID(ctx context.Context, nodeID string) ([]*models.RegisteredSource, error) {
	query := `
		SELECT id, node_id, api_key_hash, COALESCE(owner_identity, ''), is_active, last_seen_at, created_at
		FROM registered_sources
		WHERE node_id = $1 AND is_active
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("find sources: %w", err)
	}
	defer rows.Close()

	var out []*models.RegisteredSource
	for rows.Next() {
		var src models.RegisteredSource
		var lastSeen sql.NullTime
		if err := rows.Scan(&src.ID, &src.NodeID, &src.APIKeyHash, &src.OwnerIdentity, &src.IsActive, &lastSeen, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if lastSeen.Valid {
			src.LastSeenAt = &lastSeen.Time
		}
		out = append(out, &src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// TouchLastSeen updates the source's last-seen marker.
func (s *PostgresStore) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE registered_sources SET last_seen_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
