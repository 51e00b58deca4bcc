package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"syncmesh/internal/ingest/models"
	"syncmesh/internal/platform/postgres"
	"syncmesh/pkg/platform/sentinel"
)

// PostgresStore persists forwarded events in PostgreSQL. The unique index on
// dedupe_key resolves concurrent duplicate submissions deterministically.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed event store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert persists one event, enforcing dedupe-key uniqueness.
func (s *PostgresStore) Insert(ctx context.Context, ev *models.ForwardedEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forwarded_events (id, source_id, dedupe_key, event_type, payload, metadata, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		ev.ID,
		ev.SourceID,
		ev.DedupeKey,
		ev.EventType,
		[]byte(ev.Payload),
		nullableJSON(ev.Metadata),
		ev.OccurredAt,
		ev.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// FindByDedupeKey returns the event stored under a key.
func (s *PostgresStore) FindByDedupeKey(ctx context.Context, dedupeKey string) (*models.ForwardedEvent, error) {
	query := `
		SELECT id, source_id, dedupe_key, event_type, payload, COALESCE(metadata, 'null'::jsonb), occurred_at, created_at
		FROM forwarded_events
		WHERE dedupe_key = $1
	`
	var ev models.ForwardedEvent
	var payload, metadata []byte
	err := s.db.QueryRowContext(ctx, query, dedupeKey).Scan(
		&ev.ID, &ev.SourceID, &ev.DedupeKey, &ev.EventType, &payload, &metadata, &ev.OccurredAt, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	ev.Payload = payload
	if string(metadata) != "null" {
		ev.Metadata = metadata
	}
	return &ev, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
