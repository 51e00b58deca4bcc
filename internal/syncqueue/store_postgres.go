package syncqueue

import (
	"context"
	"database/sql"
	"fmt"

	"syncmesh/pkg/platform/sentinel"
)

// PostgresStore persists the queue in PostgreSQL. Claim uses
// FOR UPDATE SKIP LOCKED inside a single UPDATE so concurrent drain callers
// never double-process a task.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed queue store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Enqueue records or replaces the pending task for a logical document.
func (s *PostgresStore) Enqueue(ctx context.Context, item *Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (canonical_path, domain, event_id, operation, content, status, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, now())
		ON CONFLICT (domain, canonical_path) DO UPDATE SET
			event_id = EXCLUDED.event_id,
			operation = EXCLUDED.operation,
			content = EXCLUDED.content,
			status = 'pending',
			updated_at = now()
	`, item.CanonicalPath, item.Domain, item.EventID, item.Operation, []byte(item.Content))
	if err != nil {
		return fmt.Errorf("enqueue sync item: %w", err)
	}
	return nil
}

// Claim atomically takes up to limit pending tasks. Claimed rows whose
// holder never finished are reclaimed once their claim goes stale.
func (s *PostgresStore) Claim(ctx context.Context, limit int) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE sync_queue SET status = 'claimed', updated_at = now()
		WHERE (domain, canonical_path) IN (
			SELECT domain, canonical_path FROM sync_queue
			WHERE status = 'pending'
			   OR (status = 'claimed' AND updated_at < now() - $2 * interval '1 second')
			ORDER BY updated_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING event_id, operation, domain, canonical_path, content, attempts, updated_at
	`, limit, int(staleClaimAfter.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("claim sync items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		var item Item
		var content []byte
		if err := rows.Scan(&item.EventID, &item.Operation, &item.Domain, &item.CanonicalPath, &content, &item.Attempts, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sync item: %w", err)
		}
		item.Content = content
		item.Status = "claimed"
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync items: %w", err)
	}
	return out, nil
}

// MarkSucceeded finishes a claimed task.
func (s *PostgresStore) MarkSucceeded(ctx context.Context, domain, canonicalPath string) error {
	return s.setStatus(ctx, domain, canonicalPath, string(StatusSucceeded), false)
}

// MarkSkipped finishes a claimed task whose content the target already had.
func (s *PostgresStore) MarkSkipped(ctx context.Context, domain, canonicalPath string) error {
	return s.setStatus(ctx, domain, canonicalPath, string(StatusSkipped), false)
}

// Release returns a claimed task to pending after a failed attempt.
func (s *PostgresStore) Release(ctx context.Context, domain, canonicalPath string) error {
	return s.setStatus(ctx, domain, canonicalPath, string(StatusPending), true)
}

// PendingCount reports how many tasks await a drain.
func (s *PostgresStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) setStatus(ctx context.Context, domain, canonicalPath, status string, countAttempt bool) error {
	query := `UPDATE sync_queue SET status = $3, updated_at = now() WHERE domain = $1 AND canonical_path = $2`
	if countAttempt {
		query = `UPDATE sync_queue SET status = $3, attempts = attempts + 1, updated_at = now() WHERE domain = $1 AND canonical_path = $2`
	}
	result, err := s.db.ExecContext(ctx, query, domain, canonicalPath, status)
	if err != nil {
		return fmt.Errorf("update sync item: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
