package syncqueue

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresDocumentSource reads current documents from the documents table.
type PostgresDocumentSource struct {
	db *sql.DB
}

// NewPostgresDocumentSource constructs a document source for backfill scans.
func NewPostgresDocumentSource(db *sql.DB) *PostgresDocumentSource {
	return &PostgresDocumentSource{db: db}
}

// ListCurrent returns non-deleted documents, optionally filtered by domain
// and bounded by limit (0 means unbounded).
func (s *PostgresDocumentSource) ListCurrent(ctx context.Context, domain string, limit int) ([]*Document, error) {
	query := `
		SELECT domain, canonical_path, event_id, content, updated_at
		FROM documents
		WHERE NOT deleted AND ($1 = '' OR domain = $1)
		ORDER BY updated_at
	`
	args := []any{domain}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var doc Document
		var content []byte
		if err := rows.Scan(&doc.Domain, &doc.CanonicalPath, &doc.EventID, &content, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Content = content
		out = append(out, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
