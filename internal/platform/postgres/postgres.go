package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"syncmesh/pkg/platform/sentinel"
)

// Schema is the full DDL for the syncmesh tables. Applied by migrations in
// deployment and directly by integration tests against fresh containers.
//
//go:embed schema.sql
var Schema string

// Open connects to PostgreSQL and verifies the connection with a bounded
// ping. Returns nil, nil if the URL is empty (Postgres not configured;
// callers fall back to memory stores).
func Open(url string) (*sql.DB, error) {
	if url == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
// Stores use it to translate constraint conflicts into sentinel.ErrConflict,
// which is the gateway's replay/dedupe detection signal.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// MapUniqueViolation converts a unique violation into sentinel.ErrConflict
// and passes every other error through unchanged.
func MapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	return err
}
