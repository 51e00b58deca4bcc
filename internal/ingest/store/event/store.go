package event

import (
	"context"

	"syncmesh/internal/ingest/models"
)

// Store persists forwarded events. The dedupe-key uniqueness constraint is
// the second, transport-independent defense against duplicates: the nonce
// ledger catches wire replay, this catches logically-duplicate submissions
// arriving by different paths.
type Store interface {
	// Insert persists one event. Returns sentinel.ErrConflict when the
	// dedupe key already exists; the gateway reports that as a soft
	// "already received", not an error.
	Insert(ctx context.Context, ev *models.ForwardedEvent) error

	// FindByDedupeKey returns the event previously stored under a key, or
	// sentinel.ErrNotFound.
	FindByDedupeKey(ctx context.Context, dedupeKey string) (*models.ForwardedEvent, error)
}
