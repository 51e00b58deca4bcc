package source

import (
	"context"
	"time"

	"github.com/google/uuid"

	"syncmesh/internal/ingest/models"
)

// Store is the read/update surface over registered sources. Creation and
// deactivation belong to the onboarding flow, not this core.
type Store interface {
	// FindActiveByNodeID returns every active source row for a node id.
	// More than one row is expected during API-key rotation: the old key
	// stays active while the new one drains in, and the gateway tries each
	// candidate's hash. An empty slice means unknown or inactive source.
	FindActiveByNodeID(ctx context.Context, nodeID string) ([]*models.RegisteredSource, error)

	// TouchLastSeen updates the source's last-seen marker. Fire-and-forget
	// from the gateway's perspective.
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
}
