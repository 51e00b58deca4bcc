package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RegisteredSource identifies a remote node allowed to forward events.
// Sources are deactivated, never hard-deleted, to preserve audit history.
type RegisteredSource struct {
	ID            uuid.UUID
	NodeID        string
	APIKeyHash    string // sha256 hex of the shared secret; plaintext is never stored
	OwnerIdentity string
	IsActive      bool
	LastSeenAt    *time.Time
	CreatedAt     time.Time
}

// ReplayNonce is one entry of the replay ledger. The (SourceID, Nonce)
// uniqueness constraint in the store is the sole replay-detection signal.
type ReplayNonce struct {
	SourceID uuid.UUID
	Nonce    string
	SeenAt   time.Time
}

// ForwardedEvent is the durable result of a successful ingest. Never mutated
// after insert.
type ForwardedEvent struct {
	ID         uuid.UUID
	SourceID   uuid.UUID
	DedupeKey  string
	EventType  string
	Payload    json.RawMessage
	Metadata   json.RawMessage
	OccurredAt time.Time
	CreatedAt  time.Time
}

// EventBody is the parsed JSON body of a forward request. Payload and
// Metadata stay opaque; only presence of required fields is validated at the
// boundary.
type EventBody struct {
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	OccurredAt     *int64          `json:"occurredAt,omitempty"` // epoch ms
}

// Validate checks required fields and reports what is missing.
func (b *EventBody) Validate() []string {
	var missing []string
	if b.EventType == "" {
		missing = append(missing, "eventType")
	}
	if len(b.Payload) == 0 || string(b.Payload) == "null" {
		missing = append(missing, "payload")
	}
	return missing
}
