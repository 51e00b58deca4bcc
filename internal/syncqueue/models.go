package syncqueue

import (
	"encoding/json"
	"time"
)

// ItemStatus tracks a propagation task through its lifecycle. Failed
// attempts return the task to pending; nothing is dropped without explicit
// operator intervention.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusSucceeded ItemStatus = "succeeded"
	StatusSkipped   ItemStatus = "skipped"
)

// Item is one pending propagation task. Keyed by (Domain, CanonicalPath):
// re-enqueueing the same logical document replaces the content snapshot
// (last write wins) rather than queueing a second task.
type Item struct {
	EventID       string
	Operation     string
	Domain        string
	CanonicalPath string
	Content       json.RawMessage
	Status        ItemStatus
	Attempts      int
	UpdatedAt     time.Time
}

// Document is a current, non-deleted document in durable storage, the unit
// the backfill scan enumerates. Content holds the document's signed write
// envelope, so a drain can re-verify it against the signer registry.
type Document struct {
	Domain        string
	CanonicalPath string
	EventID       string
	Content       json.RawMessage
	UpdatedAt     time.Time
}

// DrainReport counts per-item outcomes of one drain call.
type DrainReport struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// BackfillReport aggregates a backfill run.
type BackfillReport struct {
	Queued int `json:"queued"`
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}
