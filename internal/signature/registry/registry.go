package registry

import "context"

// Entry declares which cryptographic identity is authorized to sign writes
// attributed to a given writer. Populated by an external provisioning
// process; read-only from this core's perspective.
type Entry struct {
	WriterType string
	WriterID   string
	KeyRef     string
	Address    string
}

// Store is the read surface over the signer registry.
type Store interface {
	// Lookup returns the entry for (writerType, writerID), or
	// sentinel.ErrNotFound when the writer is not registered.
	Lookup(ctx context.Context, writerType, writerID string) (*Entry, error)
}
