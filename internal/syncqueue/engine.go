package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"syncmesh/internal/signature/verifier"
)

// DefaultDrainLimit bounds one drain batch when the caller does not choose.
const DefaultDrainLimit = 50

// EnvelopeVerifier checks that a stored write envelope carries a valid
// signature from a registered signer before it leaves for the sync target.
type EnvelopeVerifier interface {
	VerifyWriteSignature(ctx context.Context, env *verifier.Envelope) (verifier.Result, error)
}

// Engine is the write-sync queue: it records pending propagation tasks and
// drains them to the external target in bounded batches. Safe to re-run; a
// drain of an already-synced document reports skipped, not a duplicate
// downstream write.
type Engine struct {
	store  Store
	target Target
	verify EnvelopeVerifier
	logger *slog.Logger
}

// NewEngine builds an Engine. verify may be nil to propagate content
// without signature checks.
func NewEngine(store Store, target Target, verify EnvelopeVerifier, logger *slog.Logger) *Engine {
	return &Engine{store: store, target: target, verify: verify, logger: logger}
}

// Enqueue records a pending propagation task for a document. Calling it
// again for the same (domain, canonicalPath) replaces the content snapshot.
func (e *Engine) Enqueue(ctx context.Context, eventID, operation, domain, canonicalPath string, content json.RawMessage) error {
	if err := e.store.Enqueue(ctx, &Item{
		EventID:       eventID,
		Operation:     operation,
		Domain:        domain,
		CanonicalPath: canonicalPath,
		Content:       content,
	}); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", domain, canonicalPath, err)
	}
	return nil
}

// Drain claims up to limit pending tasks and propagates each sequentially.
// Failed tasks go back to pending; they are never dropped after a failed
// attempt without explicit operator intervention.
func (e *Engine) Drain(ctx context.Context, limit int) (*DrainReport, error) {
	if limit <= 0 {
		limit = DefaultDrainLimit
	}

	items, err := e.store.Claim(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	// Bookkeeping survives cancellation of the drain context: a claimed
	// task must always end up finished or back in pending, even when the
	// caller is shutting down mid-batch.
	finishCtx := context.WithoutCancel(ctx)

	report := &DrainReport{}
	for _, item := range items {
		if e.verify != nil {
			if err := e.checkSignature(ctx, item); err != nil {
				report.Failed++
				e.logger.Warn("sync item rejected",
					"domain", item.Domain,
					"path", item.CanonicalPath,
					"error", err,
				)
				e.release(finishCtx, item)
				continue
			}
		}

		outcome, err := e.target.Propagate(ctx, item)
		if err != nil {
			report.Failed++
			e.logger.Warn("sync propagation failed",
				"domain", item.Domain,
				"path", item.CanonicalPath,
				"attempts", item.Attempts+1,
				"error", err,
			)
			e.release(finishCtx, item)
			continue
		}

		switch outcome {
		case OutcomeSkipped:
			report.Skipped++
			err = e.store.MarkSkipped(finishCtx, item.Domain, item.CanonicalPath)
		default:
			report.Succeeded++
			err = e.store.MarkSucceeded(finishCtx, item.Domain, item.CanonicalPath)
		}
		if err != nil {
			e.logger.Error("failed to finish sync item",
				"domain", item.Domain, "path", item.CanonicalPath, "error", err)
		}
	}
	return report, nil
}

// checkSignature parses the item's content as a write envelope and runs
// signature verification. Any failure rejects the item; a rejected write is
// never partially applied downstream.
func (e *Engine) checkSignature(ctx context.Context, item *Item) error {
	var env verifier.Envelope
	if err := json.Unmarshal(item.Content, &env); err != nil {
		return fmt.Errorf("content is not a write envelope: %w", err)
	}
	result, err := e.verify.VerifyWriteSignature(ctx, &env)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("signature rejected: %s", result.Reason)
	}
	return nil
}

func (e *Engine) release(ctx context.Context, item *Item) {
	if err := e.store.Release(ctx, item.Domain, item.CanonicalPath); err != nil {
		e.logger.Error("failed to release sync item",
			"domain", item.Domain, "path", item.CanonicalPath, "error", err)
	}
}

// BackfillOptions filter a backfill scan.
type BackfillOptions struct {
	Domain string // empty means all domains
	Limit  int    // 0 means no bound
	DryRun bool   // count candidates without enqueueing or draining
}

// DocumentSource enumerates current, non-deleted documents for backfill.
type DocumentSource interface {
	ListCurrent(ctx context.Context, domain string, limit int) ([]*Document, error)
}

// Backfill scans durable storage and pushes every current document through
// the queue: enqueue, then an immediate drain. It exists to recover from a
// period where the sync target was offline or newly introduced. Partial
// failures are reported in the counts, not as an error.
func (e *Engine) Backfill(ctx context.Context, docs DocumentSource, opts BackfillOptions) (*BackfillReport, error) {
	candidates, err := docs.ListCurrent(ctx, opts.Domain, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	report := &BackfillReport{}
	if opts.DryRun {
		report.Queued = len(candidates)
		return report, nil
	}

	for _, doc := range candidates {
		if err := e.Enqueue(ctx, doc.EventID, "upsert", doc.Domain, doc.CanonicalPath, doc.Content); err != nil {
			report.Failed++
			e.logger.Warn("backfill enqueue failed",
				"domain", doc.Domain, "path", doc.CanonicalPath, "error", err)
			continue
		}
		report.Queued++

		drained, err := e.Drain(ctx, 1)
		if err != nil {
			report.Failed++
			e.logger.Warn("backfill drain failed",
				"domain", doc.Domain, "path", doc.CanonicalPath, "error", err)
			continue
		}
		report.Synced += drained.Succeeded + drained.Skipped
		report.Failed += drained.Failed
	}
	return report, nil
}
