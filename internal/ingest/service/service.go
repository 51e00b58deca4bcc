package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"syncmesh/internal/crypto/secretbox"
	"syncmesh/internal/ingest/freshness"
	"syncmesh/internal/ingest/metrics"
	"syncmesh/internal/ingest/models"
	"syncmesh/internal/ingest/store/event"
	"syncmesh/internal/ingest/store/nonce"
	"syncmesh/internal/ingest/store/source"
	"syncmesh/internal/ratelimit"
	"syncmesh/internal/signature/canonical"
	"syncmesh/pkg/platform/sentinel"
)

// Status classifies the outcome of a forward request. The handler maps each
// status to its HTTP response; duplicates are idempotent outcomes, not
// failures.
type Status string

const (
	StatusAccepted     Status = "accepted"
	StatusDeduplicated Status = "deduplicated" // dedupe-key collision, soft success
	StatusReplay       Status = "replay"       // nonce already seen
	StatusBadRequest   Status = "bad_request"
	StatusUnauthorized Status = "unauthorized"
	StatusRateLimited  Status = "rate_limited"
	StatusDisabled     Status = "disabled"
)

// Headers carries the authentication material extracted from the request.
type Headers struct {
	NodeID    string
	APIKey    string
	Timestamp string // epoch ms as string
	Nonce     string
	Signature string // hex HMAC
}

// Result is the gateway's answer for one forward request.
type Result struct {
	Status       Status
	EventID      uuid.UUID
	DedupeKey    string
	Reason       string
	RetryAfterMs int64
}

// Notification describes a newly accepted event for downstream subscribers.
type Notification struct {
	EventID   uuid.UUID `json:"eventId"`
	NodeID    string    `json:"nodeId"`
	EventType string    `json:"eventType"`
	DedupeKey string    `json:"dedupeKey"`
}

// Notifier publishes notifications. Implementations must do their own error
// handling; the gateway never blocks or fails a response on notification
// trouble.
type Notifier interface {
	EventReceived(ctx context.Context, n Notification)
}

// Gateway is the ingest protocol state machine. Checks run in strict order,
// cheapest first: the rate limiter fires before any store lookup or HMAC
// work so exhausted callers cannot buy signature verification for free.
type Gateway struct {
	enabled  bool
	limiter  *ratelimit.Limiter
	guard    *freshness.Guard
	sources  source.Store
	nonces   nonce.Store
	events   event.Store
	notifier Notifier
	secrets  *secretbox.Box
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	// sideEffectTimeout bounds the fire-and-forget store/notify work that
	// runs after the response is decided.
	sideEffectTimeout time.Duration
}

// Config wires the gateway's collaborators.
type Config struct {
	Enabled  bool
	Limiter  *ratelimit.Limiter
	Guard    *freshness.Guard
	Sources  source.Store
	Nonces   nonce.Store
	Events   event.Store
	Notifier Notifier

	// Secrets, when non-nil, seals event metadata at rest under a
	// per-source derivation context. Nil stores metadata in the clear.
	Secrets *secretbox.Box

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New builds a Gateway.
func New(cfg Config) *Gateway {
	return &Gateway{
		enabled:           cfg.Enabled,
		limiter:           cfg.Limiter,
		guard:             cfg.Guard,
		sources:           cfg.Sources,
		nonces:            cfg.Nonces,
		events:            cfg.Events,
		notifier:          cfg.Notifier,
		secrets:           cfg.Secrets,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		now:               time.Now,
		sideEffectTimeout: 10 * time.Second,
	}
}

// Forward runs the full ingest protocol over one request. rawBody must be
// the bytes exactly as they arrived on the wire: the HMAC covers them, not a
// re-serialized structure, so canonicalization tricks cannot bypass the
// signature.
func (g *Gateway) Forward(ctx context.Context, hdr Headers, origin string, rawBody []byte) (*Result, error) {
	// 1. Feature gate.
	if !g.enabled {
		g.metrics.IncRejected("disabled")
		return &Result{Status: StatusDisabled, Reason: "event ingestion is disabled"}, nil
	}

	// 2. Header extraction.
	if missing := missingHeaders(hdr); len(missing) > 0 {
		g.metrics.IncRejected("missing_headers")
		return &Result{
			Status: StatusBadRequest,
			Reason: "missing required headers: " + strings.Join(missing, ", "),
		}, nil
	}

	// 3. Rate limit, before any lookup or verification work.
	limit, err := g.limiter.Allow(ctx, hdr.NodeID, origin)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	if !limit.Allowed {
		g.metrics.IncRejected("rate_limited")
		return &Result{
			Status:       StatusRateLimited,
			Reason:       "rate limit exceeded",
			RetryAfterMs: limit.RetryAfter(g.now()).Milliseconds(),
		}, nil
	}

	// 4. Freshness.
	if !g.guard.Fresh(hdr.Timestamp) {
		g.metrics.IncRejected("stale_timestamp")
		return &Result{Status: StatusUnauthorized, Reason: "timestamp outside freshness window"}, nil
	}

	// 5. Source lookup. Several active rows per node id are expected while
	// an API key rotates.
	candidates, err := g.sources.FindActiveByNodeID(ctx, hdr.NodeID)
	if err != nil {
		return nil, fmt.Errorf("source lookup: %w", err)
	}
	if len(candidates) == 0 {
		g.metrics.IncRejected("unknown_source")
		// Same generic reason as a bad key so callers cannot learn which
		// node ids are registered.
		return &Result{Status: StatusUnauthorized, Reason: "authentication failed"}, nil
	}

	// 6. API key verification, constant time per candidate.
	src := matchAPIKey(candidates, hdr.APIKey)
	if src == nil {
		g.metrics.IncRejected("bad_api_key")
		return &Result{Status: StatusUnauthorized, Reason: "authentication failed"}, nil
	}

	// 7. Request signature over bytes-on-the-wire.
	if !verifyRequestHMAC(hdr.APIKey, hdr.Timestamp, hdr.Nonce, rawBody, hdr.Signature) {
		g.metrics.IncRejected("bad_signature")
		return &Result{Status: StatusUnauthorized, Reason: "authentication failed"}, nil
	}

	// 8. Nonce persistence. A conflict is the replay signal, short-circuited
	// as an idempotent outcome distinct from a hard error.
	if err := g.nonces.Insert(ctx, src.ID, hdr.Nonce, g.now()); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			g.metrics.IncDuplicate("nonce_replay")
			return &Result{Status: StatusReplay, Reason: "nonce already used"}, nil
		}
		return nil, fmt.Errorf("persist nonce: %w", err)
	}

	// 9. Payload parsing and validation.
	var body models.EventBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		g.metrics.IncRejected("malformed_body")
		return &Result{Status: StatusBadRequest, Reason: "body is not valid JSON"}, nil
	}
	if missing := body.Validate(); len(missing) > 0 {
		g.metrics.IncRejected("invalid_body")
		return &Result{
			Status: StatusBadRequest,
			Reason: "missing required fields: " + strings.Join(missing, ", "),
		}, nil
	}

	// 10. Dedupe + persist.
	occurredAt := g.now()
	if body.OccurredAt != nil {
		occurredAt = time.UnixMilli(*body.OccurredAt)
	}
	dedupeKey := DedupeKey(hdr.NodeID, &body, occurredAt)

	metadata, err := g.sealMetadata(hdr.NodeID, body.Metadata)
	if err != nil {
		return nil, fmt.Errorf("seal metadata: %w", err)
	}

	ev := &models.ForwardedEvent{
		ID:         uuid.New(),
		SourceID:   src.ID,
		DedupeKey:  dedupeKey,
		EventType:  body.EventType,
		Payload:    body.Payload,
		Metadata:   metadata,
		OccurredAt: occurredAt,
		CreatedAt:  g.now(),
	}
	if err := g.events.Insert(ctx, ev); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			g.metrics.IncDuplicate("dedupe_key")
			return &Result{Status: StatusDeduplicated, DedupeKey: dedupeKey}, nil
		}
		return nil, fmt.Errorf("persist event: %w", err)
	}

	// 11. Side effects: never block or fail the response.
	g.fireSideEffects(src.ID, Notification{
		EventID:   ev.ID,
		NodeID:    hdr.NodeID,
		EventType: ev.EventType,
		DedupeKey: dedupeKey,
	})

	g.metrics.IncAccepted()
	return &Result{Status: StatusAccepted, EventID: ev.ID, DedupeKey: dedupeKey}, nil
}

// fireSideEffects updates the source's last-seen marker and emits the
// downstream notification on a detached context with its own error boundary.
func (g *Gateway) fireSideEffects(sourceID uuid.UUID, n Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.sideEffectTimeout)
		defer cancel()

		if err := g.sources.TouchLastSeen(ctx, sourceID, g.now()); err != nil {
			g.logger.Warn("failed to update source last-seen",
				"source_id", sourceID, "error", err)
		}
		if g.notifier != nil {
			g.notifier.EventReceived(ctx, n)
		}
	}()
}

// MetadataContext is the key-derivation context for a source's sealed event
// metadata. Decrypting requires the same node id; there is no escrow.
func MetadataContext(nodeID string) string {
	return "ingest:metadata:" + nodeID
}

// sealMetadata encrypts event metadata under the source's derivation context
// when a secret box is configured. The sealed form is the box's envelope,
// stored as JSON in the metadata column.
func (g *Gateway) sealMetadata(nodeID string, metadata json.RawMessage) (json.RawMessage, error) {
	if g.secrets == nil || len(metadata) == 0 {
		return metadata, nil
	}
	sealed, err := g.secrets.Encrypt(MetadataContext(nodeID), metadata)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(sealed)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DedupeKey derives the deterministic identity of a logical event. With an
// idempotency key, retries collide exactly. Without one, identity falls back
// to the canonical payload hash within a five-minute bucket, so the same
// payload resubmitted through a different transport path, or with its JSON
// keys reordered, still collapses.
func DedupeKey(nodeID string, body *models.EventBody, occurredAt time.Time) string {
	var material string
	if body.IdempotencyKey != "" {
		material = nodeID + ":" + body.EventType + ":" + body.IdempotencyKey
	} else {
		payloadHash, err := canonical.Hash(body.Payload)
		if err != nil {
			// Non-JSON payloads never reach here from the gateway; hash
			// the raw bytes so the key stays deterministic regardless.
			payloadHash = canonical.HashBytes(body.Payload)
		}
		bucket := occurredAt.Truncate(5 * time.Minute).Unix()
		material = nodeID + ":" + body.EventType + ":" +
			payloadHash + ":" + strconv.FormatInt(bucket, 10)
	}
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// HashAPIKey is the one-way hash stored for registered sources. Plaintext
// keys never hit the database.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// matchAPIKey finds the candidate whose stored hash matches the provided
// key. hmac.Equal over fixed-length digests keeps each comparison constant
// time; every candidate is tried even after a match is found.
func matchAPIKey(candidates []*models.RegisteredSource, apiKey string) *models.RegisteredSource {
	provided := sha256.Sum256([]byte(apiKey))

	var matched *models.RegisteredSource
	for _, c := range candidates {
		stored, err := hex.DecodeString(c.APIKeyHash)
		if err != nil || len(stored) != sha256.Size {
			continue
		}
		if hmac.Equal(provided[:], stored) && matched == nil {
			matched = c
		}
	}
	return matched
}

// RequestHMAC computes the wire signature: HMAC-SHA256 over
// "timestamp.nonce.rawBody" keyed by the API key, hex encoded.
func RequestHMAC(apiKey, timestamp, nonce string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyRequestHMAC(apiKey, timestamp, nonce string, rawBody []byte, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return hmac.Equal(provided, mac.Sum(nil))
}

func missingHeaders(hdr Headers) []string {
	var missing []string
	if hdr.NodeID == "" {
		missing = append(missing, "X-Source-Node-Id")
	}
	if hdr.APIKey == "" {
		missing = append(missing, "X-Api-Key")
	}
	if hdr.Timestamp == "" {
		missing = append(missing, "X-Timestamp")
	}
	if hdr.Nonce == "" {
		missing = append(missing, "X-Nonce")
	}
	if hdr.Signature == "" {
		missing = append(missing, "X-Signature")
	}
	return missing
}

