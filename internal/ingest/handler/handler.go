package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"syncmesh/internal/ingest/service"
)

// Header names of the ingest authentication material.
const (
	HeaderNodeID    = "X-Source-Node-Id"
	HeaderAPIKey    = "X-Api-Key"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderSignature = "X-Signature"
)

// maxBodyBytes bounds a forward request body.
const maxBodyBytes = 1 << 20

// Handler is the thin HTTP layer over the ingest gateway. It extracts
// headers and the raw body, delegates to the service, and maps statuses onto
// the protocol's response codes.
type Handler struct {
	gateway *service.Gateway
	logger  *slog.Logger
}

// New creates an ingest Handler.
func New(gateway *service.Gateway, logger *slog.Logger) *Handler {
	return &Handler{gateway: gateway, logger: logger}
}

// Register registers the ingest routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/events/forward", h.handleForward)
}

func (h *Handler) handleForward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The signature covers the bytes exactly as they arrived, so the body is
	// read raw before any parsing.
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}
	if len(rawBody) > maxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "body too large"})
		return
	}

	hdr := service.Headers{
		NodeID:    r.Header.Get(HeaderNodeID),
		APIKey:    r.Header.Get(HeaderAPIKey),
		Timestamp: r.Header.Get(HeaderTimestamp),
		Nonce:     r.Header.Get(HeaderNonce),
		Signature: r.Header.Get(HeaderSignature),
	}

	result, err := h.gateway.Forward(ctx, hdr, clientOrigin(r), rawBody)
	if err != nil {
		h.logger.ErrorContext(ctx, "ingest failed", "node_id", hdr.NodeID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	switch result.Status {
	case service.StatusAccepted:
		writeJSON(w, http.StatusOK, map[string]any{
			"received":  true,
			"eventId":   result.EventID.String(),
			"dedupeKey": result.DedupeKey,
		})
	case service.StatusDeduplicated:
		writeJSON(w, http.StatusOK, map[string]any{
			"received":  true,
			"duplicate": true,
			"dedupeKey": result.DedupeKey,
		})
	case service.StatusReplay:
		writeJSON(w, http.StatusConflict, map[string]any{"duplicate": true})
	case service.StatusBadRequest:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": result.Reason})
	case service.StatusUnauthorized:
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": result.Reason})
	case service.StatusRateLimited:
		retryAfter := time.Duration(result.RetryAfterMs) * time.Millisecond
		seconds := int((retryAfter + time.Second - 1) / time.Second) // ceil, never 0
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":        result.Reason,
			"retryAfterMs": result.RetryAfterMs,
		})
	case service.StatusDisabled:
		writeJSON(w, http.StatusForbidden, map[string]any{"error": result.Reason})
	default:
		h.logger.ErrorContext(ctx, "unknown gateway status", "status", result.Status)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

// clientOrigin returns the first forwarded-for entry when present, otherwise
// the direct peer address. Part of the rate-limit key.
func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
