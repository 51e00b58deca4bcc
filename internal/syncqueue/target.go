package syncqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"syncmesh/internal/signature/canonical"
)

// Outcome is the sync target's verdict for one propagated item.
type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeSkipped Outcome = "skipped" // target already reflects this content
)

// Target propagates one item to the external sync system. An error return
// means the attempt failed (unreachable or rejected) and the item must stay
// pending for retry.
type Target interface {
	Propagate(ctx context.Context, item *Item) (Outcome, error)
}

// HTTPTarget propagates items to an HTTP sync endpoint. The content hash
// travels with each item so the target can answer "skipped" without
// comparing full bodies.
type HTTPTarget struct {
	url    string
	client *http.Client
}

// NewHTTPTarget builds a target client with an explicit per-call timeout.
func NewHTTPTarget(url string, timeout time.Duration) *HTTPTarget {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTarget{url: url, client: &http.Client{Timeout: timeout}}
}

type propagateRequest struct {
	EventID       string          `json:"eventId"`
	Operation     string          `json:"operation"`
	Domain        string          `json:"domain"`
	CanonicalPath string          `json:"canonicalPath"`
	Content       json.RawMessage `json:"content"`
	ContentHash   string          `json:"contentHash"`
}

type propagateResponse struct {
	Status string `json:"status"`
}

// Propagate posts one item. A timeout counts as a failure, never as
// silent success.
func (t *HTTPTarget) Propagate(ctx context.Context, item *Item) (Outcome, error) {
	contentHash, err := canonical.Hash(item.Content)
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}

	body, err := json.Marshal(propagateRequest{
		EventID:       item.EventID,
		Operation:     item.Operation,
		Domain:        item.Domain,
		CanonicalPath: item.CanonicalPath,
		Content:       item.Content,
		ContentHash:   contentHash,
	})
	if err != nil {
		return "", fmt.Errorf("marshal propagate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build propagate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call sync target: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out propagateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode propagate response: %w", err)
		}
		if out.Status == string(OutcomeSkipped) {
			return OutcomeSkipped, nil
		}
		return OutcomeSynced, nil
	case resp.StatusCode == http.StatusConflict:
		// Target already has this exact content.
		return OutcomeSkipped, nil
	default:
		return "", fmt.Errorf("sync target returned %d", resp.StatusCode)
	}
}
