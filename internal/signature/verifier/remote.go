package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"syncmesh/pkg/platform/sentinel"
)

// CoVerifyRequest is the body sent to the external signing authority.
type CoVerifyRequest struct {
	Chain          string `json:"chain"`
	KeyRef         string `json:"keyRef"`
	Address        string `json:"address"`
	Payload        string `json:"payload"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// CoVerifyResponse is the authority's answer, compared field-for-field
// against the envelope's declared signature block.
type CoVerifyResponse struct {
	Alg         string `json:"alg"`
	Address     string `json:"address"`
	PayloadHash string `json:"payloadHash"`
	Signature   string `json:"signature"`
}

// HTTPCoVerifier calls a remote signing authority over HTTP. Every call
// carries an explicit timeout; a timeout is a failure, never silent success.
type HTTPCoVerifier struct {
	url    string
	chain  string
	client *http.Client
}

// NewHTTPCoVerifier builds a co-verifier against the given /sign-data style
// endpoint.
func NewHTTPCoVerifier(url, chain string, timeout time.Duration) *HTTPCoVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCoVerifier{
		url:    url,
		chain:  chain,
		client: &http.Client{Timeout: timeout},
	}
}

// CoVerify posts the canonical payload to the authority. A transport-level
// failure wraps sentinel.ErrUnavailable so callers can distinguish an
// unreachable authority from an actively rejecting one.
func (c *HTTPCoVerifier) CoVerify(ctx context.Context, req CoVerifyRequest) (*CoVerifyResponse, error) {
	if req.Chain == "" {
		req.Chain = c.chain
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal co-verify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build co-verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call signing authority: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("signing authority returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
		}
		return nil, fmt.Errorf("signing authority rejected request: %d", resp.StatusCode)
	}

	var out CoVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode co-verify response: %w", err)
	}
	return &out, nil
}
