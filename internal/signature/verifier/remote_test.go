package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"syncmesh/pkg/platform/sentinel"
)

func TestHTTPCoVerifierRoundTrip(t *testing.T) {
	var got CoVerifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"alg":"ES256K","address":"0xabc","payloadHash":"aa11","signature":"sig"}`))
	}))
	defer srv.Close()

	cv := NewHTTPCoVerifier(srv.URL, "mainnet", time.Second)
	resp, err := cv.CoVerify(context.Background(), CoVerifyRequest{
		KeyRef:         "key-1",
		Address:        "0xabc",
		Payload:        `{"a":1}`,
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	require.Equal(t, "ES256K", resp.Alg)
	require.Equal(t, "aa11", resp.PayloadHash)

	// The configured chain fills in when the request left it empty.
	require.Equal(t, "mainnet", got.Chain)
	require.Equal(t, "key-1", got.KeyRef)
	require.Equal(t, "idem-1", got.IdempotencyKey)
}

func TestHTTPCoVerifierExplicitChainWins(t *testing.T) {
	var got CoVerifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cv := NewHTTPCoVerifier(srv.URL, "mainnet", time.Second)
	_, err := cv.CoVerify(context.Background(), CoVerifyRequest{Chain: "testnet"})
	require.NoError(t, err)
	require.Equal(t, "testnet", got.Chain)
}

func TestHTTPCoVerifierServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cv := NewHTTPCoVerifier(srv.URL, "mainnet", time.Second)
	_, err := cv.CoVerify(context.Background(), CoVerifyRequest{})
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestHTTPCoVerifierRejectionIsNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	cv := NewHTTPCoVerifier(srv.URL, "mainnet", time.Second)
	_, err := cv.CoVerify(context.Background(), CoVerifyRequest{})
	require.Error(t, err)
	require.NotErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestHTTPCoVerifierUnreachableIsUnavailable(t *testing.T) {
	cv := NewHTTPCoVerifier("http://127.0.0.1:1", "mainnet", 200*time.Millisecond)
	_, err := cv.CoVerify(context.Background(), CoVerifyRequest{})
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
}
