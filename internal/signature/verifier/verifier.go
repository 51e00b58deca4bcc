package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"syncmesh/internal/signature/canonical"
	"syncmesh/internal/signature/registry"
	"syncmesh/pkg/platform/sentinel"
)

// Verifier checks that a write envelope was produced by a registered signer.
// Local registry trust handles the common case cheaply; the optional remote
// co-verifier is a second factor against compromise of the registry's static
// data.
type Verifier struct {
	registry registry.Store
	remote   CoVerifier
}

// CoVerifier re-verifies a signature against an external signing authority.
type CoVerifier interface {
	CoVerify(ctx context.Context, req CoVerifyRequest) (*CoVerifyResponse, error)
}

// New builds a Verifier. remote may be nil to disable co-verification.
func New(reg registry.Store, remote CoVerifier) *Verifier {
	return &Verifier{registry: reg, remote: remote}
}

// VerifyWriteSignature runs the full verification chain for an envelope.
// Expected failures (unregistered signer, mismatches) come back as a non-OK
// Result; an error return means infrastructure trouble (registry store or
// remote authority unreachable).
func (v *Verifier) VerifyWriteSignature(ctx context.Context, env *Envelope) (Result, error) {
	writerType, writerID := env.WriterType(), env.WriterID()
	if writerType == "" || writerID == "" {
		return fail("metadata.writerType and metadata.writerId are required"), nil
	}

	entry, err := v.registry.Lookup(ctx, writerType, writerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return fail("signer not registered"), nil
		}
		return Result{}, fmt.Errorf("registry lookup: %w", err)
	}

	if entry.KeyRef != env.Signature.KeyRef {
		return fail("keyRef does not match registry"), nil
	}
	if entry.Address != env.Signature.Address {
		return fail("address does not match registry"), nil
	}

	payloadHash, err := canonical.Hash(env.canonicalContent())
	if err != nil {
		return Result{}, fmt.Errorf("hash envelope: %w", err)
	}
	if payloadHash != env.Signature.PayloadHash {
		return fail("payload hash mismatch"), nil
	}

	if strings.TrimSpace(env.Signature.Signature) == "" {
		return fail("signature is empty"), nil
	}

	if v.remote != nil {
		return v.coVerify(ctx, env, payloadHash)
	}
	return ok(), nil
}

// coVerify calls the external signing authority and requires its answer to
// equal the envelope's declared signature block on every field.
func (v *Verifier) coVerify(ctx context.Context, env *Envelope, payloadHash string) (Result, error) {
	payload, err := canonical.Marshal(env.canonicalContent())
	if err != nil {
		return Result{}, fmt.Errorf("canonicalize envelope: %w", err)
	}

	resp, err := v.remote.CoVerify(ctx, CoVerifyRequest{
		KeyRef:         env.Signature.KeyRef,
		Address:        env.Signature.Address,
		Payload:        string(payload),
		IdempotencyKey: env.IdempotencyKey(),
	})
	if err != nil {
		// Unreachable authority is infrastructure trouble, distinct from an
		// actively rejecting one. Either way the write is rejected.
		if errors.Is(err, sentinel.ErrUnavailable) {
			return Result{}, fmt.Errorf("co-verification authority unreachable: %w", err)
		}
		return fail("remote co-verification rejected signature"), nil
	}

	switch {
	case resp.Alg != env.Signature.Alg:
		return fail("remote co-verification algorithm mismatch"), nil
	case resp.Address != env.Signature.Address:
		return fail("remote co-verification address mismatch"), nil
	case resp.PayloadHash != payloadHash:
		return fail("remote co-verification payload hash mismatch"), nil
	case resp.Signature != env.Signature.Signature:
		return fail("remote co-verification signature mismatch"), nil
	}
	return ok(), nil
}
