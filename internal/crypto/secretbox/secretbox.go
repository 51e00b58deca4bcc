package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// Algorithm identifies the cipher in stored envelopes.
	Algorithm = "aes-256-gcm"

	keyLen   = 32
	nonceLen = 12
)

// derivationSalt is a fixed application salt for HKDF. It is not secret; it
// domain-separates syncmesh keys from any other consumer of the same master
// secret.
var derivationSalt = []byte("syncmesh.secretbox.v1")

// Envelope is the stored form of an encrypted secret. Ciphertext carries the
// GCM authentication tag appended; both fields are base64.
type Envelope struct {
	Context    string `json:"context"`
	Alg        string `json:"alg"`
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// Box encrypts and decrypts payloads under keys derived from a process-wide
// master secret. No derived key is ever persisted: the same
// (masterSecret, context) pair always reproduces the same key, so losing the
// context string permanently loses access to data encrypted under it.
type Box struct {
	masterSecret []byte
}

// New builds a Box. The master secret must be non-empty; code paths that
// need encryption treat its absence as a hard startup failure.
func New(masterSecret string) (*Box, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is empty")
	}
	return &Box{masterSecret: []byte(masterSecret)}, nil
}

// DeriveKey produces the 256-bit key for a context via HKDF-SHA256.
// Context strings double as access scoping (e.g. "svc:user:provider:purpose").
func (b *Box) DeriveKey(context string) ([]byte, error) {
	r := hkdf.New(sha256.New, b.masterSecret, derivationSalt, []byte(context))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under the context-derived key with a fresh random
// nonce. Nonce reuse under the same key is a hard correctness violation, so
// the nonce is always drawn from crypto/rand, never deterministic.
func (b *Box) Encrypt(context string, plaintext []byte) (*Envelope, error) {
	key, err := b.DeriveKey(context)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return &Envelope{
		Context:    context,
		Alg:        Algorithm,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens an envelope. Authentication-tag verification fails loudly on
// any tampering or wrong context; there is no best-effort decrypt.
func (b *Box) Decrypt(context string, envelope *Envelope) ([]byte, error) {
	if envelope.Alg != Algorithm {
		return nil, fmt.Errorf("unsupported algorithm %q", envelope.Alg)
	}

	key, err := b.DeriveKey(context)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(envelope.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != nonceLen {
		return nil, fmt.Errorf("nonce is %d bytes, want %d", len(nonce), nonceLen)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}
