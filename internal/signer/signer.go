// Package signer implements the keyed signature primitive over canonical
// payload bytes. One signer and many local verifiers share the key out of
// band, so a MAC is used rather than an asymmetric scheme.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KeySize is the required key length in bytes (256-bit).
const KeySize = 32

// Signer signs and verifies canonical payload bytes with HMAC-SHA256.
// Signatures are lowercase hex, 256-bit.
type Signer struct {
	key []byte
}

// New constructs a Signer from a 32-byte key.
func New(key []byte) (*Signer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("signer: key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Signer{key: k}, nil
}

// Sign returns the hex-encoded HMAC-SHA256 of canonical.
func (s *Signer) Sign(canonical []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature over canonical. Failures of
// any kind (wrong length, bad hex, mismatch) are reported as false, never as
// an error, to keep the verification hot path branch-free of error handling.
func (s *Signer) Verify(canonical []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonical)
	return hmac.Equal(mac.Sum(nil), want)
}
