// Package vault provides authenticated encryption for at-rest secrets
// (origin platform OAuth tokens).
package vault

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"memberpass/internal/errs"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// Vault seals and opens secret blobs with XChaCha20-Poly1305. The random
// nonce is prefixed to the ciphertext.
type Vault struct {
	key []byte
}

// New constructs a Vault from a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Vault{key: k}, nil
}

// Encrypt seals plaintext and returns nonce||ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt. Any failure surfaces as
// errs.ErrVaultDecrypt: a blob that does not authenticate means key rotation
// or corruption and must abort the calling operation.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: blob too short", errs.ErrVaultDecrypt)
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrVaultDecrypt, err)
	}
	return pt, nil
}
