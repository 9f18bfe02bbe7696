// Package crypto implements operator password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (server-side hashing).
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword generates a fresh salt and returns (hash, salt).
func HashPassword(password []byte) (hash, salt []byte, err error) {
	salt, err = RandBytes(saltLen)
	if err != nil {
		return nil, nil, err
	}
	return hashWithSalt(password, salt), salt, nil
}

// VerifyPassword verifies password against the stored Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := hashWithSalt(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

func hashWithSalt(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
