package vault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"memberpass/internal/errs"
)

func testKey(b byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestNew_KeyLength(t *testing.T) {
	_, err := New([]byte("short"))
	require.Error(t, err)

	v, err := New(testKey(1))
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, err := New(testKey(5))
	require.NoError(t, err)

	plain := []byte("ya29.access-token-material")
	blob, err := v.Encrypt(plain)
	require.NoError(t, err)
	require.NotEqual(t, plain, blob)

	got, err := v.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	v, err := New(testKey(5))
	require.NoError(t, err)

	a, err := v.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := v.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	require.False(t, bytes.Equal(a, b), "nonce must randomize ciphertext")
}

func TestDecrypt_Tampered(t *testing.T) {
	v, err := New(testKey(5))
	require.NoError(t, err)

	blob, err := v.Encrypt([]byte("refresh-token"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0x01

	_, err = v.Decrypt(blob)
	require.True(t, errors.Is(err, errs.ErrVaultDecrypt))
}

func TestDecrypt_WrongKey(t *testing.T) {
	a, err := New(testKey(1))
	require.NoError(t, err)
	b, err := New(testKey(2))
	require.NoError(t, err)

	blob, err := a.Encrypt([]byte("token"))
	require.NoError(t, err)

	_, err = b.Decrypt(blob)
	require.True(t, errors.Is(err, errs.ErrVaultDecrypt))
}

func TestDecrypt_TooShort(t *testing.T) {
	v, err := New(testKey(1))
	require.NoError(t, err)

	_, err = v.Decrypt([]byte{1, 2, 3})
	require.True(t, errors.Is(err, errs.ErrVaultDecrypt))
}
