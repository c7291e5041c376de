package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) string {
	t.Helper()
	k, err := GenerateKey()
	require.NoError(t, err)
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(mustKey(t))
	require.NoError(t, err)

	ct, err := v.Encrypt("super-secret-api-key")
	require.NoError(t, err)
	assert.Contains(t, ct, "ENC[v1]:")

	pt, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", pt)
}

func TestDecryptInvalidFormatReturnsVaultError(t *testing.T) {
	v, err := New(mustKey(t))
	require.NoError(t, err)

	_, err = v.Decrypt("not-encrypted-data")
	require.Error(t, err)
	var verr *VaultError
	assert.ErrorAs(t, err, &verr)
}

func TestDecryptUnknownVersionFails(t *testing.T) {
	v, err := New(mustKey(t))
	require.NoError(t, err)

	_, err = v.Decrypt("ENC[v7]:AAAA")
	require.Error(t, err)
}

func TestNewWithoutKeyFails(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestRotatePreservesPlaintext(t *testing.T) {
	v, err := New(mustKey(t))
	require.NoError(t, err)

	ct, err := v.Encrypt("rotate-me")
	require.NoError(t, err)

	rotated, err := v.Rotate(ct)
	require.NoError(t, err)

	pt, err := v.Decrypt(rotated)
	require.NoError(t, err)
	assert.Equal(t, "rotate-me", pt)
}
