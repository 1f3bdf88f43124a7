package crypt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c, err := New("s3cret")
	require.NoError(t, err)

	sealed, err := c.Encrypt("ya29.token")
	require.NoError(t, err)
	require.True(t, IsEncrypted(sealed))
	require.NotContains(t, sealed, "ya29")

	again, err := c.Encrypt("ya29.token")
	require.NoError(t, err)
	require.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, "ya29.token", plain)
}

func TestEmptyStaysEmpty(t *testing.T) {
	c, err := New("s3cret")
	require.NoError(t, err)

	sealed, err := c.Encrypt("")
	require.NoError(t, err)
	require.Empty(t, sealed)

	plain, err := c.Decrypt("")
	require.NoError(t, err)
	require.Empty(t, plain)
}

func TestDecryptFailures(t *testing.T) {
	c, err := New("s3cret")
	require.NoError(t, err)
	other, err := New("other")
	require.NoError(t, err)

	sealed, err := c.Encrypt("token")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt("plain-token")
	require.ErrorIs(t, err, ErrPlaintext)

	_, err = c.Decrypt(prefix + "!!!")
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt(prefix + strings.Repeat("A", 8))
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, ErrNoKey)
}
