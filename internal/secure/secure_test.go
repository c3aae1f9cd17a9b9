package secure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	a, err := Token(16)
	require.NoError(t, err)
	b, err := Token(16)
	require.NoError(t, err)
	assert.Len(t, a, 22)
	assert.NotEqual(t, a, b)
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("master")
	require.NoError(t, err)

	sealed, err := c.Encrypt("tenant-a", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	plain, err := c.Decrypt("tenant-a", sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	again, err := c.Encrypt("tenant-a", "hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")
}

func TestCipherIsolatesTenants(t *testing.T) {
	c, err := NewCipher("master")
	require.NoError(t, err)

	sealed, err := c.Encrypt("tenant-a", "secret")
	require.NoError(t, err)

	_, err = c.Decrypt("tenant-b", sealed)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = c.Decrypt("tenant-a", "!!not-base64!!")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = c.Decrypt("tenant-a", "AAAA")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewCipherRequiresSecret(t *testing.T) {
	_, err := NewCipher("")
	assert.Error(t, err)
}

func TestFileAuthSecret(t *testing.T) {
	c, err := NewCipher("master")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	secret, err := c.FileAuthSecret("tenant-a", "a:b.png", now)
	require.NoError(t, err)

	claims, err := c.OpenFileAuthSecret("tenant-a", secret)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", claims.TenantID)
	assert.Equal(t, "a:b.png", claims.FileID)
	assert.True(t, now.Equal(claims.IssuedAt))

	other, err := c.FileAuthSecret("tenant-a", "a:b.png", now)
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}
