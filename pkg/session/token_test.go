package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRefreshToken(t *testing.T) {
	token, hash, err := NewRefreshToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, RefreshTokenPrefix))
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashRefreshToken(token))

	token2, hash2, err := NewRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.NotEqual(t, hash, hash2)
}

func TestTokenSignerRoundTrip(t *testing.T) {
	signer := NewTokenSigner([]byte("test-secret"), "gatehouse", 15*time.Minute)

	token, expiresAt, err := signer.Sign("user-1", "org-1", "sess-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "org-1", claims.OrganizationID)
	assert.Equal(t, "sess-1", claims.SessionID)
}

func TestTokenSignerRejectsWrongSecret(t *testing.T) {
	signer := NewTokenSigner([]byte("secret-a"), "gatehouse", time.Minute)
	other := NewTokenSigner([]byte("secret-b"), "gatehouse", time.Minute)

	token, _, err := signer.Sign("user-1", "org-1", "sess-1")
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenSignerRejectsExpired(t *testing.T) {
	signer := NewTokenSigner([]byte("test-secret"), "gatehouse", time.Minute)

	token, _, err := signer.Sign("user-1", "org-1", "sess-1")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenSignerRejectsWrongIssuer(t *testing.T) {
	signer := NewTokenSigner([]byte("test-secret"), "somewhere-else", time.Minute)
	verifier := NewTokenSigner([]byte("test-secret"), "gatehouse", time.Minute)

	token, _, err := signer.Sign("user-1", "org-1", "sess-1")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenSignerRejectsGarbage(t *testing.T) {
	signer := NewTokenSigner([]byte("test-secret"), "gatehouse", time.Minute)
	_, err := signer.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
