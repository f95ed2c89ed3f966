package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("test-secret-that-is-long-enough", 1*time.Hour)

	token, expiresAt, err := tm.GenerateSessionToken("session-1", "user-1", "teller@harborbank.example")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(1*time.Hour), expiresAt, 5*time.Second)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "session-1", claims.ID)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "session", claims.Type)
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	tm := NewTokenManager("test-secret-that-is-long-enough", 1*time.Hour)
	other := NewTokenManager("a-completely-different-secret!!", 1*time.Hour)

	token, _, err := tm.GenerateSessionToken("session-1", "user-1", "")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	tm := NewTokenManager("test-secret-that-is-long-enough", -1*time.Minute)

	token, _, err := tm.GenerateSessionToken("session-1", "user-1", "")
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}

func TestHashSessionID_Deterministic(t *testing.T) {
	h1 := HashSessionID("session-1")
	h2 := HashSessionID("session-1")
	h3 := HashSessionID("session-2")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
