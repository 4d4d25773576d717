package session

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestResolve_ValidToken(t *testing.T) {
	mock := clock.NewMock()
	resolver := NewJWTResolver(testSecret, mock)

	token, err := IssueToken(testSecret, "user-42", time.Hour, mock)
	require.NoError(t, err)

	userID, err := resolver.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestResolve_ExpiredToken(t *testing.T) {
	mock := clock.NewMock()
	resolver := NewJWTResolver(testSecret, mock)

	token, err := IssueToken(testSecret, "user-42", time.Minute, mock)
	require.NoError(t, err)

	mock.Add(2 * time.Minute)

	_, err = resolver.Resolve(token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestResolve_WrongSecret(t *testing.T) {
	mock := clock.NewMock()
	resolver := NewJWTResolver(testSecret, mock)

	token, err := IssueToken("another-secret", "user-42", time.Hour, mock)
	require.NoError(t, err)

	_, err = resolver.Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestResolve_Garbage(t *testing.T) {
	mock := clock.NewMock()
	resolver := NewJWTResolver(testSecret, mock)

	_, err := resolver.Resolve("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidSession)
}
