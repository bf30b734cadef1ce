package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/dreamforge/internal/models"
)

func TestAuthorizer(t *testing.T) {
	a := NewAuthorizer([]int64{1, 7})
	assert.True(t, a.IsAdmin(7))
	assert.False(t, a.IsAdmin(2))
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewSessionManager("0123456789abcdef", "dreamforge", time.Hour)
	token, err := s.Issue(models.User{ID: 42, Username: "alice"})
	require.NoError(t, err)

	id, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestSessionRejects(t *testing.T) {
	s := NewSessionManager("0123456789abcdef", "dreamforge", time.Hour)
	token, err := s.Issue(models.User{ID: 42})
	require.NoError(t, err)

	other := NewSessionManager("fedcba9876543210", "dreamforge", time.Hour)
	_, err = other.Parse(token)
	assert.True(t, errors.Is(err, ErrInvalidSession))

	wrongIssuer := NewSessionManager("0123456789abcdef", "someone-else", time.Hour)
	_, err = wrongIssuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	later := NewSessionManager("0123456789abcdef", "dreamforge", time.Hour)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = later.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = s.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))

	_, err = HashPassword("12345")
	assert.ErrorIs(t, err, ErrWeakPassword)
	_, err = HashPassword("      ")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = HashPassword(strings.Repeat("a", MaxPasswordBytes))
	assert.NoError(t, err)
	_, err = HashPassword(strings.Repeat("a", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	// 30 runes but 90 bytes
	_, err = HashPassword(strings.Repeat("密", 30))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
