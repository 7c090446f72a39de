package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckAdminSecret(t *testing.T) {
	g, err := NewAdminGate("admin123", "key", time.Hour)
	require.NoError(t, err)
	require.True(t, g.CheckAdminSecret("admin123"))
	require.False(t, g.CheckAdminSecret("admin1234"))
	require.False(t, g.CheckAdminSecret(""))
}

func TestNewAdminGateRequiresSecret(t *testing.T) {
	_, err := NewAdminGate("  ", "key", time.Hour)
	require.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	g, err := NewAdminGate("admin123", "key", time.Hour)
	require.NoError(t, err)

	token, exp, err := g.IssueToken("session-1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	id, err := g.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "session-1", id)
}

func TestTokenRejectedWithOtherKey(t *testing.T) {
	a, err := NewAdminGate("admin123", "key-a", time.Hour)
	require.NoError(t, err)
	b, err := NewAdminGate("admin123", "key-b", time.Hour)
	require.NoError(t, err)

	token, _, err := a.IssueToken("session-1")
	require.NoError(t, err)
	_, err = b.VerifyToken(token)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestExpiredTokenRejected(t *testing.T) {
	g, err := NewAdminGate("admin123", "key", time.Minute)
	require.NoError(t, err)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return issued }
	token, _, err := g.IssueToken("session-1")
	require.NoError(t, err)

	g.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = g.VerifyToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRandomKeyWhenUnset(t *testing.T) {
	a, err := NewAdminGate("admin123", "", time.Hour)
	require.NoError(t, err)
	b, err := NewAdminGate("admin123", "", time.Hour)
	require.NoError(t, err)
	token, _, err := a.IssueToken("s")
	require.NoError(t, err)
	_, err = b.VerifyToken(token)
	require.Error(t, err)
}
