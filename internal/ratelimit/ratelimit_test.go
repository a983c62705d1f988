package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/storage/memory"
)

func TestWindowLimit(t *testing.T) {
	var ts int64 = 1_700_000_000_000
	l := New(memory.New(), func() int64 { return ts }, zerolog.Nop())
	p := Policy{Scope: ScopeIP, Name: "waitlist", Limit: 5, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, p, "1.2.3.4"))
	}

	err := l.Allow(ctx, p, "1.2.3.4")
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindTooManyRequests, ae.Kind)
	assert.Greater(t, ae.RetryAfter, time.Duration(0))

	// Another key shares nothing with the exhausted one.
	assert.NoError(t, l.Allow(ctx, p, "5.6.7.8"))

	// A fresh window resets the count.
	ts += time.Minute.Milliseconds()
	assert.NoError(t, l.Allow(ctx, p, "1.2.3.4"))
}

func TestPoliciesAreIndependent(t *testing.T) {
	var ts int64 = 1_700_000_000_000
	l := New(memory.New(), func() int64 { return ts }, zerolog.Nop())
	ctx := context.Background()

	login := Policy{Scope: ScopeIP, Name: "login", Limit: 1, Window: time.Minute}
	invites := Policy{Scope: ScopeUser, Name: "invites", Limit: 1, Window: time.Hour}

	require.NoError(t, l.Allow(ctx, login, "k"))
	require.NoError(t, l.Allow(ctx, invites, "k"))
	assert.Error(t, l.Allow(ctx, login, "k"))
	assert.Error(t, l.Allow(ctx, invites, "k"))
}

func TestLoginLockout(t *testing.T) {
	var ts int64 = 1_700_000_000_000
	l := New(memory.New(), func() int64 { ts += 1000; return ts }, zerolog.Nop())
	ctx := context.Background()

	locked, err := l.LoginLocked(ctx, "kim@example.com", 5, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.RecordLoginFailure(ctx, "kim@example.com"))
	}
	locked, err = l.LoginLocked(ctx, "kim@example.com", 5, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)

	// Success clears the streak.
	require.NoError(t, l.ClearLoginFailures(ctx, "kim@example.com"))
	locked, err = l.LoginLocked(ctx, "kim@example.com", 5, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestSameMillisecondFailuresAllCount(t *testing.T) {
	var ts int64 = 1_700_000_000_000
	l := New(memory.New(), func() int64 { return ts }, zerolog.Nop())
	ctx := context.Background()

	// A scripted burst lands every failure on the same clock reading;
	// none may shadow another.
	for i := 0; i < 5; i++ {
		require.NoError(t, l.RecordLoginFailure(ctx, "burst@example.com"))
	}
	locked, err := l.LoginLocked(ctx, "burst@example.com", 5, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestOldAttemptsFallOutOfWindow(t *testing.T) {
	var ts int64 = 1_700_000_000_000
	clockStep := int64(1000)
	l := New(memory.New(), func() int64 { ts += clockStep; return ts }, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.RecordLoginFailure(ctx, "old@example.com"))
	}

	// Jump past the window; the streak no longer counts.
	ts += (15 * time.Minute).Milliseconds()
	locked, err := l.LoginLocked(ctx, "old@example.com", 5, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)
}
