package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/chat/bus"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/ratelimit"
	"github.com/guildhall-dev/guildhall/internal/storage/memory"
)

type testClock struct{ ts int64 }

func (c *testClock) now() int64 { c.ts += 1000; return c.ts }

func memberSet(pairs ...string) MembershipChecker {
	allowed := map[string]bool{}
	for _, p := range pairs {
		allowed[p] = true
	}
	return func(_ context.Context, guildID, userID string) (bool, error) {
		return allowed[guildID+"/"+userID], nil
	}
}

func newTestService(isMember MembershipChecker) (*Service, *testClock) {
	clock := &testClock{ts: 1_700_000_000_000}
	hub := NewHub(bus.NewMemory(), zerolog.Nop())
	svc := New(memory.New(), memory.New(), hub, isMember, clock.now, zerolog.Nop())
	return svc, clock
}

func TestSendValidation(t *testing.T) {
	s, _ := newTestService(memberSet())
	ctx := context.Background()

	_, err := s.Send(ctx, model.ScopeRoom, "r1", "u1", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = s.Send(ctx, model.ScopeRoom, "r1", "u1", strings.Repeat("x", MaxMessageLength+1))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSendQuotaAppliesBeforeWrite(t *testing.T) {
	s, clock := newTestService(memberSet("g1/u1"))
	limiter := ratelimit.New(memory.New(), clock.now, zerolog.Nop())
	quota := ratelimit.Policy{Scope: ratelimit.ScopeUser, Name: "chat", Limit: 3, Window: time.Minute}
	s.LimitSendsWith(func(ctx context.Context, senderID string) error {
		return limiter.Allow(ctx, quota, senderID)
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Send(ctx, model.ScopeRoom, "r1", "u1", "m")
		require.NoError(t, err)
	}

	// One window per sender across every scope and transport.
	_, err := s.Send(ctx, model.ScopeGuild, "g1", "u1", "m")
	assert.Equal(t, apperr.KindTooManyRequests, apperr.KindOf(err))

	// The rejected send left nothing durable behind.
	msgs, _, err := s.History(ctx, model.ScopeGuild, "g1", "u1", 0, 0, "")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Other senders keep their own window.
	_, err = s.Send(ctx, model.ScopeRoom, "r1", "u2", "m")
	require.NoError(t, err)
}

func TestHistoryPagination(t *testing.T) {
	s, _ := newTestService(memberSet())
	ctx := context.Background()

	sent := make([]model.Message, 0, 120)
	for i := 0; i < 120; i++ {
		m, err := s.Send(ctx, model.ScopeRoom, "r1", "u1", "m")
		require.NoError(t, err)
		sent = append(sent, m)
	}

	var got []model.Message
	cursor := ""
	for {
		page, next, err := s.History(ctx, model.ScopeRoom, "r1", "u1", 0, 0, cursor)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page), DefaultHistoryPage)
		got = append(got, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	// Every message exactly once, newest first, across page boundaries.
	require.Len(t, got, len(sent))
	for i, m := range got {
		assert.Equal(t, sent[len(sent)-1-i].ID, m.ID)
	}
}

func TestHistoryAfterIsExclusive(t *testing.T) {
	s, _ := newTestService(memberSet())
	ctx := context.Background()

	var pivot model.Message
	for i := 0; i < 10; i++ {
		m, err := s.Send(ctx, model.ScopeRoom, "r1", "u1", "m")
		require.NoError(t, err)
		if i == 4 {
			pivot = m
		}
	}

	got, _, err := s.History(ctx, model.ScopeRoom, "r1", "u1", pivot.TS, 0, "")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for _, m := range got {
		assert.Greater(t, m.TS, pivot.TS)
	}
}

func TestGuildScopeRequiresMembership(t *testing.T) {
	s, _ := newTestService(memberSet("g1/member"))
	ctx := context.Background()

	_, err := s.Send(ctx, model.ScopeGuild, "g1", "outsider", "hi")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, _, err = s.History(ctx, model.ScopeGuild, "g1", "outsider", 0, 0, "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, _, err = s.Subscribe(ctx, model.ScopeGuild, "g1", "outsider", nil)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	m, err := s.Send(ctx, model.ScopeGuild, "g1", "member", "hi")
	require.NoError(t, err)
	got, _, err := s.History(ctx, model.ScopeGuild, "g1", "member", 0, 0, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.ID, got[0].ID)
}

func TestScopesAreSeparate(t *testing.T) {
	s, _ := newTestService(memberSet("same/u1"))
	ctx := context.Background()

	// A guild and a room sharing an id never share messages.
	_, err := s.Send(ctx, model.ScopeGuild, "same", "u1", "guild side")
	require.NoError(t, err)

	got, _, err := s.History(ctx, model.ScopeRoom, "same", "u1", 0, 0, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSubscribeReceivesSends(t *testing.T) {
	s, _ := newTestService(memberSet())
	ctx := context.Background()

	sub, cancel, err := s.Subscribe(ctx, model.ScopeRoom, "r1", "u1", nil)
	require.NoError(t, err)
	defer cancel()

	// The memory bus delivers synchronously, so the message is buffered
	// before Send returns.
	m, err := s.Send(ctx, model.ScopeRoom, "r1", "u2", "hello")
	require.NoError(t, err)

	select {
	case got := <-sub.C:
		assert.Equal(t, m.ID, got.ID)
		assert.Equal(t, "hello", got.Text)
	default:
		t.Fatal("no message delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s, _ := newTestService(memberSet())
	ctx := context.Background()

	sub, cancel, err := s.Subscribe(ctx, model.ScopeRoom, "r1", "u1", nil)
	require.NoError(t, err)
	cancel()

	_, err = s.Send(ctx, model.ScopeRoom, "r1", "u2", "hello")
	require.NoError(t, err)

	select {
	case <-sub.C:
		t.Fatal("delivery after unsubscribe")
	default:
	}
}
