package billing

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage"
	"github.com/guildhall-dev/guildhall/internal/storage/memory"
)

var testAllowances = map[string]int64{
	model.TierFree:        25,
	model.TierInitiate:    100,
	model.TierGuildmaster: 3000,
}

type testClock struct{ ts int64 }

func (c *testClock) now() int64 { c.ts += 1000; return c.ts }

func newTestService(founders ...string) (*Service, *testClock) {
	clock := &testClock{ts: 1_700_000_000_000}
	isFounder := func(id string) bool {
		for _, f := range founders {
			if f == id {
				return true
			}
		}
		return false
	}
	svc := New(memory.New(), MockGateway{}, testAllowances, isFounder,
		"http://localhost/success", "http://localhost/cancel", clock.now, zerolog.Nop())
	return svc, clock
}

func TestCurrentDefaultsToFree(t *testing.T) {
	s, _ := newTestService()
	sub, err := s.Current(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, sub.Tier)
	assert.Equal(t, model.SubStatusNone, sub.Status)
	assert.False(t, sub.FounderPass)
}

func TestFounderPassOverrides(t *testing.T) {
	s, _ := newTestService("founder-1")
	ctx := context.Background()

	sub, err := s.Current(ctx, "founder-1")
	require.NoError(t, err)
	assert.Equal(t, model.TierGuildmaster, sub.Tier)
	assert.Equal(t, model.SubStatusActive, sub.Status)
	assert.True(t, sub.FounderPass)

	// Founders have nothing to buy.
	_, err = s.CreateCheckout(ctx, "founder-1", model.TierInitiate)
	assert.Equal(t, "founder_pass", apperr.As(err).Code)
}

func TestCreateCheckout(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	_, err := s.CreateCheckout(ctx, "u1", model.TierFree)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = s.CreateCheckout(ctx, "u1", "PLATINUM")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	session, err := s.CreateCheckout(ctx, "u1", model.TierInitiate)
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionID)
	assert.NotEmpty(t, session.RedirectURL)

	sub, err := s.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SubStatusPending, sub.Status)
}

func TestCancelRequiresActive(t *testing.T) {
	s, _ := newTestService()
	_, err := s.Cancel(context.Background(), "u1")
	assert.Equal(t, "not_active", apperr.As(err).Code)
}

func TestTopupSpendLedger(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, s.Topup(ctx, "u1", 100, "promo"))
	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	require.NoError(t, s.Spend(ctx, "u1", 60, "quest_boost"))
	balance, err = s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	// Overdraw is a conflict, not a negative balance.
	err = s.Spend(ctx, "u1", 41, "quest_boost")
	assert.Equal(t, "insufficient_credits", apperr.As(err).Code)
	balance, err = s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	entries, _, err := s.Ledger(ctx, "u1", 0, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, int64(-60), entries[0].Delta)
	assert.Equal(t, int64(100), entries[1].Delta)
}

// staleSubReads serves one pinned copy of the subscription row while
// everything else passes through, standing in for a reader whose copy
// predates a concurrent webhook grant.
type staleSubReads struct {
	storage.Store
	pk, sk string
	item   storage.Item
}

func (s *staleSubReads) Get(ctx context.Context, pk, sk string) (storage.Item, error) {
	if s.item != nil && pk == s.pk && sk == s.sk {
		return s.item, nil
	}
	return s.Store.Get(ctx, pk, sk)
}

func TestTopupPreservesConcurrentGrants(t *testing.T) {
	mem := memory.New()
	clock := &testClock{ts: 1_700_000_000_000}
	wrapped := &staleSubReads{Store: mem}
	s := New(wrapped, MockGateway{}, testAllowances, func(string) bool { return false },
		"http://localhost/success", "http://localhost/cancel", clock.now, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, s.Topup(ctx, "u1", 100, "promo"))

	stale, err := mem.Get(ctx, keys.User("u1"), keys.SKSubscription)
	require.NoError(t, err)
	wrapped.pk, wrapped.sk, wrapped.item = keys.User("u1"), keys.SKSubscription, stale

	// A webhook allowance grant lands while the topup holds a stale
	// copy of the row.
	_, err = mem.Update(ctx, storage.UpdateInput{
		PK:  keys.User("u1"),
		SK:  keys.SKSubscription,
		Add: map[string]int64{"balance": 40},
	})
	require.NoError(t, err)

	require.NoError(t, s.Topup(ctx, "u1", 60, "promo"))

	wrapped.item = nil
	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)
}

func TestSpendValidation(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	err := s.Spend(ctx, "u1", 0, "x")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	err = s.Spend(ctx, "u1", 10, "x")
	assert.Equal(t, "insufficient_credits", apperr.As(err).Code)
}
