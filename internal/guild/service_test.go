package guild

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

type testClock struct{ ts int64 }

func (c *testClock) now() int64 { c.ts += 1000; return c.ts }

func newTestService() (*Service, *testClock) {
	clock := &testClock{ts: 1_700_000_000_000}
	return New(memory.New(), clock.now, zerolog.Nop()), clock
}

func TestCreateAddsOwnerMembership(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "owner", "Night Watch", "keeps the wall")
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.MemberCount)

	member, err := s.IsMember(ctx, g.ID, "owner")
	require.NoError(t, err)
	assert.True(t, member)

	members, err := s.Members(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, model.RoleOwner, members[0].Role)
}

func TestJoinAndLeave(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "owner", "Night Watch", "")
	require.NoError(t, err)

	require.NoError(t, s.Join(ctx, g.ID, "m1"))
	got, err := s.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.MemberCount)

	// Joining twice conflicts without double counting.
	err = s.Join(ctx, g.ID, "m1")
	assert.Equal(t, "already_member", apperr.As(err).Code)
	got, err = s.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.MemberCount)

	require.NoError(t, s.Leave(ctx, g.ID, "m1"))
	member, err := s.IsMember(ctx, g.ID, "m1")
	require.NoError(t, err)
	assert.False(t, member)
	got, err = s.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MemberCount)

	// The owner stays until ownership moves.
	err = s.Leave(ctx, g.ID, "owner")
	assert.Equal(t, "owner_cannot_leave", apperr.As(err).Code)

	// A non-member has nothing to leave.
	err = s.Leave(ctx, g.ID, "stranger")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestQuestsAreMembersOnly(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "owner", "Night Watch", "")
	require.NoError(t, err)

	_, err = s.CreateQuest(ctx, g.ID, "stranger", CreateQuestInput{Title: "t", Kind: model.GuildQuestPercentual})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = s.Quests(ctx, g.ID, "stranger")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestQuantitativeQuestProgress(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "owner", "Night Watch", "")
	require.NoError(t, err)
	require.NoError(t, s.Join(ctx, g.ID, "m1"))

	q, err := s.CreateQuest(ctx, g.ID, "owner", CreateQuestInput{
		Title: "gather 100", Kind: model.GuildQuestQuantitative, TargetCount: 100,
	})
	require.NoError(t, err)

	_, err = s.Complete(ctx, g.ID, q.ID, "owner", 30, 0)
	require.NoError(t, err)
	_, err = s.Complete(ctx, g.ID, q.ID, "m1", 50, 0)
	require.NoError(t, err)

	p, err := s.QuestProgress(ctx, g.ID, q.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, 80, p)

	// The aggregate never exceeds the target.
	_, err = s.Complete(ctx, g.ID, q.ID, "m1", 30, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestQuantitativeContributionsAccumulate(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "owner", "Night Watch", "")
	require.NoError(t, err)
	q, err := s.CreateQuest(ctx, g.ID, "owner", CreateQuestInput{
		Title: "gather 100", Kind: model.GuildQuestQuantitative, TargetCount: 100,
	})
	require.NoError(t, err)

	_, err = s.Complete(ctx, g.ID, q.ID, "owner", 30, 0)
	require.NoError(t, err)
	_, err = s.Complete(ctx, g.ID, q.ID, "owner", 50, 0)
	require.NoError(t, err)

	p, err := s.QuestProgress(ctx, g.ID, q.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, 80, p)

	completions, err := s.completions(ctx, g.ID, q.ID)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.Equal(t, int64(80), completions[0].Contribution)
}

// staleQuestReads serves one pinned copy of the quest row while every
// other operation passes through, standing in for a second process
// whose read raced the first write.
type staleQuestReads struct {
	storage.Store
	pk, sk string
	item   storage.Item
}

func (s *staleQuestReads) Get(ctx context.Context, pk, sk string) (storage.Item, error) {
	if s.item != nil && pk == s.pk && sk == s.sk {
		return s.item, nil
	}
	return s.Store.Get(ctx, pk, sk)
}

func TestCompletionCapHoldsAgainstStaleReads(t *testing.T) {
	mem := memory.New()
	clock := &testClock{ts: 1_700_000_000_000}
	wrapped := &staleQuestReads{Store: mem}
	s := New(wrapped, clock.now, zerolog.Nop())
	ctx := context.Background()

	g, err := s.Create(ctx, "owner", "Night Watch", "")
	require.NoError(t, err)
	require.NoError(t, s.Join(ctx, g.ID, "m1"))
	q, err := s.CreateQuest(ctx, g.ID, "owner", CreateQuestInput{
		Title: "gather 100", Kind: model.GuildQuestQuantitative, TargetCount: 100,
	})
	require.NoError(t, err)

	// Both completions see the quest before any contribution landed.
	stale, err := mem.Get(ctx, keys.Guild(g.ID), keys.Quest(q.ID))
	require.NoError(t, err)
	wrapped.pk, wrapped.sk, wrapped.item = keys.Guild(g.ID), keys.Quest(q.ID), stale

	_, err = s.Complete(ctx, g.ID, q.ID, "owner", 60, 0)
	require.NoError(t, err)

	// The second 60 passes the stale pre-check but the conditional
	// counter write rejects it.
	_, err = s.Complete(ctx, g.ID, q.ID, "m1", 60, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	wrapped.item = nil
	p, err := s.QuestProgress(ctx, g.ID, q.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, 60, p)

	item, err := mem.Get(ctx, keys.Guild(g.ID), keys.Quest(q.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(60), model.GuildQuestFromItem(item).CurrentCount)
}

func TestPercentualQuestProgress(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "owner", "Night Watch", "")
	require.NoError(t, err)
	require.NoError(t, s.Join(ctx, g.ID, "m1"))

	q, err := s.CreateQuest(ctx, g.ID, "owner", CreateQuestInput{
		Title: "everyone trains", Kind: model.GuildQuestPercentual,
	})
	require.NoError(t, err)

	_, err = s.Complete(ctx, g.ID, q.ID, "owner", 0, 50)
	require.NoError(t, err)
	_, err = s.Complete(ctx, g.ID, q.ID, "m1", 0, 100)
	require.NoError(t, err)

	p, err := s.QuestProgress(ctx, g.ID, q.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, 75, p)

	_, err = s.Complete(ctx, g.ID, q.ID, "m1", 0, 101)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestFeedNewestFirst(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "owner", "Night Watch", "")
	require.NoError(t, err)
	require.NoError(t, s.Join(ctx, g.ID, "m1"))
	require.NoError(t, s.Emit(ctx, g.ID, "owner", ActivityMilestone, "25"))
	require.NoError(t, s.Emit(ctx, g.ID, "owner", ActivityMilestone, "50"))

	feed, _, err := s.Feed(ctx, g.ID, "owner", 2, "")
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "50", feed[0].Detail)
	assert.Equal(t, "25", feed[1].Detail)

	_, _, err = s.Feed(ctx, g.ID, "stranger", 0, "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestAnalytics(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	completed := map[string]int{"owner": 2, "m1": 1}
	s.CountGoalsWith(func(_ context.Context, userID string) (int, error) {
		return completed[userID], nil
	})

	g, err := s.Create(ctx, "owner", "Night Watch", "")
	require.NoError(t, err)
	require.NoError(t, s.Join(ctx, g.ID, "m1"))
	q, err := s.CreateQuest(ctx, g.ID, "owner", CreateQuestInput{
		Title: "gather", Kind: model.GuildQuestQuantitative, TargetCount: 10,
	})
	require.NoError(t, err)
	_, err = s.Complete(ctx, g.ID, q.ID, "m1", 4, 0)
	require.NoError(t, err)

	coeff := Coefficients{Alpha: 0.5, Beta: 0.3, Gamma: 0.2}
	a, err := s.Analytics(ctx, g.ID, "owner", coeff)
	require.NoError(t, err)

	// join + quest_created + quest_completed
	assert.Equal(t, 2, a.TotalMembers)
	assert.Equal(t, 3, a.RecentActivities)
	assert.Equal(t, 2, a.ActiveMembers)
	assert.Equal(t, 3, a.CompletedGoals)
	want := 0.5*2/2 + 0.3*3/7 + 0.2*3.0/2
	assert.InDelta(t, want, a.ActivityRate, 1e-9)
}
