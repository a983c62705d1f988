package quest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage/memory"
)

func newTestService(isMember MembershipChecker) *Service {
	var ts int64 = 1_700_000_000_000
	clock := func() int64 { ts += 1000; return ts }
	return New(memory.New(), isMember, clock, zerolog.Nop())
}

func TestCreateValidation(t *testing.T) {
	s := newTestService(nil)
	ctx := context.Background()

	_, err := s.Create(ctx, "u1", CreateInput{Kind: model.QuestKindQuantitative, TargetCount: 3})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = s.Create(ctx, "u1", CreateInput{Title: "q", Kind: "weird"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = s.Create(ctx, "u1", CreateInput{Title: "q", Kind: model.QuestKindQuantitative})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = s.Create(ctx, "u1", CreateInput{Title: "q", Kind: model.QuestKindLinked})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestVersionMonotonicity(t *testing.T) {
	s := newTestService(nil)
	ctx := context.Background()

	q, err := s.Create(ctx, "u1", CreateInput{Title: "pushups", Kind: model.QuestKindQuantitative, TargetCount: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Version)
	assert.Equal(t, model.QuestStatusDraft, q.Status)

	q, err = s.Transition(ctx, "u1", q.ID, model.QuestStatusActive, "start")
	require.NoError(t, err)
	assert.Equal(t, int64(2), q.Version)

	for i := 1; i <= 3; i++ {
		q, err = s.Increment(ctx, "u1", q.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2+i), q.Version)
		assert.Equal(t, int64(i), q.CurrentCount)
	}

	// The counter is full; the next increment must not land.
	_, err = s.Increment(ctx, "u1", q.ID, 1)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	trail, err := s.AuditTrail(ctx, "u1", q.ID)
	require.NoError(t, err)
	require.Len(t, trail, 5)
	for i, entry := range trail {
		assert.Equal(t, int64(i+1), entry.Version)
	}
}

func TestInvalidTransitions(t *testing.T) {
	s := newTestService(nil)
	ctx := context.Background()

	q, err := s.Create(ctx, "u1", CreateInput{Title: "read", Kind: model.QuestKindLinked, LinkedGoals: []string{"g1"}})
	require.NoError(t, err)

	// Draft cannot complete directly.
	_, err = s.Transition(ctx, "u1", q.ID, model.QuestStatusCompleted, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	q, err = s.Transition(ctx, "u1", q.ID, model.QuestStatusActive, "")
	require.NoError(t, err)
	q, err = s.Transition(ctx, "u1", q.ID, model.QuestStatusCompleted, "")
	require.NoError(t, err)

	// Terminal states accept nothing.
	_, err = s.Transition(ctx, "u1", q.ID, model.QuestStatusActive, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestDraftOnlyEdits(t *testing.T) {
	s := newTestService(nil)
	ctx := context.Background()

	q, err := s.Create(ctx, "u1", CreateInput{Title: "q", Kind: model.QuestKindQuantitative, TargetCount: 5})
	require.NoError(t, err)

	title := "renamed"
	q, err = s.Update(ctx, "u1", q.ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "renamed", q.Title)

	_, err = s.Transition(ctx, "u1", q.ID, model.QuestStatusActive, "")
	require.NoError(t, err)

	_, err = s.Update(ctx, "u1", q.ID, UpdateInput{Title: &title})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestOwnershipIsolation(t *testing.T) {
	s := newTestService(nil)
	ctx := context.Background()

	q, err := s.Create(ctx, "owner", CreateInput{Title: "secret", Kind: model.QuestKindQuantitative, TargetCount: 1})
	require.NoError(t, err)

	// A stranger probing someone else's quest id sees Forbidden whether
	// or not the quest exists.
	_, err = s.Get(ctx, "stranger", "owner", q.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = s.Get(ctx, "stranger", "owner", "no-such-quest")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// The owner probing a bad id sees NotFound.
	_, err = s.Get(ctx, "owner", "owner", "no-such-quest")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGuildMemberRead(t *testing.T) {
	member := func(_ context.Context, guildID, userID string) (bool, error) {
		return guildID == "g1" && userID == "mate", nil
	}
	s := newTestService(member)
	ctx := context.Background()

	q, err := s.Create(ctx, "owner", CreateInput{Title: "shared", Kind: model.QuestKindQuantitative, TargetCount: 2, GuildID: "g1"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "mate", "owner", q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, got.ID)

	_, err = s.Get(ctx, "outsider", "owner", q.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// Shared reads never grant writes.
	_, err = s.Increment(ctx, "mate", q.ID, 1)
	assert.Error(t, err)
}
