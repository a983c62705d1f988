package collab

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

type fakeClock struct{ ts int64 }

func (c *fakeClock) now() int64 { return c.ts }

func newTestService() (*Service, *fakeClock) {
	clock := &fakeClock{ts: 1_700_000_000_000}
	return New(memory.New(), clock.now, zerolog.Nop()), clock
}

func TestExtractMentions(t *testing.T) {
	assert.Nil(t, ExtractMentions("no mentions here"))
	assert.Equal(t, []string{"kim"}, ExtractMentions("hey @kim!"))
	// Duplicates collapse, order of first appearance wins.
	assert.Equal(t, []string{"kim", "dana"}, ExtractMentions("@kim @dana @kim again"))
	assert.Equal(t, []string{"a.b-c_d"}, ExtractMentions("ping @a.b-c_d"))
}

func TestInviteLifecycle(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	inv, err := s.SendInvite(ctx, "alice", "bob", "goal", "g1")
	require.NoError(t, err)
	assert.Equal(t, model.InviteStatusPending, inv.Status)

	// Only the invitee may accept.
	_, err = s.Accept(ctx, "mallory", "goal", "g1", inv.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	c, err := s.Accept(ctx, "bob", "goal", "g1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", c.UserID)

	// Accepting twice conflicts.
	_, err = s.Accept(ctx, "bob", "goal", "g1", inv.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	collaborators, err := s.Collaborators(ctx, "goal", "g1")
	require.NoError(t, err)
	require.Len(t, collaborators, 1)
	assert.Equal(t, "bob", collaborators[0].UserID)
}

func TestInviteSelfRejected(t *testing.T) {
	s, _ := newTestService()
	_, err := s.SendInvite(context.Background(), "alice", "alice", "goal", "g1")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestExpiredInviteIsGone(t *testing.T) {
	s, clock := newTestService()
	ctx := context.Background()

	inv, err := s.SendInvite(ctx, "alice", "bob", "goal", "g1")
	require.NoError(t, err)

	clock.ts = inv.ExpiresAt

	// Expiry wins over any status answer, and no collaborator appears.
	_, err = s.Accept(ctx, "bob", "goal", "g1", inv.ID)
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))

	collaborators, err := s.Collaborators(ctx, "goal", "g1")
	require.NoError(t, err)
	assert.Empty(t, collaborators)
}

func TestDecline(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	inv, err := s.SendInvite(ctx, "alice", "bob", "goal", "g1")
	require.NoError(t, err)
	require.NoError(t, s.Decline(ctx, "bob", "goal", "g1", inv.ID))

	// A declined invite cannot be accepted afterwards.
	_, err = s.Accept(ctx, "bob", "goal", "g1", inv.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCommentMentionsPersist(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	c, err := s.CreateComment(ctx, "alice", "goal", "g1", "looping in @bob and @carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, c.Mentions)

	comments, _, err := s.Comments(ctx, "goal", "g1", 0, "")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, []string{"bob", "carol"}, comments[0].Mentions)
}

func TestReactionToggle(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	// heart -> on
	reactions, err := s.React(ctx, "u1", "c1", "heart")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "heart", reactions[0].Emoji)

	// heart again -> off
	reactions, err = s.React(ctx, "u1", "c1", "heart")
	require.NoError(t, err)
	assert.Empty(t, reactions)

	// laugh -> on
	reactions, err = s.React(ctx, "u1", "c1", "laugh")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "laugh", reactions[0].Emoji)

	// heart replaces laugh atomically
	reactions, err = s.React(ctx, "u1", "c1", "heart")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "heart", reactions[0].Emoji)
}

func TestReactionCountsAcrossUsers(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	_, err := s.React(ctx, "u1", "c1", "heart")
	require.NoError(t, err)
	_, err = s.React(ctx, "u2", "c1", "heart")
	require.NoError(t, err)
	_, err = s.React(ctx, "u3", "c1", "laugh")
	require.NoError(t, err)

	counts, err := s.ReactionCounts(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"heart": 2, "laugh": 1}, counts)
}
