// Package collab implements collaboration invites, threaded comments
// with @-mentions, and emoji reactions with toggle semantics.
package collab

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// InviteTTL is how long an invite stays acceptable.
const InviteTTL = 30 * 24 * time.Hour

// MaxCommentLength bounds a comment body.
const MaxCommentLength = 4000

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]{1,32})`)

// ExtractMentions scans body for @nickname tokens, deduplicated in
// order of first appearance.
func ExtractMentions(body string) []string {
	seen := map[string]struct{}{}
	var mentions []string
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		mentions = append(mentions, m[1])
	}
	return mentions
}

// Service is the collaboration domain service.
type Service struct {
	store storage.Store
	now   model.Clock
	log   zerolog.Logger
}

// New builds the service.
func New(store storage.Store, now model.Clock, log zerolog.Logger) *Service {
	if now == nil {
		now = model.NowClock
	}
	return &Service{store: store, now: now, log: log.With().Str("component", "collab").Logger()}
}

// SendInvite writes a pending invite with a 30-day expiry.
func (s *Service) SendInvite(ctx context.Context, inviterID, inviteeID, resourceType, resourceID string) (model.Invite, error) {
	if inviteeID == "" {
		return model.Invite{}, apperr.Validation("inviteeId", "invitee is required")
	}
	if inviteeID == inviterID {
		return model.Invite{}, apperr.Validation("inviteeId", "cannot invite yourself")
	}
	now := s.now()
	inv := model.Invite{
		ID:           uuid.NewString(),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		InviterID:    inviterID,
		InviteeID:    inviteeID,
		Status:       model.InviteStatusPending,
		ExpiresAt:    now + InviteTTL.Milliseconds(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Put(ctx, inv.Item(), storage.NotExists(storage.AttrSK)); err != nil {
		return model.Invite{}, apperr.Internal(err)
	}
	return inv, nil
}

// InvitesFor lists a user's invites via the GSI1 projection.
func (s *Service) InvitesFor(ctx context.Context, userID, status string) ([]model.Invite, error) {
	prefix := keys.PrefixInvite
	if status != "" {
		prefix = keys.PrefixInvite + status + "#"
	}
	out, err := s.store.Query(ctx, storage.QueryInput{
		Index:        storage.IndexGSI1,
		PartitionKey: keys.User(userID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: prefix},
		Forward:      false,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	invites := make([]model.Invite, 0, len(out.Items))
	for _, item := range out.Items {
		invites = append(invites, model.InviteFromItem(item))
	}
	return invites, nil
}

// Accept conditions on status=pending, writes the collaborator row and
// flips the invite in one transaction. An expired invite is Gone and
// leaves no collaborator row.
func (s *Service) Accept(ctx context.Context, callerID, resourceType, resourceID, inviteID string) (model.Collaborator, error) {
	inv, err := s.getInvite(ctx, resourceType, resourceID, inviteID)
	if err != nil {
		return model.Collaborator{}, err
	}
	if inv.InviteeID != callerID {
		return model.Collaborator{}, apperr.Forbidden("not your invite")
	}
	now := s.now()
	if now >= inv.ExpiresAt {
		return model.Collaborator{}, apperr.Gone("invite expired")
	}
	if inv.Status != model.InviteStatusPending {
		return model.Collaborator{}, apperr.Conflict("invite_not_pending", "invite already resolved")
	}

	c := model.Collaborator{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserID:       callerID,
		Role:         "collaborator",
		JoinedAt:     now,
	}
	accepted := inv
	accepted.Status = model.InviteStatusAccepted
	accepted.UpdatedAt = now
	err = s.store.TransactWrite(ctx, []storage.WriteOp{
		{Put: accepted.Item(), Condition: storage.Eq("status", model.InviteStatusPending)},
		{Put: c.Item(), Condition: storage.NotExists(storage.AttrSK)},
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.Collaborator{}, apperr.Conflict("invite_not_pending", "invite already resolved")
		}
		return model.Collaborator{}, apperr.Internal(err)
	}
	return c, nil
}

// Decline conditions on status=pending.
func (s *Service) Decline(ctx context.Context, callerID, resourceType, resourceID, inviteID string) error {
	inv, err := s.getInvite(ctx, resourceType, resourceID, inviteID)
	if err != nil {
		return err
	}
	if inv.InviteeID != callerID {
		return apperr.Forbidden("not your invite")
	}
	declined := inv
	declined.Status = model.InviteStatusDeclined
	declined.UpdatedAt = s.now()
	if err := s.store.Put(ctx, declined.Item(), storage.Eq("status", model.InviteStatusPending)); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return apperr.Conflict("invite_not_pending", "invite already resolved")
		}
		return apperr.Internal(err)
	}
	return nil
}

// Collaborators lists a resource's collaborators.
func (s *Service) Collaborators(ctx context.Context, resourceType, resourceID string) ([]model.Collaborator, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Resource(resourceType, resourceID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixCollab},
		Forward:      true,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	collaborators := make([]model.Collaborator, 0, len(out.Items))
	for _, item := range out.Items {
		collaborators = append(collaborators, model.CollaboratorFromItem(item))
	}
	return collaborators, nil
}

// CreateComment writes a comment with extracted mentions.
func (s *Service) CreateComment(ctx context.Context, authorID, resourceType, resourceID, body string) (model.Comment, error) {
	if body == "" {
		return model.Comment{}, apperr.Validation("body", "body is required")
	}
	if len(body) > MaxCommentLength {
		return model.Comment{}, apperr.Validation("body", "body exceeds 4000 characters")
	}
	now := s.now()
	c := model.Comment{
		ID:           uuid.NewString(),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		AuthorID:     authorID,
		Body:         body,
		Mentions:     ExtractMentions(body),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Put(ctx, c.Item(), storage.NotExists(storage.AttrSK)); err != nil {
		return model.Comment{}, apperr.Internal(err)
	}
	return c, nil
}

// Comments lists a resource's comments in time order.
func (s *Service) Comments(ctx context.Context, resourceType, resourceID string, limit int, cursor string) ([]model.Comment, string, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Resource(resourceType, resourceID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixComment},
		Limit:        limit,
		Forward:      true,
		Cursor:       cursor,
	})
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	comments := make([]model.Comment, 0, len(out.Items))
	for _, item := range out.Items {
		comments = append(comments, model.CommentFromItem(item))
	}
	return comments, out.NextCursor, nil
}

// React toggles (commentID, userID, emoji): same emoji again deletes,
// a different emoji replaces the user's previous reaction.
func (s *Service) React(ctx context.Context, userID, commentID, emoji string) ([]model.Reaction, error) {
	if emoji == "" {
		return nil, apperr.Validation("emoji", "emoji is required")
	}
	existing, err := s.userReactions(ctx, commentID, userID)
	if err != nil {
		return nil, err
	}

	var ops []storage.WriteOp
	toggleOff := false
	for _, r := range existing {
		if r.Emoji == emoji {
			toggleOff = true
		}
		ops = append(ops, storage.WriteOp{Delete: &storage.Key{
			PK: keys.CommentPK(commentID),
			SK: keys.Reaction(userID, r.Emoji),
		}})
	}
	if !toggleOff {
		r := model.Reaction{CommentID: commentID, UserID: userID, Emoji: emoji, CreatedAt: s.now()}
		ops = append(ops, storage.WriteOp{Put: r.Item()})
	}
	if err := s.store.TransactWrite(ctx, ops); err != nil {
		return nil, apperr.Internal(err)
	}
	return s.Reactions(ctx, commentID)
}

// Reactions lists a comment's reactions.
func (s *Service) Reactions(ctx context.Context, commentID string) ([]model.Reaction, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.CommentPK(commentID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixReaction},
		Forward:      true,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	reactions := make([]model.Reaction, 0, len(out.Items))
	for _, item := range out.Items {
		reactions = append(reactions, model.ReactionFromItem(item))
	}
	return reactions, nil
}

// ReactionCounts groups a comment's reactions by emoji.
func (s *Service) ReactionCounts(ctx context.Context, commentID string) (map[string]int, error) {
	reactions, err := s.Reactions(ctx, commentID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(reactions))
	for _, r := range reactions {
		counts[r.Emoji]++
	}
	return counts, nil
}

func (s *Service) userReactions(ctx context.Context, commentID, userID string) ([]model.Reaction, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.CommentPK(commentID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.ReactionUser(userID)},
		Forward:      true,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	reactions := make([]model.Reaction, 0, len(out.Items))
	for _, item := range out.Items {
		reactions = append(reactions, model.ReactionFromItem(item))
	}
	return reactions, nil
}

func (s *Service) getInvite(ctx context.Context, resourceType, resourceID, inviteID string) (model.Invite, error) {
	item, err := s.store.Get(ctx, keys.Resource(resourceType, resourceID), keys.Invite(inviteID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Invite{}, apperr.NotFound("invite")
		}
		return model.Invite{}, apperr.Internal(err)
	}
	return model.InviteFromItem(item), nil
}
