// Package quest implements the quest lifecycle: a small state machine
// over optimistic-locked rows with a mandatory audit trail.
package quest

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// transitions is the full allowed set; anything absent is rejected.
var transitions = map[string][]string{
	model.QuestStatusDraft:  {model.QuestStatusActive, model.QuestStatusCancelled},
	model.QuestStatusActive: {model.QuestStatusCompleted, model.QuestStatusFailed, model.QuestStatusCancelled},
}

func transitionAllowed(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// MembershipChecker reports whether userID belongs to guildID. It is
// injected so quest does not import the guild service.
type MembershipChecker func(ctx context.Context, guildID, userID string) (bool, error)

// Service is the quest domain service.
type Service struct {
	store    storage.Store
	isMember MembershipChecker
	now      model.Clock
	log      zerolog.Logger
}

// New builds the service. isMember may be nil when guild-linked reads
// are not needed (tests).
func New(store storage.Store, isMember MembershipChecker, now model.Clock, log zerolog.Logger) *Service {
	if now == nil {
		now = model.NowClock
	}
	return &Service{store: store, isMember: isMember, now: now, log: log.With().Str("component", "quest").Logger()}
}

// CreateInput is the quest creation body.
type CreateInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Kind        string   `json:"kind"`
	GuildID     string   `json:"guildId"`
	LinkedGoals []string `json:"linkedGoals"`
	LinkedTasks []string `json:"linkedTasks"`
	TargetCount int64    `json:"targetCount"`
}

// Create writes a draft quest at version 1 with its creation audit row.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (model.Quest, error) {
	if in.Title == "" {
		return model.Quest{}, apperr.Validation("title", "title is required")
	}
	switch in.Kind {
	case model.QuestKindQuantitative:
		if in.TargetCount < 1 {
			return model.Quest{}, apperr.Validation("targetCount", "target must be at least 1")
		}
	case model.QuestKindLinked:
		if len(in.LinkedGoals)+len(in.LinkedTasks) == 0 {
			return model.Quest{}, apperr.Validation("linkedGoals", "linked quest needs at least one goal or task")
		}
	default:
		return model.Quest{}, apperr.Validation("kind", "kind must be linked or quantitative")
	}

	now := s.now()
	q := model.Quest{
		ID:          uuid.NewString(),
		UserID:      userID,
		GuildID:     in.GuildID,
		Title:       in.Title,
		Description: in.Description,
		Kind:        in.Kind,
		Status:      model.QuestStatusDraft,
		LinkedGoals: in.LinkedGoals,
		LinkedTasks: in.LinkedTasks,
		TargetCount: in.TargetCount,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	audit := model.QuestAudit{
		QuestID: q.ID,
		Actor:   userID,
		From:    "",
		To:      model.QuestStatusDraft,
		Version: 1,
		TS:      now,
	}
	err := s.store.TransactWrite(ctx, []storage.WriteOp{
		{Put: q.Item(), Condition: storage.NotExists(storage.AttrPK)},
		{Put: audit.Item()},
	})
	if err != nil {
		return model.Quest{}, apperr.Internal(err)
	}
	return q, nil
}

// Get reads a quest. Non-owners may read only guild-linked quests they
// share a guild with; everyone else gets Forbidden, never NotFound, so
// existence does not leak asymmetrically between the two cases.
func (s *Service) Get(ctx context.Context, callerID, ownerID, questID string) (model.Quest, error) {
	item, err := s.store.Get(ctx, keys.User(ownerID), keys.Quest(questID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if callerID != ownerID {
				return model.Quest{}, apperr.Forbidden("not your quest")
			}
			return model.Quest{}, apperr.NotFound("quest")
		}
		return model.Quest{}, apperr.Internal(err)
	}
	q := model.QuestFromItem(item)
	if callerID == ownerID {
		return q, nil
	}
	if q.GuildID != "" && s.isMember != nil {
		member, err := s.isMember(ctx, q.GuildID, callerID)
		if err != nil {
			return model.Quest{}, err
		}
		if member {
			return q, nil
		}
	}
	return model.Quest{}, apperr.Forbidden("not your quest")
}

// List returns the owner's quests.
func (s *Service) List(ctx context.Context, userID string, limit int, cursor string) ([]model.Quest, string, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.User(userID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixQuest},
		Limit:        limit,
		Forward:      true,
		Cursor:       cursor,
	})
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	quests := make([]model.Quest, 0, len(out.Items))
	for _, item := range out.Items {
		quests = append(quests, model.QuestFromItem(item))
	}
	return quests, out.NextCursor, nil
}

// Transition moves a quest to a new status. Only the owner may mutate.
func (s *Service) Transition(ctx context.Context, callerID, questID, to, reason string) (model.Quest, error) {
	return s.mutate(ctx, callerID, questID, func(q *model.Quest) error {
		if !transitionAllowed(q.Status, to) {
			return apperr.Conflict("InvalidTransition", "cannot move quest from "+q.Status+" to "+to)
		}
		q.Status = to
		return nil
	}, reason)
}

// Increment adds delta to a quantitative quest's counter. Exceeding
// the target is a validation error; the audit trail records the count.
func (s *Service) Increment(ctx context.Context, callerID, questID string, delta int64) (model.Quest, error) {
	if delta < 1 {
		return model.Quest{}, apperr.Validation("delta", "delta must be at least 1")
	}
	return s.mutate(ctx, callerID, questID, func(q *model.Quest) error {
		if q.Kind != model.QuestKindQuantitative {
			return apperr.Validation("kind", "only quantitative quests have a counter")
		}
		if q.Status != model.QuestStatusActive {
			return apperr.Conflict("InvalidTransition", "quest is not active")
		}
		if q.CurrentCount+delta > q.TargetCount {
			return apperr.Validation("delta", "increment would exceed target")
		}
		q.CurrentCount += delta
		return nil
	}, "increment")
}

// UpdateInput carries mutable quest metadata; draft-only.
type UpdateInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	TargetCount *int64  `json:"targetCount,omitempty"`
}

// Update edits quest metadata while it is still a draft.
func (s *Service) Update(ctx context.Context, callerID, questID string, in UpdateInput) (model.Quest, error) {
	return s.mutate(ctx, callerID, questID, func(q *model.Quest) error {
		if q.Status != model.QuestStatusDraft {
			return apperr.Conflict("InvalidTransition", "only draft quests can be edited")
		}
		if in.Title != nil {
			if *in.Title == "" {
				return apperr.Validation("title", "title is required")
			}
			q.Title = *in.Title
		}
		if in.Description != nil {
			q.Description = *in.Description
		}
		if in.TargetCount != nil {
			if q.Kind != model.QuestKindQuantitative {
				return apperr.Validation("targetCount", "only quantitative quests have a target")
			}
			if *in.TargetCount < 1 {
				return apperr.Validation("targetCount", "target must be at least 1")
			}
			q.TargetCount = *in.TargetCount
		}
		return nil
	}, "edit")
}

// mutate runs one optimistic-locked mutation: read, apply, transact
// (quest row conditioned on version, audit row appended). On version
// conflict it re-reads and retries once, then gives up with Conflict.
func (s *Service) mutate(ctx context.Context, callerID, questID string, apply func(*model.Quest) error, reason string) (model.Quest, error) {
	for attempt := 0; attempt < 2; attempt++ {
		item, err := s.store.Get(ctx, keys.User(callerID), keys.Quest(questID))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return model.Quest{}, apperr.NotFound("quest")
			}
			return model.Quest{}, apperr.Internal(err)
		}
		q := model.QuestFromItem(item)
		if q.UserID != callerID {
			return model.Quest{}, apperr.Forbidden("not your quest")
		}

		prev := q.Version
		from := q.Status
		if err := apply(&q); err != nil {
			return model.Quest{}, err
		}
		q.Version = prev + 1
		q.UpdatedAt = s.now()

		audit := model.QuestAudit{
			QuestID: q.ID,
			Actor:   callerID,
			From:    from,
			To:      q.Status,
			Reason:  reason,
			Version: q.Version,
			TS:      q.UpdatedAt,
		}
		err = s.store.TransactWrite(ctx, []storage.WriteOp{
			{Put: q.Item(), Condition: storage.Eq("version", prev)},
			{Put: audit.Item()},
		})
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return model.Quest{}, apperr.Internal(err)
		}
		s.log.Debug().Str("quest", questID).Int("attempt", attempt).Msg("version conflict, retrying")
	}
	return model.Quest{}, apperr.Conflict("VersionConflict", "quest changed concurrently")
}

// AuditTrail lists a quest's audit rows in order.
func (s *Service) AuditTrail(ctx context.Context, callerID, questID string) ([]model.QuestAudit, error) {
	// Ownership check rides on the quest read.
	if _, err := s.Get(ctx, callerID, callerID, questID); err != nil {
		return nil, err
	}
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Quest(questID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixAudit},
		Forward:      true,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	trail := make([]model.QuestAudit, 0, len(out.Items))
	for _, item := range out.Items {
		trail = append(trail, model.QuestAuditFromItem(item))
	}
	return trail, nil
}
