// Package guild implements guild CRUD, membership, guild quests with
// per-member completions, the activity feed and on-demand analytics.
package guild

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

// Activity kinds emitted to the feed.
const (
	ActivityMemberJoined   = "member_joined"
	ActivityMemberLeft     = "member_left"
	ActivityQuestCreated   = "quest_created"
	ActivityQuestCompleted = "quest_completed"
	ActivityMilestone      = "milestone_reached"
)

// DefaultFeedLimit caps one activity page.
const DefaultFeedLimit = 50

// Service is the guild domain service.
type Service struct {
	store          storage.Store
	completedGoals GoalCounter
	now            model.Clock
	log            zerolog.Logger
}

// New builds the service.
func New(store storage.Store, now model.Clock, log zerolog.Logger) *Service {
	if now == nil {
		now = model.NowClock
	}
	return &Service{store: store, now: now, log: log.With().Str("component", "guild").Logger()}
}

// Create writes the guild row and the founding owner membership in one
// transaction.
func (s *Service) Create(ctx context.Context, ownerID, name, description string) (model.Guild, error) {
	if name == "" {
		return model.Guild{}, apperr.Validation("name", "name is required")
	}
	now := s.now()
	g := model.Guild{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		MemberCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m := model.GuildMembership{
		GuildID:  g.ID,
		UserID:   ownerID,
		Role:     model.RoleOwner,
		JoinedAt: now,
	}
	err := s.store.TransactWrite(ctx, []storage.WriteOp{
		{Put: g.Item(), Condition: storage.NotExists(storage.AttrPK)},
		{Put: m.Item(), Condition: storage.NotExists(storage.AttrSK)},
	})
	if err != nil {
		return model.Guild{}, apperr.Internal(err)
	}
	return g, nil
}

// Get returns one guild.
func (s *Service) Get(ctx context.Context, guildID string) (model.Guild, error) {
	item, err := s.store.Get(ctx, keys.Guild(guildID), keys.Guild(guildID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Guild{}, apperr.NotFound("guild")
		}
		return model.Guild{}, apperr.Internal(err)
	}
	return model.GuildFromItem(item), nil
}

// List pages through the public guild directory on GSI1.
func (s *Service) List(ctx context.Context, limit int, cursor string) ([]model.Guild, string, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		Index:        storage.IndexGSI1,
		PartitionKey: keys.GSI1GuildAll,
		Limit:        limit,
		Forward:      true,
		Cursor:       cursor,
	})
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	guilds := make([]model.Guild, 0, len(out.Items))
	for _, item := range out.Items {
		guilds = append(guilds, model.GuildFromItem(item))
	}
	return guilds, out.NextCursor, nil
}

// Join adds a membership and bumps the member count; emits an activity.
func (s *Service) Join(ctx context.Context, guildID, userID string) error {
	if _, err := s.Get(ctx, guildID); err != nil {
		return err
	}
	now := s.now()
	m := model.GuildMembership{GuildID: guildID, UserID: userID, Role: model.RoleMember, JoinedAt: now}
	err := s.store.TransactWrite(ctx, []storage.WriteOp{
		{Put: m.Item(), Condition: storage.NotExists(storage.AttrSK)},
		{Update: &storage.UpdateInput{
			PK:  keys.Guild(guildID),
			SK:  keys.Guild(guildID),
			Set: storage.Item{"updatedAt": now},
			Add: map[string]int64{"memberCount": 1},
		}},
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return apperr.Conflict("already_member", "already a guild member")
		}
		return apperr.Internal(err)
	}
	return s.emit(ctx, guildID, userID, ActivityMemberJoined, "")
}

// Leave removes the caller's membership. The owner cannot leave.
func (s *Service) Leave(ctx context.Context, guildID, userID string) error {
	g, err := s.Get(ctx, guildID)
	if err != nil {
		return err
	}
	if g.OwnerID == userID {
		return apperr.Conflict("owner_cannot_leave", "transfer ownership before leaving")
	}
	now := s.now()
	err = s.store.TransactWrite(ctx, []storage.WriteOp{
		{Delete: &storage.Key{PK: keys.Guild(guildID), SK: keys.Member(userID)},
			Condition: storage.Condition{{Attr: "userId", Op: storage.OpEq, Value: userID}}},
		{Update: &storage.UpdateInput{
			PK:  keys.Guild(guildID),
			SK:  keys.Guild(guildID),
			Set: storage.Item{"updatedAt": now},
			Add: map[string]int64{"memberCount": -1},
		}},
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return apperr.NotFound("membership")
		}
		return apperr.Internal(err)
	}
	return s.emit(ctx, guildID, userID, ActivityMemberLeft, "")
}

// IsMember reports membership; it satisfies quest.MembershipChecker.
func (s *Service) IsMember(ctx context.Context, guildID, userID string) (bool, error) {
	_, err := s.store.Get(ctx, keys.Guild(guildID), keys.Member(userID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, apperr.Internal(err)
	}
	return true, nil
}

// Members lists a guild's memberships.
func (s *Service) Members(ctx context.Context, guildID string) ([]model.GuildMembership, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Guild(guildID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixMember},
		Forward:      true,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	members := make([]model.GuildMembership, 0, len(out.Items))
	for _, item := range out.Items {
		members = append(members, model.GuildMembershipFromItem(item))
	}
	return members, nil
}

// GuildsOf lists the guilds a user belongs to with one GSI1 query.
func (s *Service) GuildsOf(ctx context.Context, userID string) ([]model.GuildMembership, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		Index:        storage.IndexGSI1,
		PartitionKey: keys.User(userID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixGuild},
		Forward:      true,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	memberships := make([]model.GuildMembership, 0, len(out.Items))
	for _, item := range out.Items {
		memberships = append(memberships, model.GuildMembershipFromItem(item))
	}
	return memberships, nil
}

// CreateQuestInput is the guild quest creation body.
type CreateQuestInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	TargetCount int64  `json:"targetCount"`
}

// CreateQuest adds an active guild quest; members only.
func (s *Service) CreateQuest(ctx context.Context, guildID, userID string, in CreateQuestInput) (model.GuildQuest, error) {
	if err := s.requireMember(ctx, guildID, userID); err != nil {
		return model.GuildQuest{}, err
	}
	if in.Title == "" {
		return model.GuildQuest{}, apperr.Validation("title", "title is required")
	}
	switch in.Kind {
	case model.GuildQuestQuantitative:
		if in.TargetCount < 1 {
			return model.GuildQuest{}, apperr.Validation("targetCount", "target must be at least 1")
		}
	case model.GuildQuestPercentual:
	default:
		return model.GuildQuest{}, apperr.Validation("kind", "kind must be quantitative or percentual")
	}
	now := s.now()
	q := model.GuildQuest{
		ID:          uuid.NewString(),
		GuildID:     guildID,
		Title:       in.Title,
		Description: in.Description,
		Kind:        in.Kind,
		Status:      model.QuestStatusActive,
		TargetCount: in.TargetCount,
		CreatedBy:   userID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Put(ctx, q.Item(), storage.NotExists(storage.AttrSK)); err != nil {
		return model.GuildQuest{}, apperr.Internal(err)
	}
	if err := s.emit(ctx, guildID, userID, ActivityQuestCreated, q.Title); err != nil {
		return model.GuildQuest{}, err
	}
	return q, nil
}

// Quests lists a guild's quests; members only.
func (s *Service) Quests(ctx context.Context, guildID, userID string) ([]model.GuildQuest, error) {
	if err := s.requireMember(ctx, guildID, userID); err != nil {
		return nil, err
	}
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Guild(guildID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixQuest},
		Forward:      true,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	quests := make([]model.GuildQuest, 0, len(out.Items))
	for _, item := range out.Items {
		quests = append(quests, model.GuildQuestFromItem(item))
	}
	return quests, nil
}

// Complete records one member's contribution to a guild quest. For
// quantitative quests the aggregate lives on the quest row and every
// completion writes through a guarded transaction, so concurrent
// contributions cannot push it past the target.
func (s *Service) Complete(ctx context.Context, guildID, questID, userID string, contribution, percent int64) (model.GuildQuestCompletion, error) {
	if err := s.requireMember(ctx, guildID, userID); err != nil {
		return model.GuildQuestCompletion{}, err
	}
	item, err := s.store.Get(ctx, keys.Guild(guildID), keys.Quest(questID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.GuildQuestCompletion{}, apperr.NotFound("guild quest")
		}
		return model.GuildQuestCompletion{}, apperr.Internal(err)
	}
	q := model.GuildQuestFromItem(item)
	if q.Status != model.QuestStatusActive {
		return model.GuildQuestCompletion{}, apperr.Conflict("InvalidTransition", "guild quest is not active")
	}

	now := s.now()
	c := model.GuildQuestCompletion{
		GuildID:      guildID,
		QuestID:      questID,
		UserID:       userID,
		Contribution: contribution,
		Percent:      percent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	switch q.Kind {
	case model.GuildQuestQuantitative:
		if contribution < 1 {
			return model.GuildQuestCompletion{}, apperr.Validation("contribution", "contribution must be at least 1")
		}
		if q.CurrentCount+contribution > q.TargetCount {
			return model.GuildQuestCompletion{}, apperr.Validation("contribution", "contribution would exceed target")
		}
		// The member's completion row accumulates; the cap condition
		// evaluates against the live counter, not the copy read above.
		err = s.store.TransactWrite(ctx, []storage.WriteOp{
			{Update: &storage.UpdateInput{
				PK: keys.Guild(guildID),
				SK: keys.Completion(questID, userID),
				Set: storage.Item{
					storage.AttrType: model.TypeCompletion,
					"guildId":        guildID,
					"questId":        questID,
					"userId":         userID,
					"percent":        int64(0),
					"createdAt":      now,
					"updatedAt":      now,
				},
				Add: map[string]int64{"contribution": contribution},
			}},
			{Update: &storage.UpdateInput{
				PK:  keys.Guild(guildID),
				SK:  keys.Quest(questID),
				Set: storage.Item{"updatedAt": now},
				Add: map[string]int64{"currentCount": contribution},
				Condition: storage.Condition{
					{Attr: "currentCount", Op: storage.OpLTE, Value: q.TargetCount - contribution},
				},
			}},
		})
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return model.GuildQuestCompletion{}, apperr.Validation("contribution", "contribution would exceed target")
			}
			return model.GuildQuestCompletion{}, apperr.Internal(err)
		}
	case model.GuildQuestPercentual:
		if percent < 0 || percent > 100 {
			return model.GuildQuestCompletion{}, apperr.Validation("percent", "percent must be 0-100")
		}
		// Latest submission wins; the mean is computed over members.
		if err := s.store.Put(ctx, c.Item(), nil); err != nil {
			return model.GuildQuestCompletion{}, apperr.Internal(err)
		}
	}

	if err := s.emit(ctx, guildID, userID, ActivityQuestCompleted, q.Title); err != nil {
		return model.GuildQuestCompletion{}, err
	}
	return c, nil
}

// QuestProgress aggregates a guild quest: sum of contributions for
// quantitative, mean of member percentages for percentual.
func (s *Service) QuestProgress(ctx context.Context, guildID, questID, userID string) (int, error) {
	if err := s.requireMember(ctx, guildID, userID); err != nil {
		return 0, err
	}
	item, err := s.store.Get(ctx, keys.Guild(guildID), keys.Quest(questID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, apperr.NotFound("guild quest")
		}
		return 0, apperr.Internal(err)
	}
	q := model.GuildQuestFromItem(item)
	completions, err := s.completions(ctx, guildID, questID)
	if err != nil {
		return 0, err
	}
	switch q.Kind {
	case model.GuildQuestQuantitative:
		var total int64
		for _, c := range completions {
			total += c.Contribution
		}
		if q.TargetCount == 0 {
			return 0, nil
		}
		p := int(100 * total / q.TargetCount)
		if p > 100 {
			p = 100
		}
		return p, nil
	default:
		if len(completions) == 0 {
			return 0, nil
		}
		var sum int64
		for _, c := range completions {
			sum += c.Percent
		}
		return int(sum / int64(len(completions))), nil
	}
}

// Feed returns the newest activities first, default limit 50.
func (s *Service) Feed(ctx context.Context, guildID, userID string, limit int, cursor string) ([]model.GuildActivity, string, error) {
	if err := s.requireMember(ctx, guildID, userID); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Guild(guildID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixActivity},
		Limit:        limit,
		Forward:      false,
		Cursor:       cursor,
	})
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	feed := make([]model.GuildActivity, 0, len(out.Items))
	for _, item := range out.Items {
		feed = append(feed, model.ActivityFromItem(item))
	}
	return feed, out.NextCursor, nil
}

// Emit appends an activity row on behalf of another service.
func (s *Service) Emit(ctx context.Context, guildID, actorID, kind, detail string) error {
	return s.emit(ctx, guildID, actorID, kind, detail)
}

func (s *Service) emit(ctx context.Context, guildID, actorID, kind, detail string) error {
	a := model.GuildActivity{
		ID:      uuid.NewString(),
		GuildID: guildID,
		ActorID: actorID,
		Kind:    kind,
		Detail:  detail,
		TS:      s.now(),
	}
	if err := s.store.Put(ctx, a.Item(), nil); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, guildID, userID string) error {
	member, err := s.IsMember(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if !member {
		return apperr.Forbidden("guild members only")
	}
	return nil
}

func (s *Service) completions(ctx context.Context, guildID, questID string) ([]model.GuildQuestCompletion, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Guild(guildID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixCompletion + questID + "#"},
		Forward:      true,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	completions := make([]model.GuildQuestCompletion, 0, len(out.Items))
	for _, item := range out.Items {
		completions = append(completions, model.CompletionFromItem(item))
	}
	return completions, nil
}
