package model

import (
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Guild quest kinds. Quantitative aggregates member contributions
// against a target; percentual averages member completion percentages.
const (
	GuildQuestQuantitative = "quantitative"
	GuildQuestPercentual   = "percentual"
)

// Guild is listed publicly via the GSI1 "GUILD" partition.
type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"ownerId"`
	MemberCount int64  `json:"memberCount"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func (g Guild) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:     keys.Guild(g.ID),
		storage.AttrSK:     keys.Guild(g.ID),
		storage.AttrGSI1PK: keys.GSI1GuildAll,
		storage.AttrGSI1SK: keys.Guild(g.ID),
		storage.AttrType:   TypeGuild,
		"id":               g.ID,
		"name":             g.Name,
		"description":      g.Description,
		"ownerId":          g.OwnerID,
		"memberCount":      g.MemberCount,
		"createdAt":        g.CreatedAt,
		"updatedAt":        g.UpdatedAt,
	}
}

func GuildFromItem(item storage.Item) Guild {
	return Guild{
		ID:          str(item, "id"),
		Name:        str(item, "name"),
		Description: str(item, "description"),
		OwnerID:     str(item, "ownerId"),
		MemberCount: num(item, "memberCount"),
		CreatedAt:   num(item, "createdAt"),
		UpdatedAt:   num(item, "updatedAt"),
	}
}

// GuildMembership projects onto GSI1 as USER#<id> / GUILD#<joinedAt>
// so one query lists a user's guilds.
type GuildMembership struct {
	GuildID  string `json:"guildId"`
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	JoinedAt int64  `json:"joinedAt"`
}

func (m GuildMembership) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:     keys.Guild(m.GuildID),
		storage.AttrSK:     keys.Member(m.UserID),
		storage.AttrGSI1PK: keys.User(m.UserID),
		storage.AttrGSI1SK: keys.MemberJoined(m.JoinedAt),
		storage.AttrType:   TypeGuildMembership,
		"guildId":          m.GuildID,
		"userId":           m.UserID,
		"role":             m.Role,
		"joinedAt":         m.JoinedAt,
	}
}

func GuildMembershipFromItem(item storage.Item) GuildMembership {
	return GuildMembership{
		GuildID:  str(item, "guildId"),
		UserID:   str(item, "userId"),
		Role:     str(item, "role"),
		JoinedAt: num(item, "joinedAt"),
	}
}

// GuildQuest is a guild-scoped quest; per-member progress lives in
// completion rows, not on this row.
type GuildQuest struct {
	ID          string `json:"id"`
	GuildID     string `json:"guildId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	TargetCount int64  `json:"targetCount,omitempty"`
	// CurrentCount is the running contribution aggregate for
	// quantitative quests, maintained transactionally with each
	// completion write.
	CurrentCount int64  `json:"currentCount,omitempty"`
	CreatedBy    string `json:"createdBy"`
	Version      int64  `json:"version"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

func (q GuildQuest) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.Guild(q.GuildID),
		storage.AttrSK:   keys.Quest(q.ID),
		storage.AttrType: TypeGuildQuest,
		"id":             q.ID,
		"guildId":        q.GuildID,
		"title":          q.Title,
		"description":    q.Description,
		"kind":           q.Kind,
		"status":         q.Status,
		"targetCount":    q.TargetCount,
		"currentCount":   q.CurrentCount,
		"createdBy":      q.CreatedBy,
		"version":        q.Version,
		"createdAt":      q.CreatedAt,
		"updatedAt":      q.UpdatedAt,
	}
}

func GuildQuestFromItem(item storage.Item) GuildQuest {
	return GuildQuest{
		ID:           str(item, "id"),
		GuildID:      str(item, "guildId"),
		Title:        str(item, "title"),
		Description:  str(item, "description"),
		Kind:         str(item, "kind"),
		Status:       str(item, "status"),
		TargetCount:  num(item, "targetCount"),
		CurrentCount: num(item, "currentCount"),
		CreatedBy:    str(item, "createdBy"),
		Version:      num(item, "version"),
		CreatedAt:    num(item, "createdAt"),
		UpdatedAt:    num(item, "updatedAt"),
	}
}

// GuildQuestCompletion is one member's contribution to a guild quest.
type GuildQuestCompletion struct {
	GuildID      string `json:"guildId"`
	QuestID      string `json:"questId"`
	UserID       string `json:"userId"`
	Contribution int64  `json:"contribution"`
	// Percent is the member's completion percentage for percentual
	// quests.
	Percent   int64 `json:"percent"`
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

func (c GuildQuestCompletion) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.Guild(c.GuildID),
		storage.AttrSK:   keys.Completion(c.QuestID, c.UserID),
		storage.AttrType: TypeCompletion,
		"guildId":        c.GuildID,
		"questId":        c.QuestID,
		"userId":         c.UserID,
		"contribution":   c.Contribution,
		"percent":        c.Percent,
		"createdAt":      c.CreatedAt,
		"updatedAt":      c.UpdatedAt,
	}
}

func CompletionFromItem(item storage.Item) GuildQuestCompletion {
	return GuildQuestCompletion{
		GuildID:      str(item, "guildId"),
		QuestID:      str(item, "questId"),
		UserID:       str(item, "userId"),
		Contribution: num(item, "contribution"),
		Percent:      num(item, "percent"),
		CreatedAt:    num(item, "createdAt"),
		UpdatedAt:    num(item, "updatedAt"),
	}
}

// GuildActivity is one feed entry, newest read first.
type GuildActivity struct {
	ID      string `json:"id"`
	GuildID string `json:"guildId"`
	ActorID string `json:"actorId"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail,omitempty"`
	TS      int64  `json:"ts"`
}

func (a GuildActivity) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.Guild(a.GuildID),
		storage.AttrSK:   keys.Activity(a.TS, a.ID),
		storage.AttrType: TypeActivity,
		"id":             a.ID,
		"guildId":        a.GuildID,
		"actorId":        a.ActorID,
		"kind":           a.Kind,
		"detail":         a.Detail,
		"ts":             a.TS,
	}
}

func ActivityFromItem(item storage.Item) GuildActivity {
	return GuildActivity{
		ID:      str(item, "id"),
		GuildID: str(item, "guildId"),
		ActorID: str(item, "actorId"),
		Kind:    str(item, "kind"),
		Detail:  str(item, "detail"),
		TS:      num(item, "ts"),
	}
}
