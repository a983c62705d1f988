package model

import (
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Quest statuses. Completed, failed and cancelled are terminal.
const (
	QuestStatusDraft     = "draft"
	QuestStatusActive    = "active"
	QuestStatusCompleted = "completed"
	QuestStatusFailed    = "failed"
	QuestStatusCancelled = "cancelled"
)

// Quest kinds.
const (
	QuestKindLinked       = "linked"
	QuestKindQuantitative = "quantitative"
)

// Quest is optimistic-locked: every mutation bumps Version under a
// version = :prev condition and appends one audit row.
type Quest struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	GuildID     string   `json:"guildId,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Kind        string   `json:"kind"`
	Status      string   `json:"status"`
	LinkedGoals []string `json:"linkedGoals,omitempty"`
	LinkedTasks []string `json:"linkedTasks,omitempty"`
	TargetCount int64    `json:"targetCount,omitempty"`
	CurrentCount int64   `json:"currentCount,omitempty"`
	Version     int64    `json:"version"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

func (q Quest) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:     keys.User(q.UserID),
		storage.AttrSK:     keys.Quest(q.ID),
		storage.AttrGSI1PK: keys.User(q.UserID),
		storage.AttrGSI1SK: keys.EntitySK(TypeQuest, q.CreatedAt),
		storage.AttrType:   TypeQuest,
		"id":               q.ID,
		"userId":           q.UserID,
		"guildId":          q.GuildID,
		"title":            q.Title,
		"description":      q.Description,
		"kind":             q.Kind,
		"status":           q.Status,
		"linkedGoals":      q.LinkedGoals,
		"linkedTasks":      q.LinkedTasks,
		"targetCount":      q.TargetCount,
		"currentCount":     q.CurrentCount,
		"version":          q.Version,
		"createdAt":        q.CreatedAt,
		"updatedAt":        q.UpdatedAt,
	}
}

func QuestFromItem(item storage.Item) Quest {
	return Quest{
		ID:           str(item, "id"),
		UserID:       str(item, "userId"),
		GuildID:      str(item, "guildId"),
		Title:        str(item, "title"),
		Description:  str(item, "description"),
		Kind:         str(item, "kind"),
		Status:       str(item, "status"),
		LinkedGoals:  strs(item, "linkedGoals"),
		LinkedTasks:  strs(item, "linkedTasks"),
		TargetCount:  num(item, "targetCount"),
		CurrentCount: num(item, "currentCount"),
		Version:      num(item, "version"),
		CreatedAt:    num(item, "createdAt"),
		UpdatedAt:    num(item, "updatedAt"),
	}
}

// QuestAudit is one state-transition record. Rows are totally ordered
// per quest by the version that produced them.
type QuestAudit struct {
	QuestID string `json:"questId"`
	Actor   string `json:"actor"`
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason,omitempty"`
	Version int64  `json:"version"`
	TS      int64  `json:"ts"`
}

func (a QuestAudit) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.Quest(a.QuestID),
		storage.AttrSK:   keys.Audit(a.TS, a.Version),
		storage.AttrType: TypeQuestAudit,
		"questId":        a.QuestID,
		"actor":          a.Actor,
		"from":           a.From,
		"to":             a.To,
		"reason":         a.Reason,
		"version":        a.Version,
		"ts":             a.TS,
	}
}

func QuestAuditFromItem(item storage.Item) QuestAudit {
	return QuestAudit{
		QuestID: str(item, "questId"),
		Actor:   str(item, "actor"),
		From:    str(item, "from"),
		To:      str(item, "to"),
		Reason:  str(item, "reason"),
		Version: num(item, "version"),
		TS:      num(item, "ts"),
	}
}
