package model

import (
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Goal statuses.
const (
	GoalStatusActive    = "active"
	GoalStatusCompleted = "completed"
	GoalStatusArchived  = "archived"
)

// Task statuses.
const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"
)

// Goal belongs to one user; tasks hang off it in their own partition.
type Goal struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Deadline    int64  `json:"deadline,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func (g Goal) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:     keys.User(g.UserID),
		storage.AttrSK:     keys.Goal(g.ID),
		storage.AttrGSI1PK: keys.User(g.UserID),
		storage.AttrGSI1SK: keys.EntitySK(TypeGoal, g.CreatedAt),
		storage.AttrType:   TypeGoal,
		"id":               g.ID,
		"userId":           g.UserID,
		"title":            g.Title,
		"description":      g.Description,
		"status":           g.Status,
		"deadline":         g.Deadline,
		"createdAt":        g.CreatedAt,
		"updatedAt":        g.UpdatedAt,
	}
}

func GoalFromItem(item storage.Item) Goal {
	return Goal{
		ID:          str(item, "id"),
		UserID:      str(item, "userId"),
		Title:       str(item, "title"),
		Description: str(item, "description"),
		Status:      str(item, "status"),
		Deadline:    num(item, "deadline"),
		CreatedAt:   num(item, "createdAt"),
		UpdatedAt:   num(item, "updatedAt"),
	}
}

// Task lives under PK GOAL#<goalId>.
type Task struct {
	ID        string `json:"id"`
	GoalID    string `json:"goalId"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (t Task) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.Goal(t.GoalID),
		storage.AttrSK:   keys.Task(t.ID),
		storage.AttrType: TypeTask,
		"id":             t.ID,
		"goalId":         t.GoalID,
		"userId":         t.UserID,
		"title":          t.Title,
		"status":         t.Status,
		"createdAt":      t.CreatedAt,
		"updatedAt":      t.UpdatedAt,
	}
}

func TaskFromItem(item storage.Item) Task {
	return Task{
		ID:        str(item, "id"),
		GoalID:    str(item, "goalId"),
		UserID:    str(item, "userId"),
		Title:     str(item, "title"),
		Status:    str(item, "status"),
		CreatedAt: num(item, "createdAt"),
		UpdatedAt: num(item, "updatedAt"),
	}
}
