package model

import (
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Invite statuses.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusDeclined = "declined"
)

// Invite carries a 30-day TTL; accepting past expiry is Gone.
type Invite struct {
	ID           string `json:"id"`
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	InviterID    string `json:"inviterId"`
	InviteeID    string `json:"inviteeId"`
	Status       string `json:"status"`
	ExpiresAt    int64  `json:"expiresAt"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

func (i Invite) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:     keys.Resource(i.ResourceType, i.ResourceID),
		storage.AttrSK:     keys.Invite(i.ID),
		storage.AttrGSI1PK: keys.User(i.InviteeID),
		storage.AttrGSI1SK: keys.InviteStatus(i.Status, i.CreatedAt),
		storage.AttrType:   TypeInvite,
		storage.AttrTTL:    i.ExpiresAt / 1000,
		"id":               i.ID,
		"resourceType":     i.ResourceType,
		"resourceId":       i.ResourceID,
		"inviterId":        i.InviterID,
		"inviteeId":        i.InviteeID,
		"status":           i.Status,
		"inviteExpiresAt":  i.ExpiresAt,
		"createdAt":        i.CreatedAt,
		"updatedAt":        i.UpdatedAt,
	}
}

func InviteFromItem(item storage.Item) Invite {
	return Invite{
		ID:           str(item, "id"),
		ResourceType: str(item, "resourceType"),
		ResourceID:   str(item, "resourceId"),
		InviterID:    str(item, "inviterId"),
		InviteeID:    str(item, "inviteeId"),
		Status:       str(item, "status"),
		ExpiresAt:    num(item, "inviteExpiresAt"),
		CreatedAt:    num(item, "createdAt"),
		UpdatedAt:    num(item, "updatedAt"),
	}
}

// Collaborator links a user to a resource after an accepted invite.
type Collaborator struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	UserID       string `json:"userId"`
	Role         string `json:"role"`
	JoinedAt     int64  `json:"joinedAt"`
}

func (c Collaborator) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:     keys.Resource(c.ResourceType, c.ResourceID),
		storage.AttrSK:     keys.Collab(c.UserID),
		storage.AttrGSI1PK: keys.User(c.UserID),
		storage.AttrGSI1SK: keys.CollabJoined(c.ResourceType, c.JoinedAt),
		storage.AttrType:   TypeCollaborator,
		"resourceType":     c.ResourceType,
		"resourceId":       c.ResourceID,
		"userId":           c.UserID,
		"role":             c.Role,
		"joinedAt":         c.JoinedAt,
	}
}

func CollaboratorFromItem(item storage.Item) Collaborator {
	return Collaborator{
		ResourceType: str(item, "resourceType"),
		ResourceID:   str(item, "resourceId"),
		UserID:       str(item, "userId"),
		Role:         str(item, "role"),
		JoinedAt:     num(item, "joinedAt"),
	}
}

// Comment is immutable in author, mutable in body. Mentions are
// extracted at write time.
type Comment struct {
	ID           string   `json:"id"`
	ResourceType string   `json:"resourceType"`
	ResourceID   string   `json:"resourceId"`
	AuthorID     string   `json:"authorId"`
	Body         string   `json:"body"`
	Mentions     []string `json:"mentions,omitempty"`
	CreatedAt    int64    `json:"createdAt"`
	UpdatedAt    int64    `json:"updatedAt"`
}

func (c Comment) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.Resource(c.ResourceType, c.ResourceID),
		storage.AttrSK:   keys.Comment(c.CreatedAt, c.ID),
		storage.AttrType: TypeComment,
		"id":             c.ID,
		"resourceType":   c.ResourceType,
		"resourceId":     c.ResourceID,
		"authorId":       c.AuthorID,
		"body":           c.Body,
		"mentions":       c.Mentions,
		"createdAt":      c.CreatedAt,
		"updatedAt":      c.UpdatedAt,
	}
}

func CommentFromItem(item storage.Item) Comment {
	return Comment{
		ID:           str(item, "id"),
		ResourceType: str(item, "resourceType"),
		ResourceID:   str(item, "resourceId"),
		AuthorID:     str(item, "authorId"),
		Body:         str(item, "body"),
		Mentions:     strs(item, "mentions"),
		CreatedAt:    num(item, "createdAt"),
		UpdatedAt:    num(item, "updatedAt"),
	}
}

// Reaction rows are idempotent on (commentId, userId, emoji).
type Reaction struct {
	CommentID string `json:"commentId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	CreatedAt int64  `json:"createdAt"`
}

func (r Reaction) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.CommentPK(r.CommentID),
		storage.AttrSK:   keys.Reaction(r.UserID, r.Emoji),
		storage.AttrType: TypeReaction,
		"commentId":      r.CommentID,
		"userId":         r.UserID,
		"emoji":          r.Emoji,
		"createdAt":      r.CreatedAt,
	}
}

func ReactionFromItem(item storage.Item) Reaction {
	return Reaction{
		CommentID: str(item, "commentId"),
		UserID:    str(item, "userId"),
		Emoji:     str(item, "emoji"),
		CreatedAt: num(item, "createdAt"),
	}
}
