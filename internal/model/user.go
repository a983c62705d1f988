package model

import (
	"strings"

	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// User statuses.
const (
	UserStatusPending = "email_confirmation_pending"
	UserStatusActive  = "active"
)

// User is a profile row. The nickname and email lookups ride on GSI2
// and GSI3 projections of this same row.
type User struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	Nickname          string `json:"nickname"`
	PasswordHash      string `json:"-"`
	Country           string `json:"country"`
	BirthDate         string `json:"birthDate"`
	Bio               string `json:"bio,omitempty"`
	AvatarURL         string `json:"avatarUrl,omitempty"`
	Status            string `json:"status"`
	Provider          string `json:"provider"`
	Role              string `json:"role"`
	PasswordUpdatedAt int64  `json:"passwordUpdatedAt,omitempty"`
	CreatedAt         int64  `json:"createdAt"`
	UpdatedAt         int64  `json:"updatedAt"`
}

// Item marshals the profile with all three index projections.
func (u User) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:     keys.User(u.ID),
		storage.AttrSK:     keys.Profile(u.ID),
		storage.AttrGSI1PK: keys.User(u.ID),
		storage.AttrGSI1SK: keys.EntitySK(TypeUser, u.CreatedAt),
		storage.AttrGSI2PK: keys.Nick(u.Nickname),
		storage.AttrGSI2SK: keys.Profile(u.ID),
		storage.AttrGSI3PK: keys.Email(u.Email),
		storage.AttrGSI3SK: keys.Profile(u.ID),
		storage.AttrType:   TypeUser,
		"id":               u.ID,
		"email":            strings.ToLower(u.Email),
		"nickname":         u.Nickname,
		"passwordHash":     u.PasswordHash,
		"country":          u.Country,
		"birthDate":        u.BirthDate,
		"bio":              u.Bio,
		"avatarUrl":        u.AvatarURL,
		"status":           u.Status,
		"provider":         u.Provider,
		"role":             u.Role,
		"passwordUpdatedAt": u.PasswordUpdatedAt,
		"createdAt":        u.CreatedAt,
		"updatedAt":        u.UpdatedAt,
	}
}

// UserFromItem is the inverse of Item.
func UserFromItem(item storage.Item) User {
	return User{
		ID:                str(item, "id"),
		Email:             str(item, "email"),
		Nickname:          str(item, "nickname"),
		PasswordHash:      str(item, "passwordHash"),
		Country:           str(item, "country"),
		BirthDate:         str(item, "birthDate"),
		Bio:               str(item, "bio"),
		AvatarURL:         str(item, "avatarUrl"),
		Status:            str(item, "status"),
		Provider:          str(item, "provider"),
		Role:              str(item, "role"),
		PasswordUpdatedAt: num(item, "passwordUpdatedAt"),
		CreatedAt:         num(item, "createdAt"),
		UpdatedAt:         num(item, "updatedAt"),
	}
}

// EmailLockItem is the uniqueness lock row written in the same
// transaction as the profile. It exists iff the profile exists.
func EmailLockItem(email, userID string, now int64) storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.Email(email),
		storage.AttrSK:   keys.SKUniqueUser,
		storage.AttrType: TypeEmailLock,
		"userId":         userID,
		"createdAt":      now,
	}
}

// WaitlistEntryItem records one waitlist signup.
func WaitlistEntryItem(email string, now int64) storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.Waitlist(email),
		storage.AttrSK:   keys.Waitlist(email),
		storage.AttrType: TypeWaitlist,
		"email":          strings.ToLower(email),
		"createdAt":      now,
	}
}

// LoginAttemptItem records one failed login for lockout accounting.
// expiresAt lets the store reap old attempts by TTL.
func LoginAttemptItem(key, id string, now int64, ttlSeconds int64) storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.Login(key),
		storage.AttrSK:   keys.Attempt(now, id),
		storage.AttrType: TypeLoginAttempt,
		storage.AttrTTL:  now/1000 + ttlSeconds,
		"createdAt":      now,
	}
}
