// Package model holds the domain entities and their mapping to store
// items. Marshal populates every index projection; unmarshal tolerates
// the numeric widening different store backends produce.
package model

import (
	"time"

	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Entity type attribute values.
const (
	TypeUser            = "User"
	TypeEmailLock       = "EmailLock"
	TypeWaitlist        = "Waitlist"
	TypeGoal            = "Goal"
	TypeTask            = "Task"
	TypeQuest           = "Quest"
	TypeQuestAudit      = "QuestAudit"
	TypeGuild           = "Guild"
	TypeGuildMembership = "GuildMembership"
	TypeGuildQuest      = "GuildQuest"
	TypeCompletion      = "GuildQuestCompletion"
	TypeActivity        = "GuildActivity"
	TypeInvite          = "CollabInvite"
	TypeCollaborator    = "Collaborator"
	TypeComment         = "Comment"
	TypeReaction        = "Reaction"
	TypeMessage         = "ChatMessage"
	TypeSubscription    = "Subscription"
	TypeCreditEntry     = "CreditEntry"
	TypeLoginAttempt    = "LoginAttempt"
	TypeRateLimit       = "RateLimitBucket"
)

// Now returns the current time in epoch milliseconds, the timestamp
// unit of every entity.
func Now() int64 { return time.Now().UnixMilli() }

// Clock lets tests pin time. Services take one; NowClock is the
// production default.
type Clock func() int64

// NowClock is the wall clock.
func NowClock() int64 { return Now() }

func str(item storage.Item, attr string) string {
	s, _ := item[attr].(string)
	return s
}

// num widens int/int64/float64; store backends disagree on decode type.
func num(item storage.Item, attr string) int64 {
	switch v := item[attr].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func flt(item storage.Item, attr string) float64 {
	switch v := item[attr].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func boolean(item storage.Item, attr string) bool {
	b, _ := item[attr].(bool)
	return b
}

func strs(item storage.Item, attr string) []string {
	switch v := item[attr].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
