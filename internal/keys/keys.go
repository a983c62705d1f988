// Package keys builds every PK/SK/GSI string in the data model. Key
// patterns are load-bearing: existing rows were written with exactly
// these shapes, so nothing outside this package concatenates key
// strings.
package keys

import (
	"fmt"
	"strings"
)

// Prefixes shared across builders.
const (
	PrefixUser       = "USER#"
	PrefixProfile    = "PROFILE#"
	PrefixEmail      = "EMAIL#"
	PrefixNick       = "NICK#"
	PrefixWaitlist   = "WAITLIST#"
	PrefixGoal       = "GOAL#"
	PrefixTask       = "TASK#"
	PrefixQuest      = "QUEST#"
	PrefixAudit      = "AUDIT#"
	PrefixGuild      = "GUILD#"
	PrefixMember     = "MEMBER#"
	PrefixCompletion = "COMPLETION#"
	PrefixActivity   = "ACTIVITY#"
	PrefixResource   = "RESOURCE#"
	PrefixInvite     = "INVITE#"
	PrefixCollab     = "COLLAB#"
	PrefixComment    = "COMMENT#"
	PrefixReaction   = "REACTION#"
	PrefixRoom       = "ROOM#"
	PrefixMsg        = "MSG#"
	PrefixSubStatus  = "SUB_STATUS#"
	PrefixCredit     = "CREDIT#"
	PrefixRateLimit  = "RL#"
	PrefixWindow     = "WINDOW#"
	PrefixLogin      = "LOGIN#"
	PrefixAttempt    = "ATTEMPT#"
	PrefixEntity     = "ENTITY#"

	SKUniqueUser   = "UNIQUE#USER"
	SKSubscription = "SUBSCRIPTION"
	GSI1GuildAll   = "GUILD"
)

func User(id string) string    { return PrefixUser + id }
func Profile(id string) string { return PrefixProfile + id }

// Email lowercases before building so lookups and locks agree on case.
func Email(email string) string { return PrefixEmail + strings.ToLower(email) }

func Nick(nickname string) string  { return PrefixNick + nickname }
func Waitlist(email string) string { return PrefixWaitlist + strings.ToLower(email) }

// EntitySK is the GSI1 sort key "ENTITY#<Type>#<ts>" used for per-user
// entity timelines.
func EntitySK(entityType string, ts int64) string {
	return fmt.Sprintf("%s%s#%d", PrefixEntity, entityType, ts)
}

func Goal(goalID string) string       { return PrefixGoal + goalID }
func Task(taskID string) string       { return PrefixTask + taskID }
func Quest(questID string) string     { return PrefixQuest + questID }

// Audit sort keys order by timestamp then a per-mutation sequence, so
// two writes in the same millisecond keep their order.
func Audit(ts int64, seq int64) string {
	return fmt.Sprintf("%s%013d#%d", PrefixAudit, ts, seq)
}

func Guild(id string) string        { return PrefixGuild + id }
func Member(userID string) string   { return PrefixMember + userID }
func MemberJoined(ts int64) string  { return fmt.Sprintf("%s%013d", PrefixGuild, ts) }
func Completion(questID, userID string) string {
	return PrefixCompletion + questID + "#" + userID
}
func Activity(ts int64, activityID string) string {
	return fmt.Sprintf("%s%013d#%s", PrefixActivity, ts, activityID)
}

func Resource(resourceType, resourceID string) string {
	return PrefixResource + resourceType + "#" + resourceID
}
func Invite(inviteID string) string { return PrefixInvite + inviteID }
func InviteStatus(status string, ts int64) string {
	return fmt.Sprintf("%s%s#%d", PrefixInvite, status, ts)
}
func Collab(userID string) string { return PrefixCollab + userID }
func CollabJoined(resourceType string, ts int64) string {
	return fmt.Sprintf("%s%s#%d", PrefixCollab, resourceType, ts)
}
func Comment(ts int64, commentID string) string {
	return fmt.Sprintf("%s%013d#%s", PrefixComment, ts, commentID)
}
func CommentPK(commentID string) string { return "COMMENT#" + commentID }
func Reaction(userID, emoji string) string {
	return PrefixReaction + userID + "#" + emoji
}
func ReactionUser(userID string) string { return PrefixReaction + userID + "#" }

func Room(roomID string) string { return PrefixRoom + roomID }

// Message sort keys zero-pad the timestamp so lexicographic order is
// chronological; the ULID breaks ties.
func Message(ts int64, msgID string) string {
	return fmt.Sprintf("%s%013d#%s", PrefixMsg, ts, msgID)
}

// MessageAfter is the exclusive lower bound for history reads with an
// `after` timestamp.
func MessageAfter(ts int64) string { return fmt.Sprintf("%s%013d#~", PrefixMsg, ts) }

func SubStatus(status string) string { return PrefixSubStatus + status }
func Credit(ts int64, entryID string) string {
	return fmt.Sprintf("%s%013d#%s", PrefixCredit, ts, entryID)
}

// RateLimit builds "RL#<scope>#<key>", e.g. RL#ip#1.2.3.4.
func RateLimit(scope, key string) string { return PrefixRateLimit + scope + "#" + key }

// Window buckets by epoch minute (or any configured epoch unit).
func Window(epochUnit int64) string { return fmt.Sprintf("%s%d", PrefixWindow, epochUnit) }

func Login(key string) string { return PrefixLogin + key }

// Attempt carries a per-row id so two failures in the same millisecond
// both count.
func Attempt(ts int64, id string) string {
	return fmt.Sprintf("%s%013d#%s", PrefixAttempt, ts, id)
}
