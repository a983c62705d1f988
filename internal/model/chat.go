package model

import (
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Message scopes. Guild messages live in the guild table; room
// messages in the core table.
const (
	ScopeRoom  = "room"
	ScopeGuild = "guild"
)

// Message is immutable once written. ID is a ULID so equal timestamps
// still order deterministically.
type Message struct {
	ID       string `json:"id"`
	Scope    string `json:"scope"`
	// ChannelID is the room id or guild id depending on scope.
	ChannelID string `json:"channelId"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	TS        int64  `json:"ts"`
}

func (m Message) Item() storage.Item {
	pk := keys.Room(m.ChannelID)
	if m.Scope == ScopeGuild {
		pk = keys.Guild(m.ChannelID)
	}
	return storage.Item{
		storage.AttrPK:   pk,
		storage.AttrSK:   keys.Message(m.TS, m.ID),
		storage.AttrType: TypeMessage,
		"id":             m.ID,
		"scope":          m.Scope,
		"channelId":      m.ChannelID,
		"senderId":       m.SenderID,
		"text":           m.Text,
		"ts":             m.TS,
	}
}

func MessageFromItem(item storage.Item) Message {
	return Message{
		ID:        str(item, "id"),
		Scope:     str(item, "scope"),
		ChannelID: str(item, "channelId"),
		SenderID:  str(item, "senderId"),
		Text:      str(item, "text"),
		TS:        num(item, "ts"),
	}
}
