// Package chat persists room and guild messages and fans them out to
// subscribers through the hub.
package chat

import (
	"context"
	"crypto/rand"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Limits on one send and one history page.
const (
	MaxMessageLength   = 2000
	DefaultHistoryPage = 50
)

// MembershipChecker gates guild chat on guild membership.
type MembershipChecker func(ctx context.Context, guildID, userID string) (bool, error)

// SenderQuota is checked before every durable send, whatever transport
// carried it. A TooManyRequests error aborts the write.
type SenderQuota func(ctx context.Context, senderID string) error

// Service is the messaging domain service. Room messages live in the
// core store, guild messages in the guild store.
type Service struct {
	core      storage.Store
	guild     storage.Store
	hub       *Hub
	isMember  MembershipChecker
	sendQuota SenderQuota
	now       model.Clock
	log       zerolog.Logger
}

// New builds the service.
func New(core, guild storage.Store, hub *Hub, isMember MembershipChecker, now model.Clock, log zerolog.Logger) *Service {
	if now == nil {
		now = model.NowClock
	}
	return &Service{
		core:     core,
		guild:    guild,
		hub:      hub,
		isMember: isMember,
		now:      now,
		log:      log.With().Str("component", "chat").Logger(),
	}
}

// Hub exposes the hub for the websocket and GraphQL layers.
func (s *Service) Hub() *Hub { return s.hub }

// LimitSendsWith installs the shared per-sender quota; nil disables it.
func (s *Service) LimitSendsWith(fn SenderQuota) { s.sendQuota = fn }

// Send persists one message and publishes it. Messages are immutable
// once written. Guild scope requires membership; general rooms require
// only a valid principal, which the transport layer has already
// established.
func (s *Service) Send(ctx context.Context, scope, channelID, senderID, text string) (model.Message, error) {
	if text == "" {
		return model.Message{}, apperr.Validation("text", "text is required")
	}
	if len(text) > MaxMessageLength {
		return model.Message{}, apperr.Validation("text", "message too long")
	}
	if s.sendQuota != nil {
		if err := s.sendQuota(ctx, senderID); err != nil {
			return model.Message{}, err
		}
	}

	store := s.core
	if scope == model.ScopeGuild {
		store = s.guild
		member, err := s.isMember(ctx, channelID, senderID)
		if err != nil {
			return model.Message{}, err
		}
		if !member {
			return model.Message{}, apperr.Forbidden("guild members only")
		}
	}

	ts := s.now()
	msg := model.Message{
		ID:        ulid.MustNew(uint64(ts), rand.Reader).String(),
		Scope:     scope,
		ChannelID: channelID,
		SenderID:  senderID,
		Text:      text,
		TS:        ts,
	}
	if err := store.Put(ctx, msg.Item(), storage.NotExists(storage.AttrSK)); err != nil {
		return model.Message{}, apperr.Internal(err)
	}
	if err := s.hub.Publish(ctx, channelKey(scope, channelID), msg); err != nil {
		// The message is durable; fan-out failure only delays readers
		// until they refetch history.
		s.log.Error().Err(err).Str("channel", channelID).Msg("publish failed")
	}
	return msg, nil
}

// History returns messages newest-first with an optional exclusive
// `after` lower bound, plus a cursor for older pages.
func (s *Service) History(ctx context.Context, scope, channelID, callerID string, after int64, limit int, cursor string) ([]model.Message, string, error) {
	store := s.core
	pk := keys.Room(channelID)
	if scope == model.ScopeGuild {
		store = s.guild
		pk = keys.Guild(channelID)
		member, err := s.isMember(ctx, channelID, callerID)
		if err != nil {
			return nil, "", err
		}
		if !member {
			return nil, "", apperr.Forbidden("guild members only")
		}
	}
	if limit <= 0 {
		limit = DefaultHistoryPage
	}

	sort := &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixMsg}
	if after > 0 {
		// Bounded between keeps the range inside the MSG# prefix; the
		// guild partition holds other row kinds above it.
		sort = &storage.SortCondition{Op: storage.SortBetween, Value: keys.MessageAfter(after), Upper: keys.PrefixMsg + "~"}
	}
	out, err := store.Query(ctx, storage.QueryInput{
		PartitionKey: pk,
		Sort:         sort,
		Limit:        limit,
		Forward:      false,
		Cursor:       cursor,
	})
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	messages := make([]model.Message, 0, len(out.Items))
	for _, item := range out.Items {
		messages = append(messages, model.MessageFromItem(item))
	}
	return messages, out.NextCursor, nil
}

// Subscribe attaches a subscriber to a channel after the same
// membership gate as Send.
func (s *Service) Subscribe(ctx context.Context, scope, channelID, callerID string, closeSlow func()) (*Subscriber, func(), error) {
	if scope == model.ScopeGuild {
		member, err := s.isMember(ctx, channelID, callerID)
		if err != nil {
			return nil, nil, err
		}
		if !member {
			return nil, nil, apperr.Forbidden("guild members only")
		}
	}
	return s.hub.Subscribe(ctx, channelKey(scope, channelID), closeSlow)
}

func channelKey(scope, channelID string) string { return scope + ":" + channelID }
