// Package billing manages subscriptions, the credit ledger and the
// payment-gateway webhook. The subscription row is the single source of
// truth per user; credits are an append-only ledger plus a balance
// counter maintained by conditional updates.
package billing

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

// Service is the billing domain service.
type Service struct {
	store      storage.Store
	gateway    Gateway
	allowances map[string]int64
	isFounder  func(userID string) bool
	successURL string
	cancelURL  string
	now        model.Clock
	log        zerolog.Logger
}

// New builds the service. isFounder marks users holding a lifetime
// founder pass; they are pinned to GUILDMASTER regardless of gateway
// state.
func New(store storage.Store, gateway Gateway, allowances map[string]int64, isFounder func(string) bool, successURL, cancelURL string, now model.Clock, log zerolog.Logger) *Service {
	if now == nil {
		now = model.NowClock
	}
	if isFounder == nil {
		isFounder = func(string) bool { return false }
	}
	return &Service{
		store:      store,
		gateway:    gateway,
		allowances: allowances,
		isFounder:  isFounder,
		successURL: successURL,
		cancelURL:  cancelURL,
		now:        now,
		log:        log.With().Str("component", "billing").Logger(),
	}
}

// Current returns the user's subscription, materialising the implicit
// FREE row for users who never touched billing. Founder passes always
// read as active GUILDMASTER.
func (s *Service) Current(ctx context.Context, userID string) (model.Subscription, error) {
	sub, err := s.load(ctx, userID)
	if err != nil {
		return model.Subscription{}, err
	}
	if s.isFounder(userID) {
		sub.Tier = model.TierGuildmaster
		sub.Status = model.SubStatusActive
		sub.FounderPass = true
	}
	return sub, nil
}

func (s *Service) load(ctx context.Context, userID string) (model.Subscription, error) {
	item, err := s.store.Get(ctx, keys.User(userID), keys.SKSubscription)
	if errors.Is(err, storage.ErrNotFound) {
		now := s.now()
		return model.Subscription{
			UserID:    userID,
			Tier:      model.TierFree,
			Status:    model.SubStatusNone,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	if err != nil {
		return model.Subscription{}, apperr.Internal(err)
	}
	return model.SubscriptionFromItem(item), nil
}

// ensure writes the default FREE row if the user has none, so webhook
// updates always land on an existing row with full index keys.
func (s *Service) ensure(ctx context.Context, userID string) error {
	_, err := s.store.Get(ctx, keys.User(userID), keys.SKSubscription)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return apperr.Internal(err)
	}
	now := s.now()
	sub := model.Subscription{
		UserID:    userID,
		Tier:      model.TierFree,
		Status:    model.SubStatusNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.Put(ctx, sub.Item(), storage.NotExists(storage.AttrPK))
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return apperr.Internal(err)
	}
	return nil
}

// CreateCheckout opens a gateway checkout session for a paid tier and
// marks the subscription pending until the webhook confirms it.
func (s *Service) CreateCheckout(ctx context.Context, userID, tier string) (CheckoutSession, error) {
	if !ValidTier(tier) || tier == model.TierFree {
		return CheckoutSession{}, apperr.Validation("tier", "unknown tier")
	}
	if s.isFounder(userID) {
		return CheckoutSession{}, apperr.Conflict("founder_pass", "founder passes already include the top tier")
	}
	sub, err := s.load(ctx, userID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if sub.Status == model.SubStatusActive && sub.Tier == tier {
		return CheckoutSession{}, apperr.Conflict("already_subscribed", "subscription already active on this tier")
	}

	session, err := s.gateway.CreateSession(ctx, userID, tier, s.successURL, s.cancelURL)
	if err != nil {
		return CheckoutSession{}, apperr.Dependency("payment-gateway", err)
	}

	now := s.now()
	if sub.CreatedAt == 0 {
		sub.CreatedAt = now
	}
	sub.Status = model.SubStatusPending
	sub.UpdatedAt = now
	if err := s.store.Put(ctx, sub.Item(), nil); err != nil {
		return CheckoutSession{}, apperr.Internal(err)
	}
	return session, nil
}

// Cancel cancels an active subscription at the gateway and locally. The
// user keeps any remaining credit balance.
func (s *Service) Cancel(ctx context.Context, userID string) (model.Subscription, error) {
	sub, err := s.load(ctx, userID)
	if err != nil {
		return model.Subscription{}, err
	}
	if sub.Status != model.SubStatusActive && sub.Status != model.SubStatusPastDue {
		return model.Subscription{}, apperr.Conflict("not_active", "no active subscription to cancel")
	}
	if sub.GatewaySubID != "" {
		if err := s.gateway.CancelSubscription(ctx, sub.GatewaySubID); err != nil {
			return model.Subscription{}, apperr.Dependency("payment-gateway", err)
		}
	}
	sub.Status = model.SubStatusCancelled
	sub.Tier = model.TierFree
	sub.UpdatedAt = s.now()
	if err := s.store.Put(ctx, sub.Item(), nil); err != nil {
		return model.Subscription{}, apperr.Internal(err)
	}
	return sub, nil
}

// Portal returns the gateway's self-service portal URL.
func (s *Service) Portal(ctx context.Context, userID string) (string, error) {
	sub, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.GatewayCustomer == "" {
		return "", apperr.NotFound("billing profile")
	}
	u, err := s.gateway.PortalURL(ctx, sub.GatewayCustomer)
	if err != nil {
		return "", apperr.Dependency("payment-gateway", err)
	}
	return u, nil
}

// Balance returns the user's current credit balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	sub, err := s.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	return sub.Balance, nil
}

// Ledger returns credit entries newest-first.
func (s *Service) Ledger(ctx context.Context, userID string, limit int, cursor string) ([]model.CreditEntry, string, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.User(userID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixCredit},
		Limit:        limit,
		Forward:      false,
		Cursor:       cursor,
	})
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	entries := make([]model.CreditEntry, 0, len(out.Items))
	for _, item := range out.Items {
		entries = append(entries, model.CreditEntryFromItem(item))
	}
	return entries, out.NextCursor, nil
}

// Spend debits amount credits. The balance condition makes overdraw a
// conflict instead of a negative balance, whatever the interleaving.
func (s *Service) Spend(ctx context.Context, userID string, amount int64, reason string) error {
	if amount <= 0 {
		return apperr.Validation("amount", "amount must be positive")
	}
	sub, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if sub.Status == model.SubStatusNone && sub.Balance == 0 {
		return apperr.Conflict("insufficient_credits", "credit balance too low")
	}

	now := s.now()
	entry := model.CreditEntry{
		ID:     uuid.NewString(),
		UserID: userID,
		Delta:  -amount,
		Reason: reason,
		TS:     now,
	}
	err = s.store.TransactWrite(ctx, []storage.WriteOp{
		{
			Update: &storage.UpdateInput{
				PK:  keys.User(userID),
				SK:  keys.SKSubscription,
				Set: map[string]any{"updatedAt": now},
				Add: map[string]int64{"balance": -amount},
				Condition: storage.Condition{
					{Attr: "balance", Op: storage.OpGTE, Value: amount},
				},
			},
		},
		{Put: entry.Item(), Condition: storage.NotExists(storage.AttrSK)},
	})
	if errors.Is(err, storage.ErrConflict) {
		return apperr.Conflict("insufficient_credits", "credit balance too low")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Topup credits the balance directly; used by admin tooling and the
// mock gateway's dev flow. The balance moves by an additive update, so
// a webhook grant landing in between is never overwritten.
func (s *Service) Topup(ctx context.Context, userID string, amount int64, reason string) error {
	if amount <= 0 {
		return apperr.Validation("amount", "amount must be positive")
	}
	if err := s.ensure(ctx, userID); err != nil {
		return err
	}
	now := s.now()
	entry := model.CreditEntry{
		ID:     uuid.NewString(),
		UserID: userID,
		Delta:  amount,
		Reason: reason,
		TS:     now,
	}
	err := s.store.TransactWrite(ctx, []storage.WriteOp{
		{
			Update: &storage.UpdateInput{
				PK:  keys.User(userID),
				SK:  keys.SKSubscription,
				Set: map[string]any{"updatedAt": now},
				Add: map[string]int64{"balance": amount},
				Condition: storage.Condition{
					{Attr: storage.AttrPK, Op: storage.OpExists},
				},
			},
		},
		{Put: entry.Item(), Condition: storage.NotExists(storage.AttrSK)},
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}
