// Package ratelimit persists sliding-window counters in the store so
// every handler instance shares them. No in-memory aggregation.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Scopes distinguish counter families in the key space.
const (
	ScopeIP   = "ip"
	ScopeUser = "user"
)

// Policy is one endpoint's quota.
type Policy struct {
	Scope  string
	Name   string
	Limit  int
	Window time.Duration
	// BestEffort lets the check fail open when the store is only
	// transiently down. Everything else fails closed.
	BestEffort bool
}

// Limiter gates endpoints against store-backed windows.
type Limiter struct {
	store storage.Store
	now   model.Clock
	log   zerolog.Logger
}

// New builds a Limiter over the core store.
func New(store storage.Store, now model.Clock, log zerolog.Logger) *Limiter {
	if now == nil {
		now = model.NowClock
	}
	return &Limiter{store: store, now: now, log: log.With().Str("component", "ratelimit").Logger()}
}

// Allow increments the caller's window counter and rejects with
// TooManyRequests once the window is over its limit. The increment is
// unconditional; the decision reads the updated count, so concurrent
// callers cannot sneak under the limit.
func (l *Limiter) Allow(ctx context.Context, p Policy, key string) error {
	nowMs := l.now()
	windowUnit := nowMs / p.Window.Milliseconds()
	pk := keys.RateLimit(p.Name, key)
	sk := keys.Window(windowUnit)

	updated, err := l.store.Update(ctx, storage.UpdateInput{
		PK: pk,
		SK: sk,
		Set: storage.Item{
			storage.AttrType: model.TypeRateLimit,
			// TTL one full window past the bucket's own, so clock skew
			// between handlers cannot reap a live bucket.
			storage.AttrTTL: (windowUnit+2)*p.Window.Milliseconds()/1000 + 1,
		},
		Add: map[string]int64{"count": 1},
	})
	if err != nil {
		if errors.Is(err, storage.ErrTransient) && p.BestEffort {
			l.log.Warn().Str("policy", p.Name).Msg("store transient failure, failing open")
			return nil
		}
		return apperr.Dependency("rate limit store", err)
	}

	count, _ := updated["count"].(int64)
	if f, ok := updated["count"].(float64); ok {
		count = int64(f)
	}
	if count > int64(p.Limit) {
		retryAfter := time.Duration((windowUnit+1)*p.Window.Milliseconds()-nowMs) * time.Millisecond
		return apperr.TooManyRequests(retryAfter)
	}
	return nil
}

// RecordLoginFailure appends one attempt row for the lockout counter.
// Attempts expire by TTL.
func (l *Limiter) RecordLoginFailure(ctx context.Context, key string) error {
	item := model.LoginAttemptItem(key, uuid.NewString(), l.now(), int64((15 * time.Minute).Seconds()))
	return l.store.Put(ctx, item, nil)
}

// LoginLocked reports whether key accumulated threshold consecutive
// failures within window.
func (l *Limiter) LoginLocked(ctx context.Context, key string, threshold int, window time.Duration) (bool, error) {
	since := l.now() - window.Milliseconds()
	out, err := l.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Login(key),
		Sort:         &storage.SortCondition{Op: storage.SortGT, Value: keys.Attempt(since, "~")},
		Limit:        threshold,
	})
	if err != nil {
		return false, apperr.Dependency("rate limit store", err)
	}
	return len(out.Items) >= threshold, nil
}

// ClearLoginFailures removes the attempt rows after a successful
// login, restoring the consecutive-failure semantics.
func (l *Limiter) ClearLoginFailures(ctx context.Context, key string) error {
	out, err := l.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Login(key),
		Limit:        50,
	})
	if err != nil {
		return err
	}
	for _, item := range out.Items {
		sk, _ := item[storage.AttrSK].(string)
		if err := l.store.Delete(ctx, keys.Login(key), sk, nil); err != nil {
			return err
		}
	}
	return nil
}
