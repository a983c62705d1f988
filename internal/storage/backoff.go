package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Backoff retries fn while it reports ErrThrottled, sleeping
// base*2^attempt plus full jitter, capped at max. Other errors and
// context cancellation end the loop immediately.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
	// OnRetry runs before each throttling retry, e.g. to bump a counter.
	OnRetry func()
}

// DefaultBackoff matches the store's throttling guidance.
var DefaultBackoff = Backoff{Base: 50 * time.Millisecond, Max: 2 * time.Second, Attempts: 5}

// Do runs fn with retries on throttling.
func (b Backoff) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= b.Attempts; attempt++ {
		if err = fn(); !errors.Is(err, ErrThrottled) {
			return err
		}
		if b.OnRetry != nil {
			b.OnRetry()
		}
		delay := b.Base << attempt
		if delay > b.Max {
			delay = b.Max
		}
		// Full jitter keeps stampedes apart.
		delay = time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
