package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-dev/guildhall/internal/chat/bus"
	"github.com/guildhall-dev/guildhall/internal/model"
)

func TestSlowConsumerIsDroppedOnce(t *testing.T) {
	h := NewHub(bus.NewMemory(), zerolog.Nop())
	ctx := context.Background()

	drops := 0
	slow, cancelSlow, err := h.Subscribe(ctx, "room:r1", func() { drops++ })
	require.NoError(t, err)
	defer cancelSlow()

	fast, cancelFast, err := h.Subscribe(ctx, "room:r1", func() { t.Fatal("fast consumer dropped") })
	require.NoError(t, err)
	defer cancelFast()

	// Overflow the slow subscriber's buffer while draining the fast one.
	for i := 0; i <= SendBuffer+1; i++ {
		require.NoError(t, h.Publish(ctx, "room:r1", model.Message{ID: "m", TS: int64(i)}))
		<-fast.C
	}

	assert.Equal(t, 1, drops)
	assert.Len(t, slow.C, SendBuffer)
}

func TestRoomsAreIsolated(t *testing.T) {
	h := NewHub(bus.NewMemory(), zerolog.Nop())
	ctx := context.Background()

	a, cancelA, err := h.Subscribe(ctx, "room:a", nil)
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := h.Subscribe(ctx, "room:b", nil)
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, h.Publish(ctx, "room:a", model.Message{ID: "m1"}))

	assert.Len(t, a.C, 1)
	assert.Len(t, b.C, 0)
}

// gatedBus parks Subscribe callers on a gate so a test can line two
// first subscribers up on the same channel.
type gatedBus struct {
	gate chan struct{}

	mu       sync.Mutex
	nextID   int
	handlers map[int]bus.Handler
}

func newGatedBus() *gatedBus {
	return &gatedBus{gate: make(chan struct{}), handlers: map[int]bus.Handler{}}
}

func (b *gatedBus) Publish(_ context.Context, env bus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.handlers {
		h(env)
	}
	return nil
}

func (b *gatedBus) Subscribe(_ context.Context, _ string, handler bus.Handler) (func(), error) {
	<-b.gate
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}, nil
}

func (b *gatedBus) Close() error { return nil }

func (b *gatedBus) active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func TestConcurrentFirstSubscribersShareOneBusSubscription(t *testing.T) {
	b := newGatedBus()
	h := NewHub(b, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	subs := make([]*Subscriber, 2)
	cancels := make([]func(), 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, cancel, err := h.Subscribe(ctx, "room:r1", nil)
			assert.NoError(t, err)
			subs[i], cancels[i] = sub, cancel
		}(i)
	}
	// Both goroutines are parked inside bus.Subscribe; release them
	// together and let the install race resolve.
	close(b.gate)
	wg.Wait()
	defer cancels[0]()
	defer cancels[1]()

	assert.Equal(t, 1, b.active())

	// One publish, one delivery per subscriber.
	require.NoError(t, h.Publish(ctx, "room:r1", model.Message{ID: "m1"}))
	assert.Len(t, subs[0].C, 1)
	assert.Len(t, subs[1].C, 1)
}

func TestLastUnsubscribeDetachesBus(t *testing.T) {
	b := bus.NewMemory()
	h := NewHub(b, zerolog.Nop())
	ctx := context.Background()

	sub, cancel, err := h.Subscribe(ctx, "room:r1", nil)
	require.NoError(t, err)
	cancel()

	require.NoError(t, b.Publish(ctx, bus.Envelope{Channel: "room:r1", Message: model.Message{ID: "m1"}}))
	assert.Len(t, sub.C, 0)
}
