package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/chat/bus"
	"github.com/guildhall-dev/guildhall/internal/model"
)

// SendBuffer is each subscriber's outgoing queue. A subscriber whose
// queue overflows is dropped as a slow consumer.
const SendBuffer = 64

// ReasonSlowConsumer is the drop reason passed to CloseSlow.
const ReasonSlowConsumer = "slow_consumer"

// Subscriber receives a room's messages. CloseSlow is called at most
// once, off the publish path, when the subscriber's buffer overflows.
type Subscriber struct {
	C chan model.Message

	closeSlow func()
	once      sync.Once
}

func (s *Subscriber) dropSlow() {
	s.once.Do(func() {
		if s.closeSlow != nil {
			s.closeSlow()
		}
	})
}

// Hub owns the per-room subscriber sets and is the only writer to the
// publish channels. It bridges the process-local subscribers to the
// shared bus.
type Hub struct {
	bus       bus.Bus
	publishes interface{ Inc() }
	log       zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	subscribers map[*Subscriber]struct{}
	unsubscribe func()
}

// NewHub builds a hub over the given bus.
func NewHub(b bus.Bus, log zerolog.Logger) *Hub {
	return &Hub{
		bus:   b,
		log:   log.With().Str("component", "chat-hub").Logger(),
		rooms: make(map[string]*room),
	}
}

// Subscribe attaches a subscriber to channel. closeSlow is invoked if
// the subscriber cannot keep up; the caller should close its
// connection with ReasonSlowConsumer.
func (h *Hub) Subscribe(ctx context.Context, channel string, closeSlow func()) (*Subscriber, func(), error) {
	sub := &Subscriber{C: make(chan model.Message, SendBuffer), closeSlow: closeSlow}

	h.mu.Lock()
	r, ok := h.rooms[channel]
	if !ok {
		r = &room{subscribers: make(map[*Subscriber]struct{})}
		h.rooms[channel] = r
	}
	r.subscribers[sub] = struct{}{}
	needBusSub := r.unsubscribe == nil
	h.mu.Unlock()

	if needBusSub {
		unsub, err := h.bus.Subscribe(ctx, channel, func(env bus.Envelope) {
			h.deliver(env.Channel, env.Message)
		})
		if err != nil {
			h.remove(channel, sub)
			return nil, nil, err
		}
		// Two first subscribers can race here; only one bus
		// subscription may survive, or rooms double-deliver.
		h.mu.Lock()
		r, ok := h.rooms[channel]
		if !ok || r.unsubscribe != nil {
			h.mu.Unlock()
			unsub()
		} else {
			r.unsubscribe = unsub
			h.mu.Unlock()
		}
	}

	cancel := func() { h.remove(channel, sub) }
	return sub, cancel, nil
}

// CountPublishes bumps c on every Publish; nil disables counting.
func (h *Hub) CountPublishes(c interface{ Inc() }) { h.publishes = c }

// Publish sends one message through the bus; connected subscribers on
// every instance receive it via deliver.
func (h *Hub) Publish(ctx context.Context, channel string, msg model.Message) error {
	if h.publishes != nil {
		h.publishes.Inc()
	}
	return h.bus.Publish(ctx, bus.Envelope{Channel: channel, Message: msg})
}

func (h *Hub) deliver(channel string, msg model.Message) {
	h.mu.Lock()
	r, ok := h.rooms[channel]
	if !ok {
		h.mu.Unlock()
		return
	}
	var slow []*Subscriber
	for sub := range r.subscribers {
		select {
		case sub.C <- msg:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range slow {
		h.log.Warn().Str("channel", channel).Msg("dropping slow consumer")
		sub.dropSlow()
	}
}

func (h *Hub) remove(channel string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[channel]
	if !ok {
		return
	}
	delete(r.subscribers, sub)
	if len(r.subscribers) == 0 {
		if r.unsubscribe != nil {
			r.unsubscribe()
		}
		delete(h.rooms, channel)
	}
}
