package bus

import (
	"context"
	"sync"
)

// Memory is the single-process bus. Publish dispatches synchronously
// in channel order; handlers must not block.
type Memory struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	next     int
	closed   bool
}

// NewMemory returns an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[string]map[int]Handler)}
}

func (m *Memory) Publish(_ context.Context, env Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}
	for _, handler := range m.handlers[env.Channel] {
		handler(env)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string, handler Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[channel] == nil {
		m.handlers[channel] = make(map[int]Handler)
	}
	id := m.next
	m.next++
	m.handlers[channel][id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[channel], id)
		if len(m.handlers[channel]) == 0 {
			delete(m.handlers, channel)
		}
	}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.handlers = make(map[string]map[int]Handler)
	return nil
}
