// Package bus is the chat fan-out transport. One process can use the
// in-memory bus; horizontal deployments pick redis or nats, both of
// which preserve per-channel ordering from a single publisher.
package bus

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/guildhall-dev/guildhall/internal/model"
)

// Envelope is one published message. Delivery is at-least-once;
// subscribers dedupe on Message.ID.
type Envelope struct {
	Channel string        `msgpack:"channel"`
	Message model.Message `msgpack:"message"`
}

// Handler consumes one envelope. Returning does not ack anything; the
// bus has no redelivery of its own.
type Handler func(Envelope)

// Bus publishes envelopes and feeds subscribed handlers.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers handler for every envelope on channel and
	// returns an unsubscribe func.
	Subscribe(ctx context.Context, channel string, handler Handler) (func(), error)
	Close() error
}

// Encode and Decode are shared by the redis and nats transports.
func Encode(env Envelope) ([]byte, error) { return msgpack.Marshal(env) }
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	err := msgpack.Unmarshal(raw, &env)
	return env, err
}
