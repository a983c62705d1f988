package bus

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATS rides on core NATS subjects. A single publisher's messages on
// one subject arrive in order; that is the room-ordering contract.
type NATS struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewNATS builds a NATS bus over an existing connection.
func NewNATS(conn *nats.Conn, prefix string, log zerolog.Logger) *NATS {
	return &NATS{conn: conn, prefix: prefix, log: log.With().Str("component", "nats-bus").Logger()}
}

func (n *NATS) subject(channel string) string { return n.prefix + ".chat." + channel }

func (n *NATS) Publish(_ context.Context, env Envelope) error {
	raw, err := Encode(env)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject(env.Channel), raw)
}

func (n *NATS) Subscribe(_ context.Context, channel string, handler Handler) (func(), error) {
	sub, err := n.conn.Subscribe(n.subject(channel), func(msg *nats.Msg) {
		env, err := Decode(msg.Data)
		if err != nil {
			n.log.Error().Err(err).Str("channel", channel).Msg("bad bus payload")
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}
