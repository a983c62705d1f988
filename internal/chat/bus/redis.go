package bus

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Redis rides on redis pub/sub. Redis delivers channel messages to
// each subscriber in publish order, which covers the per-room ordering
// contract.
type Redis struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewRedis builds a Redis bus over an existing client.
func NewRedis(client *redis.Client, prefix string, log zerolog.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, log: log.With().Str("component", "redis-bus").Logger()}
}

func (r *Redis) topic(channel string) string { return r.prefix + ":chat:" + channel }

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	raw, err := Encode(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.topic(env.Channel), raw).Err()
}

func (r *Redis) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	sub := r.client.Subscribe(ctx, r.topic(channel))
	// Receive forces the SUBSCRIBE round-trip so a publish immediately
	// after Subscribe returns is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	go func() {
		for msg := range sub.Channel() {
			env, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.log.Error().Err(err).Str("channel", channel).Msg("bad bus payload")
				continue
			}
			handler(env)
		}
	}()
	return func() { _ = sub.Close() }, nil
}

func (r *Redis) Close() error { return r.client.Close() }
