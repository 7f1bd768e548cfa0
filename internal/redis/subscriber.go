package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Subscriber pattern-subscribes to pub/sub channels.
type Subscriber struct {
	client *goredis.Client
}

// NewSubscriber creates a new pattern subscriber
func NewSubscriber(client *goredis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe waits for the subscription to be confirmed, then calls handler
// for every message until ctx is cancelled or the connection fails.
func (s *Subscriber) Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error {
	ps := s.client.PSubscribe(ctx, patterns...)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %v: %w", patterns, err)
	}

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive on %v: %w", patterns, err)
		}
		handler(msg.Channel, []byte(msg.Payload))
	}
}
