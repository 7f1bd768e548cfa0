package redis

import (
	"context"
	"fmt"

	kindred_errors "kindred-chat/pkg/errors"

	goredis "github.com/redis/go-redis/v9"
)

// Publisher fires payloads on pub/sub channels. Nobody listening is not an
// error; notifications are best effort.
type Publisher struct {
	client *goredis.Client
}

// NewPublisher creates a new event publisher
func NewPublisher(client *goredis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", kindred_errors.ErrNetworkFailure, channel, err)
	}
	return nil
}
