// Package notify delivers fire-and-forget notifications to users.
package notify

//go:generate mockgen -source=notifier.go -destination=mocks/mock_notifier.go -package=mocks

import (
	"context"
	"fmt"

	"kindred-chat/internal/events"
)

const TypeMessage = "message"

// Notification is what the recipient's devices render.
type Notification struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisNotifier publishes notifications on the recipient's user channel,
// where every process's websocket bridge picks them up.
type RedisNotifier struct {
	publisher Publisher
}

func NewRedisNotifier(publisher Publisher) *RedisNotifier {
	return &RedisNotifier{publisher: publisher}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID string, notification Notification) error {
	data, err := Encode(userID, notification)
	if err != nil {
		return err
	}
	if err := n.publisher.Publish(ctx, events.UserChannel(userID), data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Encode wraps a notification in the event envelope used on user channels.
func Encode(userID string, notification Notification) ([]byte, error) {
	env, err := events.NewEnvelope(events.EventTypeNotificationMessage, events.AggregateTypeUser, userID, notification)
	if err != nil {
		return nil, err
	}
	return marshal(env)
}
