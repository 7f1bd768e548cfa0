package websocket

import (
	"context"
	"errors"

	"kindred-chat/internal/events"
	"kindred-chat/internal/notify"
	"kindred-chat/internal/presence"
	"kindred-chat/pkg/logger"
)

// RedisBridge relays notifications published on user channels by any
// process to the sockets connected here.
type RedisBridge struct {
	subscriber events.Subscriber
	hub        *Hub
	backoff    presence.Backoff
	log        *logger.Logger
}

func NewRedisBridge(subscriber events.Subscriber, hub *Hub, log *logger.Logger) *RedisBridge {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisBridge{
		subscriber: subscriber,
		hub:        hub,
		backoff:    presence.DefaultBackoff(),
		log:        log.Named("redis_bridge"),
	}
}

// Run subscribes to every user channel and resubscribes with backoff until
// ctx ends.
func (b *RedisBridge) Run(ctx context.Context) {
	bo := b.backoff.New()
	for {
		err := b.subscriber.Subscribe(ctx, []string{events.UserChannelPattern}, b.handle)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			b.log.Warnf("user channel subscription failed: %v", err)
		} else {
			bo.Reset()
		}
		if !presence.Wait(ctx, bo.NextBackOff()) {
			return
		}
	}
}

func (b *RedisBridge) handle(channel string, payload []byte) {
	userID, ok := events.UserFromChannel(channel)
	if !ok {
		return
	}
	_, n, err := notify.Decode(payload)
	if err != nil {
		b.log.Warnf("bad notification on %s: %v", channel, err)
		return
	}
	frame, err := encodeFrame(FrameNotification, n)
	if err != nil {
		return
	}
	b.hub.BroadcastToUser(userID, frame)
}
