package websocket

import (
	"context"

	"kindred-chat/internal/notify"
)

// LocalNotifier delivers notifications straight to this process's sockets.
// Used when no Redis is configured.
type LocalNotifier struct {
	hub *Hub
}

func NewLocalNotifier(hub *Hub) *LocalNotifier {
	return &LocalNotifier{hub: hub}
}

func (n *LocalNotifier) Notify(_ context.Context, userID string, notification notify.Notification) error {
	payload, err := encodeFrame(FrameNotification, notification)
	if err != nil {
		return err
	}
	n.hub.BroadcastToUser(userID, payload)
	return nil
}

var _ notify.Notifier = (*LocalNotifier)(nil)
