package events

import "context"

// Subscriber delivers messages published on channels matching patterns.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error
}

// Event type constants follow the format: domain.action

// Notification events delivered to a single user
const (
	EventTypeNotificationMessage = "notification.message"
)

// Aggregate type constants
const (
	AggregateTypeUser = "user"
)

const userChannelPrefix = "channel:user:"

// UserChannelPattern matches every per-user channel.
const UserChannelPattern = userChannelPrefix + "*"

// UserChannel is the pub/sub channel carrying events for one user.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// UserFromChannel returns the user id encoded in a per-user channel name.
func UserFromChannel(channel string) (string, bool) {
	if len(channel) <= len(userChannelPrefix) || channel[:len(userChannelPrefix)] != userChannelPrefix {
		return "", false
	}
	return channel[len(userChannelPrefix):], true
}
