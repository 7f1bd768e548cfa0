package notify_test

import (
	"context"
	"errors"
	"testing"

	"kindred-chat/internal/events"
	"kindred-chat/internal/notify"
	"kindred-chat/internal/notify/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRedisNotifier_PublishesOnUserChannel(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)

	var published []byte
	publisher.EXPECT().
		Publish(gomock.Any(), "channel:user:u-002", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, payload []byte) error {
			published = payload
			return nil
		})

	n := notify.NewRedisNotifier(publisher)
	err := n.Notify(context.Background(), "u-002", notify.Notification{
		Type:  notify.TypeMessage,
		ID:    "m-1",
		Title: "Alice",
		Body:  "Hello",
	})
	require.NoError(t, err)

	env, got, err := notify.Decode(published)
	require.NoError(t, err)
	assert.Equal(t, events.EventTypeNotificationMessage, env.EventType)
	assert.Equal(t, "u-002", env.AggregateID)
	assert.Equal(t, "Hello", got.Body)
}

func TestRedisNotifier_WrapsPublishError(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	boom := errors.New("connection refused")
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(boom)

	err := notify.NewRedisNotifier(publisher).Notify(context.Background(), "u-002", notify.Notification{})
	assert.ErrorIs(t, err, boom)
}
