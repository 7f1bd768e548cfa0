package redis

import (
	"context"
	"testing"
	"time"

	"kindred-chat/internal/domain/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStore_SnapshotsExpire(t *testing.T) {
	mr, client := newMiniredis(t)
	cache := NewCacheStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.SetSnapshots(ctx, []user.Snapshot{
		{ID: "u-001", DisplayName: "Alice"},
		{ID: "u-002", DisplayName: "Bob"},
	}))
	require.NoError(t, mr.Set(userSnapshotKey("u-003"), "not json"))

	got, err := cache.GetSnapshots(ctx, []string{"u-001", "u-002", "u-003", "u-404"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "Bob", got["u-002"].DisplayName)

	require.NoError(t, cache.InvalidateUser(ctx, "u-001"))
	got, err = cache.GetSnapshots(ctx, []string{"u-001"})
	require.NoError(t, err)
	assert.Empty(t, got)

	mr.FastForward(2 * time.Minute)
	got, err = cache.GetSnapshots(ctx, []string{"u-002"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPublisherReachesPatternSubscriber(t *testing.T) {
	_, client := newMiniredis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- NewSubscriber(client).Subscribe(ctx, []string{"user:*"}, func(channel string, payload []byte) {
			received <- channel + " " + string(payload)
		})
	}()

	pub := NewPublisher(client)
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumPat(ctx).Result()
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, pub.Publish(ctx, "user:u-001", []byte("hello")))

	select {
	case got := <-received:
		assert.Equal(t, "user:u-001 hello", got)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
