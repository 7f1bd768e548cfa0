package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kindred-chat/internal/domain/user"

	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - user:{user_id}:snapshot - participant snapshot shown next to conversations

const DefaultUserTTL = 5 * time.Minute

// CacheStore handles caching in Redis
type CacheStore struct {
	client  *goredis.Client
	userTTL time.Duration
}

// NewCacheStore creates a new cache store
func NewCacheStore(client *goredis.Client, userTTL time.Duration) *CacheStore {
	if userTTL <= 0 {
		userTTL = DefaultUserTTL
	}
	return &CacheStore{client: client, userTTL: userTTL}
}

func userSnapshotKey(userID string) string {
	return fmt.Sprintf("user:%s:snapshot", userID)
}

// GetSnapshots returns the cached snapshots for ids. Misses are simply absent
// from the result.
func (c *CacheStore) GetSnapshots(ctx context.Context, ids []string) (map[string]user.Snapshot, error) {
	result := make(map[string]user.Snapshot, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userSnapshotKey(id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var snap user.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			continue
		}
		result[ids[i]] = snap
	}
	return result, nil
}

// SetSnapshots caches snapshots with the configured TTL.
func (c *CacheStore) SetSnapshots(ctx context.Context, snapshots []user.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		pipe.Set(ctx, userSnapshotKey(snap.ID), data, c.userTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateUser removes a user's cached snapshot
func (c *CacheStore) InvalidateUser(ctx context.Context, userID string) error {
	return c.client.Del(ctx, userSnapshotKey(userID)).Err()
}
