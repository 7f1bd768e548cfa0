package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"kindred-chat/internal/presence"
	kindred_errors "kindred-chat/pkg/errors"
	"kindred-chat/pkg/logger"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Redis key layout for presence:
// - presence:members:{user_id} - hash of connection id -> payload, expires without heartbeats
// - presence:index             - sorted set of member user ids scored by last heartbeat
// - presence:events            - pub/sub channel carrying join/leave events
const (
	presenceMembersPrefix = "presence:members:"
	presenceIndexKey      = "presence:index"
	presenceEventsChannel = "presence:events"
)

const (
	DefaultPresenceTTL  = 90 * time.Second
	DefaultPresenceSync = 30 * time.Second
)

func presenceMembersKey(userID string) string {
	return presenceMembersPrefix + userID
}

// trackScript stores the payload and publishes a join if the key was not yet
// a member. KEYS: members hash, index, events. ARGV: conn id, payload, ttl ms,
// score, user id, join event.
var trackScript = goredis.NewScript(`
	local existed = redis.call('EXISTS', KEYS[1])
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
	if existed == 0 then
		redis.call('PUBLISH', KEYS[3], ARGV[6])
	end
	return existed
`)

// untrackScript removes the connection and publishes a leave when it was the
// key's last one. KEYS: members hash, index, events. ARGV: conn id, user id,
// leave event.
var untrackScript = goredis.NewScript(`
	local removed = redis.call('HDEL', KEYS[1], ARGV[1])
	if removed == 1 and redis.call('HLEN', KEYS[1]) == 0 then
		redis.call('ZREM', KEYS[2], ARGV[2])
		redis.call('PUBLISH', KEYS[3], ARGV[3])
		return 1
	end
	return 0
`)

// PresenceChannel implements presence.Channel across processes. Members live
// in Redis hashes with a heartbeat TTL, join and leave travel over pub/sub and
// a periodic sync repairs anything a crashed process left behind.
type PresenceChannel struct {
	client    *goredis.Client
	ttl       time.Duration
	syncEvery time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	subs    map[*presenceSubscription]struct{}
	orphans []orphan
	started bool
}

// orphan is a connection entry left in Redis by a dropped subscription.
type orphan struct {
	key     string
	connID  string
	payload presence.Payload
}

// NewPresenceChannel creates a presence channel backed by a sorted set.
// Members not refreshed within ttl are dropped on the next sync, which runs
// every syncEvery. Call Start before subscribing.
func NewPresenceChannel(client *goredis.Client, ttl, syncEvery time.Duration, log *logger.Logger) *PresenceChannel {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	if syncEvery <= 0 {
		syncEvery = DefaultPresenceSync
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PresenceChannel{
		client:    client,
		ttl:       ttl,
		syncEvery: syncEvery,
		log:       log.Named("redis-presence"),
		subs:      make(map[*presenceSubscription]struct{}),
	}
}

// Start subscribes to the events channel and runs the receive and sync loops
// until ctx ends.
func (c *PresenceChannel) Start(ctx context.Context) error {
	ps := c.client.Subscribe(ctx, presenceEventsChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("presence events subscribe: %w", err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	go c.receive(ctx, ps)
	go c.syncLoop(ctx)
	return nil
}

func (c *PresenceChannel) receive(ctx context.Context, ps *goredis.PubSub) {
	defer ps.Close()
	bo := presence.DefaultBackoff().New()
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.dropAll()
				return
			}
			// go-redis reconnects on the next receive; local subscribers
			// resubscribe so they re-track and get a fresh sync.
			c.log.Warnf("presence events receive failed: %v", err)
			c.dropAll()
			if !presence.Wait(ctx, bo.NextBackOff()) {
				return
			}
			c.cleanupOrphans(ctx)
			continue
		}
		bo.Reset()

		var event presence.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			c.log.Warnf("presence event decode: %v", err)
			continue
		}
		c.dispatch(event)
	}
}

func (c *PresenceChannel) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(c.syncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanupOrphans(ctx)
			members, err := c.members(ctx)
			if err != nil {
				c.log.Warnf("presence sync: %v", err)
				continue
			}
			c.dispatch(presence.Event{Type: presence.EventSync, Members: members})
		}
	}
}

func (c *PresenceChannel) dispatch(event presence.Event) {
	c.mu.Lock()
	handlers := make([]presence.Handler, 0, len(c.subs))
	for s := range c.subs {
		if s.handler != nil {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *PresenceChannel) dropAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		s.mu.Lock()
		if s.tracked != nil {
			c.orphans = append(c.orphans, orphan{key: s.key, connID: s.connID, payload: *s.tracked})
			s.tracked = nil
		}
		s.closeLocked()
		s.mu.Unlock()
	}
	c.subs = make(map[*presenceSubscription]struct{})
}

// cleanupOrphans removes entries of dropped subscriptions once Redis is
// reachable again, so they cannot keep a member alive.
func (c *PresenceChannel) cleanupOrphans(ctx context.Context) {
	c.mu.Lock()
	pending := c.orphans
	c.orphans = nil
	c.mu.Unlock()

	var failed []orphan
	for _, o := range pending {
		if err := c.untrack(ctx, o.key, o.connID, o.payload); err != nil {
			failed = append(failed, o)
		}
	}
	if len(failed) > 0 {
		c.mu.Lock()
		c.orphans = append(c.orphans, failed...)
		c.mu.Unlock()
	}
}

func (c *PresenceChannel) untrack(ctx context.Context, key, connID string, last presence.Payload) error {
	last.Online = false
	leave, err := json.Marshal(presence.Event{Type: presence.EventLeave, Members: []presence.Payload{last}})
	if err != nil {
		return err
	}
	err = untrackScript.Run(ctx, c.client,
		[]string{presenceMembersKey(key), presenceIndexKey, presenceEventsChannel},
		connID, key, leave,
	).Err()
	if err != nil {
		return fmt.Errorf("presence untrack: %v: %w", err, kindred_errors.ErrNetworkFailure)
	}
	return nil
}

// members reads every live member, pruning index entries whose hash expired.
func (c *PresenceChannel) members(ctx context.Context) ([]presence.Payload, error) {
	ids, err := c.client.ZRange(ctx, presenceIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []presence.Payload{}, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, presenceMembersKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, err
	}

	members := make([]presence.Payload, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		latest, ok := latestPayload(cmd.Val())
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		latest.UserID = ids[i]
		members = append(members, latest)
	}
	if len(stale) > 0 {
		if err := c.client.ZRem(ctx, presenceIndexKey, stale...).Err(); err != nil {
			c.log.Debugf("prune presence index: %v", err)
		}
	}
	presence.SortMembers(members)
	return members, nil
}

// latestPayload picks the most recently announced payload among a member's
// connections.
func latestPayload(conns map[string]string) (presence.Payload, bool) {
	var (
		latest presence.Payload
		found  bool
	)
	for _, raw := range conns {
		var p presence.Payload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		if !found || p.Timestamp.After(latest.Timestamp) {
			latest, found = p, true
		}
	}
	return latest, found
}

func (c *PresenceChannel) Subscribe(ctx context.Context, key string, handler presence.Handler) (presence.Subscription, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil, kindred_errors.ErrChannelNotStarted
	}

	s := &presenceSubscription{
		channel: c,
		key:     key,
		connID:  uuid.NewString(),
		handler: handler,
		done:    make(chan struct{}),
	}
	if handler != nil {
		members, err := c.members(ctx)
		if err != nil {
			return nil, fmt.Errorf("presence subscribe: %v: %w", err, kindred_errors.ErrNetworkFailure)
		}
		handler(presence.Event{Type: presence.EventSync, Members: members})
	}

	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

type presenceSubscription struct {
	channel *PresenceChannel
	key     string
	connID  string
	handler presence.Handler

	mu      sync.Mutex
	tracked *presence.Payload
	closed  bool
	done    chan struct{}
}

func (s *presenceSubscription) Track(ctx context.Context, payload presence.Payload) error {
	if s.key == "" {
		return presence.ErrObserverCannotTrack
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kindred_errors.ErrSessionClosed
	}
	s.mu.Unlock()

	payload.UserID = s.key
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	join, err := json.Marshal(presence.Event{Type: presence.EventJoin, Members: []presence.Payload{payload}})
	if err != nil {
		return err
	}

	c := s.channel
	err = trackScript.Run(ctx, c.client,
		[]string{presenceMembersKey(s.key), presenceIndexKey, presenceEventsChannel},
		s.connID, data, c.ttl.Milliseconds(), payload.Timestamp.Unix(), s.key, join,
	).Err()
	if err != nil {
		return fmt.Errorf("presence track: %v: %w", err, kindred_errors.ErrNetworkFailure)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.mu.Lock()
		c.orphans = append(c.orphans, orphan{key: s.key, connID: s.connID, payload: payload})
		c.mu.Unlock()
		return kindred_errors.ErrSessionClosed
	}
	s.tracked = &payload
	s.mu.Unlock()
	return nil
}

func (s *presenceSubscription) Untrack(ctx context.Context) error {
	s.mu.Lock()
	tracked := s.tracked
	s.tracked = nil
	s.mu.Unlock()
	if tracked == nil {
		return nil
	}

	return s.channel.untrack(ctx, s.key, s.connID, *tracked)
}

func (s *presenceSubscription) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Untrack(ctx)

	c := s.channel
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()

	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	return err
}

// closeLocked closes done once. The caller holds s.mu.
func (s *presenceSubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *presenceSubscription) Done() <-chan struct{} {
	return s.done
}
