package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"kindred-chat/internal/domain/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	online   map[string]bool
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{lastSeen: map[string]time.Time{}, online: map[string]bool{}}
}

func (f *fakeUsers) UpdateOnlineStatus(_ context.Context, userID string, isOnline bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = isOnline
	return nil
}

func (f *fakeUsers) UpdateLastSeen(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen[userID] = at
	f.online[userID] = false
	return nil
}

func (f *fakeUsers) seen(userID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.lastSeen[userID]
	return at, ok
}

// offlineRecorder notes every time userID disappears from the set.
type offlineRecorder struct {
	mu    sync.Mutex
	count int
}

func watchOffline(set *OnlineSet, userID string) *offlineRecorder {
	rec := &offlineRecorder{}
	wasOnline := set.IsOnline(userID)
	set.Watch(func(online []string) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		now := false
		for _, id := range online {
			if id == userID {
				now = true
			}
		}
		if wasOnline && !now {
			rec.count++
		}
		wasOnline = now
	})
	return rec
}

func (r *offlineRecorder) offlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func startObserver(t *testing.T, ch Channel) *OnlineSet {
	t.Helper()
	set := NewOnlineSet()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Observe(ctx, ch, set, Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}, nil)
	return set
}

func fastTracker(ch Channel, id string, users UserStore, grace time.Duration) *Tracker {
	return NewTracker(ch, user.Identity{ID: id, DisplayName: "Alice"}, users, TrackerConfig{
		Grace:   grace,
		Backoff: Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}, nil)
}

func TestOnlineSet_SyncJoinLeave(t *testing.T) {
	set := NewOnlineSet()
	var calls int
	stop := set.Watch(func([]string) { calls++ })

	set.Apply(Event{Type: EventSync, Members: []Payload{{UserID: "u-002"}, {UserID: "u-001"}}})
	assert.Equal(t, []string{"u-001", "u-002"}, set.Online())

	set.Apply(Event{Type: EventJoin, Members: []Payload{{UserID: "u-003"}}})
	set.Apply(Event{Type: EventJoin, Members: []Payload{{UserID: "u-003"}}})
	assert.True(t, set.IsOnline("u-003"))

	set.Apply(Event{Type: EventLeave, Members: []Payload{{UserID: "u-001"}}})
	assert.False(t, set.IsOnline("u-001"))

	set.Apply(Event{Type: EventSync, Members: []Payload{{UserID: "u-009"}}})
	assert.Equal(t, []string{"u-009"}, set.Online())
	assert.Equal(t, 4, calls)

	stop()
	set.Apply(Event{Type: EventJoin, Members: []Payload{{UserID: "u-010"}}})
	assert.Equal(t, 4, calls)
}

func TestMemoryChannel_MembershipAcrossSubscriptions(t *testing.T) {
	ch := NewMemoryChannel()
	ctx := context.Background()
	var events []Event
	observer, err := ch.Subscribe(ctx, "", func(e Event) { events = append(events, e) })
	require.NoError(t, err)
	defer observer.Close()

	a1, err := ch.Subscribe(ctx, "u-001", nil)
	require.NoError(t, err)
	a2, err := ch.Subscribe(ctx, "u-001", nil)
	require.NoError(t, err)

	require.NoError(t, a1.Track(ctx, Payload{Online: true}))
	require.NoError(t, a2.Track(ctx, Payload{Online: true}))
	require.NoError(t, a1.Close())
	require.NoError(t, a2.Untrack(ctx))

	require.Len(t, events, 3)
	assert.Equal(t, EventSync, events[0].Type)
	assert.Equal(t, EventJoin, events[1].Type)
	assert.Equal(t, "u-001", events[1].Members[0].UserID)
	assert.Equal(t, EventLeave, events[2].Type)

	assert.ErrorIs(t, observer.Track(ctx, Payload{}), ErrObserverCannotTrack)
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	bo := Backoff{Base: 250 * time.Millisecond, Max: time.Second}.New()
	assert.Equal(t, 250*time.Millisecond, bo.NextBackOff())
	assert.Equal(t, 500*time.Millisecond, bo.NextBackOff())
	assert.Equal(t, time.Second, bo.NextBackOff())
	for i := 0; i < 50; i++ {
		assert.Equal(t, time.Second, bo.NextBackOff())
	}

	bo.Reset()
	assert.Equal(t, 250*time.Millisecond, bo.NextBackOff())
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	bo := DefaultBackoff().New()
	d := bo.NextBackOff()
	assert.GreaterOrEqual(t, d, DefaultBackoffBase/2)
	assert.LessOrEqual(t, d, DefaultBackoffBase*3/2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Wait(ctx, time.Hour))
	assert.True(t, Wait(context.Background(), time.Millisecond))
}

func TestTracker_RemountInsideGraceNeverGoesOffline(t *testing.T) {
	ch := NewMemoryChannel()
	set := startObserver(t, ch)
	users := newFakeUsers()
	tr := fastTracker(ch, "u-001", users, 200*time.Millisecond)
	defer tr.Close()

	ctx := context.Background()
	tr.Acquire(ctx)
	require.Eventually(t, func() bool { return set.IsOnline("u-001") }, time.Second, 5*time.Millisecond)
	rec := watchOffline(set, "u-001")

	tr.Release(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, set.IsOnline("u-001"))
	tr.Acquire(ctx)

	time.Sleep(300 * time.Millisecond)
	assert.True(t, set.IsOnline("u-001"))
	assert.Equal(t, Tracked, tr.State())
	assert.Zero(t, rec.offlineCount())
	_, persisted := users.seen("u-001")
	assert.False(t, persisted)
}

func TestTracker_ExpiryPersistsLastSeen(t *testing.T) {
	ch := NewMemoryChannel()
	set := startObserver(t, ch)
	users := newFakeUsers()
	tr := fastTracker(ch, "u-001", users, 30*time.Millisecond)

	ctx := context.Background()
	tr.Acquire(ctx)
	require.Eventually(t, func() bool { return set.IsOnline("u-001") }, time.Second, 5*time.Millisecond)

	tr.Release(ctx)
	require.Eventually(t, func() bool { return !set.IsOnline("u-001") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := users.seen("u-001")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Disconnected, tr.State())
}

func TestTracker_SecondSessionKeepsUserOnline(t *testing.T) {
	ch := NewMemoryChannel()
	set := startObserver(t, ch)
	ctx := context.Background()

	first := fastTracker(ch, "u-001", nil, 20*time.Millisecond)
	second := fastTracker(ch, "u-001", nil, 20*time.Millisecond)
	defer second.Close()

	first.Acquire(ctx)
	require.Eventually(t, func() bool { return set.IsOnline("u-001") }, time.Second, 5*time.Millisecond)
	rec := watchOffline(set, "u-001")

	second.Acquire(ctx)
	require.Eventually(t, func() bool { return second.State() == Tracked }, time.Second, 5*time.Millisecond)
	first.Release(ctx)
	require.Eventually(t, func() bool { return first.State() == Disconnected }, time.Second, 5*time.Millisecond)

	assert.True(t, set.IsOnline("u-001"))
	assert.Zero(t, rec.offlineCount())
}

func TestTracker_RetriesFailedSubscribe(t *testing.T) {
	ch := NewMemoryChannel()
	set := startObserver(t, ch)
	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.subs) == 1
	}, time.Second, time.Millisecond)

	ch.FailNext(3)
	tr := fastTracker(ch, "u-001", nil, time.Second)
	defer tr.Close()
	tr.Acquire(context.Background())

	require.Eventually(t, func() bool { return set.IsOnline("u-001") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Tracked, tr.State())
}

func TestTracker_ResubscribesAfterDrop(t *testing.T) {
	ch := NewMemoryChannel()
	set := startObserver(t, ch)
	tr := fastTracker(ch, "u-001", nil, time.Second)
	defer tr.Close()

	tr.Acquire(context.Background())
	require.Eventually(t, func() bool { return set.IsOnline("u-001") }, time.Second, 5*time.Millisecond)

	ch.Drop()

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.isMemberLocked("u-001")
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return set.IsOnline("u-001") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Tracked, tr.State())
}

func TestTracker_HeartbeatRetracks(t *testing.T) {
	ch := NewMemoryChannel()
	set := startObserver(t, ch)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tr := NewTracker(ch, user.Identity{ID: "u-001", DisplayName: "Alice"}, nil, TrackerConfig{
		Grace: time.Second,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return clock
		},
	}, nil)
	defer tr.Close()

	tr.Acquire(context.Background())
	require.Eventually(t, func() bool { return tr.State() == Tracked }, time.Second, 5*time.Millisecond)

	mu.Lock()
	clock = clock.Add(time.Minute)
	mu.Unlock()
	require.NoError(t, tr.Heartbeat(context.Background()))

	ch.mu.Lock()
	members := ch.membersLocked()
	ch.mu.Unlock()
	require.Len(t, members, 1)
	assert.Equal(t, clock, members[0].Timestamp)
	assert.True(t, set.IsOnline("u-001"))
}

// trackCounter counts Track calls made through its subscriptions.
type trackCounter struct {
	Channel
	mu     sync.Mutex
	tracks int
}

func (c *trackCounter) Subscribe(ctx context.Context, key string, handler Handler) (Subscription, error) {
	sub, err := c.Channel.Subscribe(ctx, key, handler)
	if err != nil {
		return nil, err
	}
	return &countedSub{Subscription: sub, c: c}, nil
}

func (c *trackCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks
}

type countedSub struct {
	Subscription
	c *trackCounter
}

func (s *countedSub) Track(ctx context.Context, p Payload) error {
	s.c.mu.Lock()
	s.c.tracks++
	s.c.mu.Unlock()
	return s.Subscription.Track(ctx, p)
}

func TestTracker_HeartbeatsWhileTracked(t *testing.T) {
	ch := &trackCounter{Channel: NewMemoryChannel()}
	tr := NewTracker(ch, user.Identity{ID: "u-001", DisplayName: "Alice"}, nil, TrackerConfig{
		Grace:     50 * time.Millisecond,
		Backoff:   Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
		Heartbeat: 10 * time.Millisecond,
	}, nil)
	defer tr.Close()

	tr.Acquire(context.Background())
	require.Eventually(t, func() bool { return ch.count() >= 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Tracked, tr.State())

	tr.Release(context.Background())
	require.Eventually(t, func() bool { return tr.State() == Disconnected }, time.Second, 5*time.Millisecond)
	after := ch.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ch.count())
}
