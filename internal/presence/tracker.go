package presence

import (
	"context"
	"sync"
	"time"

	"kindred-chat/internal/domain/user"
	"kindred-chat/pkg/logger"

	"go.uber.org/zap"
)

// DefaultGrace is how long a released tracker waits before going offline.
const DefaultGrace = 1500 * time.Millisecond

type State int

const (
	Disconnected State = iota
	Subscribing
	Tracked
	Releasing
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Tracked:
		return "tracked"
	case Releasing:
		return "releasing"
	default:
		return "disconnected"
	}
}

// UserStore receives the best-effort presence writes.
type UserStore interface {
	UpdateOnlineStatus(ctx context.Context, userID string, isOnline bool) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

type TrackerConfig struct {
	Grace   time.Duration
	Backoff Backoff
	// Heartbeat re-tracks the member on this interval while tracked so
	// channels with a member TTL keep it. Zero disables it.
	Heartbeat    time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

// Tracker owns one session's membership of the presence channel.
//
// Acquire and Release may be called in any order and any number of times.
// Release only takes effect after the grace period, and an Acquire inside the
// grace period cancels it, so rapid release/acquire pairs never look offline.
type Tracker struct {
	channel  Channel
	identity user.Identity
	users    UserStore
	cfg      TrackerConfig
	log      *logger.Logger

	mu         sync.Mutex
	state      State
	sub        Subscription
	gen        uint64
	timer      *time.Timer
	cancelLoop context.CancelFunc
	closed     bool
}

// NewTracker returns an idle tracker for identity. Nothing is published
// until the first Acquire.
func NewTracker(channel Channel, identity user.Identity, users UserStore, cfg TrackerConfig, log *logger.Logger) *Tracker {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Tracker{
		channel:  channel,
		identity: identity,
		users:    users,
		cfg:      cfg,
		log:      log.Named("presence").With(zap.String("user_id", identity.ID)),
	}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Acquire makes the session present. Subscription happens in the background
// and is retried with backoff until it succeeds or the tracker is released.
func (t *Tracker) Acquire(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	switch t.state {
	case Tracked, Subscribing:
		return
	case Releasing:
		t.cancelGraceLocked()
		if t.sub != nil {
			t.state = Tracked
		} else {
			t.state = Subscribing
		}
		t.log.WithContext(ctx).Debugf("grace cancelled for %s", t.identity.ID)
		return
	}
	t.state = Subscribing
	t.startLoopLocked()
}

// Release arms the grace timer. When it fires the member is untracked, the
// subscription closed and last_seen persisted.
func (t *Tracker) Release(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Disconnected || t.state == Releasing {
		return
	}
	t.state = Releasing
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.cfg.Grace, func() { t.expire(gen) })
	t.log.WithContext(ctx).Debugf("releasing %s in %s", t.identity.ID, t.cfg.Grace)
}

// Heartbeat re-announces the member with a fresh timestamp.
func (t *Tracker) Heartbeat(ctx context.Context) error {
	t.mu.Lock()
	sub := t.sub
	tracked := t.state == Tracked
	t.mu.Unlock()
	if !tracked || sub == nil {
		return nil
	}
	return sub.Track(ctx, t.payload())
}

// Close tears the tracker down immediately, skipping the grace period.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	wasPresent := t.state != Disconnected
	t.cancelGraceLocked()
	sub := t.detachLocked()
	t.mu.Unlock()

	if wasPresent {
		t.teardown(sub)
	}
}

func (t *Tracker) payload() Payload {
	return Payload{
		UserID:      t.identity.ID,
		DisplayName: t.identity.DisplayName,
		Online:      true,
		Timestamp:   t.cfg.Now().UTC(),
	}
}

// cancelGraceLocked bumps the generation so a timer that already fired is ignored.
func (t *Tracker) cancelGraceLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelLoop = cancel
	go t.connect(ctx)
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.state != Releasing {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	sub := t.detachLocked()
	t.mu.Unlock()

	t.teardown(sub)
}

// detachLocked stops the connect loop while t.mu is held, so a loop that
// subscribes concurrently sees the cancellation before it installs its
// subscription.
func (t *Tracker) detachLocked() Subscription {
	t.state = Disconnected
	if t.cancelLoop != nil {
		t.cancelLoop()
		t.cancelLoop = nil
	}
	sub := t.sub
	t.sub = nil
	return sub
}

func (t *Tracker) teardown(sub Subscription) {
	ctx, done := context.WithTimeout(context.Background(), t.cfg.StoreTimeout)
	defer done()
	if sub != nil {
		if err := sub.Untrack(ctx); err != nil {
			t.log.Warnf("untrack %s: %v", t.identity.ID, err)
		}
		_ = sub.Close()
	}
	if t.users != nil {
		if err := t.users.UpdateLastSeen(ctx, t.identity.ID, t.cfg.Now()); err != nil {
			t.log.Warnf("persist last seen for %s: %v", t.identity.ID, err)
		}
	}
}

func (t *Tracker) connect(ctx context.Context) {
	bo := t.cfg.Backoff.New()
	for attempt := 0; ; attempt++ {
		sub, err := t.subscribe(ctx)
		if err == nil {
			t.mu.Lock()
			if ctx.Err() != nil {
				t.mu.Unlock()
				_ = sub.Close()
				return
			}
			t.sub = sub
			if t.state == Subscribing {
				t.state = Tracked
			}
			t.mu.Unlock()

			t.markOnline(ctx)
			t.watch(ctx, sub)
			return
		}

		delay := bo.NextBackOff()
		t.log.Warnf("presence subscribe for %s failed (attempt %d), retrying in %s: %v",
			t.identity.ID, attempt+1, delay, err)
		if !Wait(ctx, delay) {
			return
		}
	}
}

func (t *Tracker) subscribe(ctx context.Context) (Subscription, error) {
	sub, err := t.channel.Subscribe(ctx, t.identity.ID, nil)
	if err != nil {
		return nil, err
	}
	if err := sub.Track(ctx, t.payload()); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

func (t *Tracker) markOnline(ctx context.Context) {
	if t.users == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, t.cfg.StoreTimeout)
	defer cancel()
	if err := t.users.UpdateOnlineStatus(storeCtx, t.identity.ID, true); err != nil {
		t.log.Debugf("online status for %s: %v", t.identity.ID, err)
	}
}

// watch heartbeats a live subscription and resubscribes when the transport
// drops it.
func (t *Tracker) watch(ctx context.Context, sub Subscription) {
	if !t.heartbeatUntilDone(ctx, sub) {
		return
	}

	t.mu.Lock()
	if ctx.Err() != nil || t.sub != sub {
		t.mu.Unlock()
		return
	}
	t.sub = nil
	if t.state == Tracked {
		t.state = Subscribing
	}
	t.mu.Unlock()

	t.log.Infof("presence subscription for %s dropped, resubscribing", t.identity.ID)
	t.connect(ctx)
}

// heartbeatUntilDone returns true when sub dropped and false when ctx ended.
func (t *Tracker) heartbeatUntilDone(ctx context.Context, sub Subscription) bool {
	var tick <-chan time.Time
	if t.cfg.Heartbeat > 0 {
		ticker := time.NewTicker(t.cfg.Heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-sub.Done():
			return true
		case <-tick:
			if err := t.Heartbeat(ctx); err != nil {
				t.log.Debugf("heartbeat for %s: %v", t.identity.ID, err)
			}
		}
	}
}
