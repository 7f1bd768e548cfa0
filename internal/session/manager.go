// Package session owns the per-connection state of an authenticated viewer:
// directory view, change listener and lifecycle coordinator. Presence is held
// per user and shared by all of that user's sessions.
package session

import (
	"context"
	"sync"
	"time"

	"kindred-chat/internal/changefeed"
	"kindred-chat/internal/directory"
	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/message"
	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/lifecycle"
	"kindred-chat/internal/presence"
	kindred_errors "kindred-chat/pkg/errors"
	"kindred-chat/pkg/logger"

	"github.com/google/uuid"
)

// Sink receives pushes for one session. Implementations must be safe for
// concurrent use.
type Sink interface {
	Conversations(items []conversation.Summary)
	Presence(online []string)
}

type Config struct {
	Grace time.Duration
	// Heartbeat keeps tracked members fresh on channels that expire them.
	Heartbeat    time.Duration
	StoreTimeout time.Duration
	Backoff      presence.Backoff
}

type Manager struct {
	channel presence.Channel
	online  *presence.OnlineSet
	users   presence.UserStore
	loader  directory.Loader
	broker  *changefeed.Broker
	cfg     Config
	log     *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	presence map[string]*userPresence
	closed   bool
}

type userPresence struct {
	tracker *presence.Tracker
	holders int
	prune   *time.Timer
}

// NewManager wires sessions to the presence channel and the change broker.
// Zero values in cfg fall back to the presence defaults.
func NewManager(channel presence.Channel, users presence.UserStore, loader directory.Loader, broker *changefeed.Broker, cfg Config, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Grace <= 0 {
		cfg.Grace = presence.DefaultGrace
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = presence.DefaultBackoff()
	}
	return &Manager{
		channel:  channel,
		online:   presence.NewOnlineSet(),
		users:    users,
		loader:   loader,
		broker:   broker,
		cfg:      cfg,
		log:      log.Named("sessions"),
		sessions: make(map[string]*Session),
		presence: make(map[string]*userPresence),
	}
}

// Online is the process-wide online set fed by Run.
func (m *Manager) Online() *presence.OnlineSet { return m.online }

// Run observes the presence channel until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	presence.Observe(ctx, m.channel, m.online, m.cfg.Backoff, m.log)
}

// Open starts a session for identity. The connection itself counts as one
// mount, so the user shows online until the client says otherwise.
func (m *Manager) Open(ctx context.Context, identity user.Identity, sink Sink) (*Session, error) {
	if identity.ID == "" {
		return nil, kindred_errors.ErrUnauthenticated
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, kindred_errors.ErrSessionClosed
	}
	m.mu.Unlock()

	id := uuid.NewString()
	logCtx := context.WithValue(context.WithValue(context.Background(), logger.UserIdKey, identity.ID), logger.SessionIdKey, id)
	ctx = context.WithValue(ctx, logger.SessionIdKey, id)
	runCtx, cancel := context.WithCancel(logCtx)
	s := &Session{
		ID:       id,
		Identity: identity,
		manager:  m,
		sink:     sink,
		view:     directory.NewView(identity.ID, m.loader),
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      m.log.WithContext(logCtx),
	}
	s.sub = m.broker.Subscribe()
	s.listener = changefeed.NewListener(s.view, s.sub, sink.Conversations, m.cfg.StoreTimeout, m.log)
	s.lease = &lease{manager: m, identity: identity}
	s.lifecycle = lifecycle.NewCoordinator(s.lease)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	s.listener.Reload(ctx)
	s.stopWatch = m.online.Watch(sink.Presence)
	sink.Presence(m.online.Online())
	go func() {
		defer close(s.done)
		s.listener.Run(runCtx)
	}()

	s.lifecycle.Mount(ctx)
	s.log.Infof("session %s opened", s.ID)
	return s, nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

// Sessions returns the open sessions of userID.
func (m *Manager) Sessions(userID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.Identity.ID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MessageDeleted patches the tombstone into every session that shows the
// message as a preview.
func (m *Manager) MessageDeleted(_ context.Context, msg message.Message) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if s.view.PatchDeleted(msg) {
			s.sink.Conversations(s.view.Snapshot())
		}
	}
}

func (m *Manager) acquire(ctx context.Context, identity user.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.presence[identity.ID]
	if !ok {
		up = &userPresence{
			tracker: presence.NewTracker(m.channel, identity, m.users, presence.TrackerConfig{
				Grace:        m.cfg.Grace,
				Backoff:      m.cfg.Backoff,
				Heartbeat:    m.cfg.Heartbeat,
				StoreTimeout: m.cfg.StoreTimeout,
			}, m.log),
		}
		m.presence[identity.ID] = up
	}
	if up.prune != nil {
		up.prune.Stop()
		up.prune = nil
	}
	up.holders++
	if up.holders == 1 {
		up.tracker.Acquire(ctx)
	}
}

func (m *Manager) release(ctx context.Context, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.presence[userID]
	if !ok || up.holders == 0 {
		return
	}
	up.holders--
	if up.holders > 0 {
		return
	}
	up.tracker.Release(ctx)
	up.prune = time.AfterFunc(2*m.cfg.Grace, func() { m.prune(userID, up) })
}

// prune forgets a tracker that has gone offline with no holders left.
func (m *Manager) prune(userID string, up *userPresence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presence[userID] != up || up.holders > 0 {
		return
	}
	if up.tracker.State() != presence.Disconnected {
		up.prune = time.AfterFunc(m.cfg.Grace, func() { m.prune(userID, up) })
		return
	}
	delete(m.presence, userID)
	up.tracker.Close()
}

// Heartbeat re-announces userID if it is tracked.
func (m *Manager) heartbeat(ctx context.Context, userID string) error {
	m.mu.Lock()
	up, ok := m.presence[userID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return up.tracker.Heartbeat(ctx)
}

// Shutdown closes every session and tears presence down without grace.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	m.mu.Lock()
	trackers := make([]*presence.Tracker, 0, len(m.presence))
	for id, up := range m.presence {
		if up.prune != nil {
			up.prune.Stop()
		}
		trackers = append(trackers, up.tracker)
		delete(m.presence, id)
	}
	m.mu.Unlock()

	for _, t := range trackers {
		t.Close()
	}
}

// lease is one session's hold on its user's presence.
type lease struct {
	manager  *Manager
	identity user.Identity

	mu   sync.Mutex
	held bool
}

func (l *lease) Acquire(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return
	}
	l.held = true
	l.manager.acquire(ctx, l.identity)
}

func (l *lease) Release(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false
	l.manager.release(ctx, l.identity.ID)
}
