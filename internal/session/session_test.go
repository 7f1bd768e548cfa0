package session

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"kindred-chat/internal/changefeed"
	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/message"
	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/lifecycle"
	"kindred-chat/internal/presence"
	"kindred-chat/internal/repository"
	"kindred-chat/internal/services"
	kindred_errors "kindred-chat/pkg/errors"
	"kindred-chat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu       sync.Mutex
	lists    [][]conversation.Summary
	presence [][]string
}

func (r *recordingSink) Conversations(items []conversation.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, items)
}

func (r *recordingSink) Presence(online []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = append(r.presence, online)
}

func (r *recordingSink) lastList() []conversation.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lists) == 0 {
		return nil
	}
	return r.lists[len(r.lists)-1]
}

type harness struct {
	store   *repository.MemoryStore
	convs   *services.ConversationService
	msgs    *services.MessageService
	manager *Manager
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	broker := changefeed.NewBroker(32)
	store := repository.NewMemoryStore(broker.Publish)
	dir := services.NewUserDirectory(store.Users(), nil, nil)
	for id, name := range map[string]string{"u-001": "Alice", "u-002": "Bob"} {
		require.NoError(t, dir.EnsureUser(context.Background(), user.Identity{ID: id, DisplayName: name}))
	}
	convs := services.NewConversationService(store.Conversations(), dir, nil)
	msgs := services.NewMessageService(store.Conversations(), store.Messages(), dir, nil, nil)

	m := NewManager(presence.NewMemoryChannel(), store.Users(), convs, broker, Config{
		Grace:   grace,
		Backoff: presence.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}, nil)
	msgs.AddObserver(m)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		m.Shutdown()
		cancel()
	})
	return &harness{store: store, convs: convs, msgs: msgs, manager: m}
}

func (h *harness) open(t *testing.T, id, name string) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	s, err := h.manager.Open(context.Background(), user.Identity{ID: id, DisplayName: name}, sink)
	require.NoError(t, err)
	return s, sink
}

func (h *harness) online(id string) bool {
	return h.manager.Online().IsOnline(id)
}

func TestOpen_RequiresIdentity(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	_, err := h.manager.Open(context.Background(), user.Identity{}, &recordingSink{})
	assert.ErrorIs(t, err, kindred_errors.ErrUnauthenticated)
}

func TestOpen_PushesListAndPresence(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	ctx := context.Background()
	_, err := h.convs.GetOrCreateConversation(ctx, "u-001", "u-002")
	require.NoError(t, err)

	s, sink := h.open(t, "u-001", "Alice")
	require.Len(t, s.Conversations(), 1)
	require.Len(t, sink.lastList(), 1)
	assert.Equal(t, "Bob", sink.lastList()[0].Other.DisplayName)

	require.Eventually(t, func() bool { return h.online("u-001") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.presence) > 0 && slices.Contains(sink.presence[len(sink.presence)-1], "u-001")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.manager.Count())
}

func TestSession_ReceivesMessagesFromFeed(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	ctx := context.Background()
	d, err := h.convs.GetOrCreateConversation(ctx, "u-001", "u-002")
	require.NoError(t, err)
	_, sink := h.open(t, "u-001", "Alice")

	_, err = h.msgs.SendMessage(ctx, services.SendMessageInput{ConversationID: d.Conversation.ID, SenderID: "u-002", Body: "Hi there"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		items := sink.lastList()
		return len(items) == 1 && items[0].LastMessage != nil && items[0].UnreadCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSession_ReconnectInsideGraceKeepsUserOnline(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond)
	first, _ := h.open(t, "u-001", "Alice")
	require.Eventually(t, func() bool { return h.online("u-001") }, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	offline := 0
	stop := h.manager.Online().Watch(func(ids []string) {
		if !slices.Contains(ids, "u-001") {
			mu.Lock()
			offline++
			mu.Unlock()
		}
	})
	defer stop()

	first.Close()
	time.Sleep(30 * time.Millisecond)
	h.open(t, "u-001", "Alice")
	time.Sleep(250 * time.Millisecond)

	assert.True(t, h.online("u-001"))
	mu.Lock()
	assert.Zero(t, offline)
	mu.Unlock()
	u, err := h.store.Users().GetUserByID(context.Background(), "u-001")
	require.NoError(t, err)
	assert.False(t, u.LastSeen.Valid)
}

func TestSession_CloseExpiresAndPersistsLastSeen(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond)
	s, _ := h.open(t, "u-001", "Alice")
	require.Eventually(t, func() bool { return h.online("u-001") }, time.Second, 5*time.Millisecond)

	s.Close()
	assert.True(t, h.online("u-001"))
	require.Eventually(t, func() bool { return !h.online("u-001") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		u, err := h.store.Users().GetUserByID(context.Background(), "u-001")
		return err == nil && u.LastSeen.Valid
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.manager.Count())
}

func TestSession_SecondDeviceHoldsPresence(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond)
	phone, _ := h.open(t, "u-001", "Alice")
	laptop, _ := h.open(t, "u-001", "Alice")
	require.Eventually(t, func() bool { return h.online("u-001") }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.manager.Sessions("u-001"), 2)

	phone.SetAppState(context.Background(), lifecycle.Background)
	time.Sleep(120 * time.Millisecond)
	assert.True(t, h.online("u-001"))

	laptop.Unmount(context.Background())
	require.Eventually(t, func() bool { return !h.online("u-001") }, time.Second, 5*time.Millisecond)

	phone.SetAppState(context.Background(), lifecycle.Foreground)
	require.Eventually(t, func() bool { return h.online("u-001") }, time.Second, 5*time.Millisecond)
}

func TestManager_MessageDeletedPatchesSessions(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	ctx := context.Background()
	d, err := h.convs.GetOrCreateConversation(ctx, "u-001", "u-002")
	require.NoError(t, err)
	m, err := h.msgs.SendMessage(ctx, services.SendMessageInput{ConversationID: d.Conversation.ID, SenderID: "u-001", Body: "oops"})
	require.NoError(t, err)

	_, sink := h.open(t, "u-002", "Bob")
	require.Equal(t, "oops", sink.lastList()[0].LastMessage.Body)

	_, err = h.msgs.DeleteMessage(ctx, m.ID, "u-001")
	require.NoError(t, err)
	items := sink.lastList()
	require.Len(t, items, 1)
	assert.Equal(t, message.Tombstone, items[0].LastMessage.Body)
	assert.Zero(t, items[0].UnreadCount)
}

func TestManager_ShutdownRejectsNewSessions(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.open(t, "u-001", "Alice")
	h.manager.Shutdown()
	assert.Zero(t, h.manager.Count())

	_, err := h.manager.Open(context.Background(), user.Identity{ID: "u-002"}, &recordingSink{})
	assert.ErrorIs(t, err, kindred_errors.ErrSessionClosed)
}

func TestOpen_SessionLogsCarrySessionID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	broker := changefeed.NewBroker(8)
	store := repository.NewMemoryStore(broker.Publish)
	dir := services.NewUserDirectory(store.Users(), nil, nil)
	convs := services.NewConversationService(store.Conversations(), dir, nil)
	m := NewManager(presence.NewMemoryChannel(), store.Users(), convs, broker, Config{
		Grace:   20 * time.Millisecond,
		Backoff: presence.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}, &logger.Logger{Logger: zap.New(core)})
	defer m.Shutdown()

	s, err := m.Open(context.Background(), user.Identity{ID: "u-001", DisplayName: "Alice"}, &recordingSink{})
	require.NoError(t, err)

	opened := logs.FilterMessageSnippet("opened").All()
	require.Len(t, opened, 1)
	fields := opened[0].ContextMap()
	assert.Equal(t, s.ID, fields["session_id"])
	assert.Equal(t, "u-001", fields["user_id"])
}
