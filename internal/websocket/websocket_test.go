package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"kindred-chat/internal/changefeed"
	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/events"
	"kindred-chat/internal/notify"
	"kindred-chat/internal/presence"
	"kindred-chat/internal/repository"
	"kindred-chat/internal/services"
	"kindred-chat/internal/session"
	"kindred-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type socketEnv struct {
	server  *httptest.Server
	hub     *Hub
	convs   *services.ConversationService
	msgs    *services.MessageService
	manager *session.Manager
}

func newSocketEnv(t *testing.T) *socketEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broker := changefeed.NewBroker(32)
	store := repository.NewMemoryStore(broker.Publish)
	dir := services.NewUserDirectory(store.Users(), nil, nil)
	for id, name := range map[string]string{"u-001": "Alice", "u-002": "Bob"} {
		require.NoError(t, dir.EnsureUser(context.Background(), user.Identity{ID: id, DisplayName: name}))
	}
	convs := services.NewConversationService(store.Conversations(), dir, nil)

	hub := NewHub()
	msgs := services.NewMessageService(store.Conversations(), store.Messages(), dir, NewLocalNotifier(hub), nil)
	manager := session.NewManager(presence.NewMemoryChannel(), store.Users(), convs, broker, session.Config{
		Grace:   20 * time.Millisecond,
		Backoff: presence.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}, nil)
	msgs.AddObserver(manager)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)

	h := NewHandler(manager, dir, hub, manager.Online().IsOnline, nil)
	router := gin.New()
	router.GET("/v1/ws", func(c *gin.Context) {
		if id := c.Query("user"); id != "" {
			c.Request = c.Request.WithContext(services.WithIdentity(c.Request.Context(), user.Identity{ID: id}))
		}
		c.Next()
	}, h.Connect)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
		manager.Shutdown()
		msgs.Wait()
		cancel()
	})
	return &socketEnv{server: srv, hub: hub, convs: convs, msgs: msgs, manager: manager}
}

func (e *socketEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/v1/ws?user=" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil skips frames until one of frameType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame received
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == frameType {
			return frame
		}
	}
}

func TestConnect_RequiresIdentity(t *testing.T) {
	env := newSocketEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnect_PushesDirectoryAndPresence(t *testing.T) {
	env := newSocketEnv(t)
	ctx := context.Background()
	_, err := env.convs.GetOrCreateConversation(ctx, "u-001", "u-002")
	require.NoError(t, err)

	conn := env.dial(t, "u-001")

	frame := readUntil(t, conn, FrameConversations)
	var list struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &list))
	require.Len(t, list.Items, 1)

	require.Eventually(t, func() bool {
		return env.manager.Online().IsOnline("u-001")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnect_NewMessageUpdatesDirectoryAndNotifies(t *testing.T) {
	env := newSocketEnv(t)
	ctx := context.Background()
	detail, err := env.convs.GetOrCreateConversation(ctx, "u-001", "u-002")
	require.NoError(t, err)

	bob := env.dial(t, "u-002")
	readUntil(t, bob, FrameConversations)
	require.Eventually(t, func() bool { return env.hub.GetUserClientCount("u-002") == 1 }, time.Second, 5*time.Millisecond)

	_, err = env.msgs.SendMessage(ctx, services.SendMessageInput{
		ConversationID: detail.Conversation.ID,
		SenderID:       "u-001",
		Body:           "hello bob",
	})
	require.NoError(t, err)

	note := readUntil(t, bob, FrameNotification)
	var n notify.Notification
	require.NoError(t, json.Unmarshal(note.Data, &n))
	assert.Equal(t, notify.TypeMessage, n.Type)
	assert.Equal(t, "Alice", n.Title)
	assert.Equal(t, "hello bob", n.Body)
}

func TestConnect_RejectsBadFrames(t *testing.T) {
	env := newSocketEnv(t)
	conn := env.dial(t, "u-001")
	readUntil(t, conn, FrameConversations)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAppState, State: "sleeping"}))
	frame := readUntil(t, conn, FrameError)
	var data errorData
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	assert.Equal(t, "VALIDATION_ERROR", data.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	readUntil(t, conn, FrameError)
}

func TestConnect_BackgroundGoesOfflineAfterGrace(t *testing.T) {
	env := newSocketEnv(t)
	conn := env.dial(t, "u-001")
	readUntil(t, conn, FrameConversations)
	require.Eventually(t, func() bool { return env.manager.Online().IsOnline("u-001") }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAppState, State: "background"}))
	require.Eventually(t, func() bool { return !env.manager.Online().IsOnline("u-001") }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAppState, State: "active"}))
	require.Eventually(t, func() bool { return env.manager.Online().IsOnline("u-001") }, 2*time.Second, 5*time.Millisecond)
}

func TestFrameLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newFrameLimiter(FrameLimits{MaxLifecycle: 1, MaxHeartbeat: 2, MaxReload: 1}, func() time.Time { return now })

	assert.True(t, rl.Allow(FrameReload))
	assert.False(t, rl.Allow(FrameReload))
	assert.True(t, rl.Allow(FrameHeartbeat))
	assert.True(t, rl.Allow(FrameHeartbeat))
	assert.False(t, rl.Allow(FrameHeartbeat))
	assert.True(t, rl.Allow("unknown"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow(FrameReload))
}

type stubSubscriber struct {
	mu       sync.Mutex
	channels []string
	messages map[string][]byte
}

func (s *stubSubscriber) Subscribe(ctx context.Context, channels []string, handler func(string, []byte)) error {
	s.mu.Lock()
	s.channels = channels
	s.mu.Unlock()
	for ch, payload := range s.messages {
		handler(ch, payload)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRedisBridge_DeliversToUserSockets(t *testing.T) {
	hub := NewHub()
	client := &Client{ID: "c1", UserID: "u-002", Send: make(chan []byte, 4), done: make(chan struct{}), log: logger.NewNop()}
	hub.Register(client)

	payload, err := notify.Encode("u-002", notify.Notification{Type: notify.TypeMessage, ID: "m1", Title: "Alice", Body: "hi"})
	require.NoError(t, err)
	sub := &stubSubscriber{messages: map[string][]byte{
		events.UserChannel("u-002"): payload,
		"presence:events":           []byte("ignored"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewRedisBridge(sub, hub, nil).Run(ctx)

	select {
	case raw := <-client.Send:
		var frame received
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, FrameNotification, frame.Type)
		var n notify.Notification
		require.NoError(t, json.Unmarshal(frame.Data, &n))
		assert.Equal(t, "m1", n.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	sub.mu.Lock()
	assert.Equal(t, []string{events.UserChannelPattern}, sub.channels)
	sub.mu.Unlock()
}
