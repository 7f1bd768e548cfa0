package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kindred-chat/config"
	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/handler"
	"kindred-chat/internal/presence"
	"kindred-chat/internal/repository"
	"kindred-chat/internal/services"
	"kindred-chat/internal/transport/httpdto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server   *Server
	verifier *services.IdentityVerifier
}

func newFixture(t *testing.T, health func(context.Context) error) *fixture {
	t.Helper()
	store := repository.NewMemoryStore(nil)
	dir := services.NewUserDirectory(store.Users(), nil, nil)
	require.NoError(t, dir.EnsureUser(context.Background(), user.Identity{ID: "u-002", DisplayName: "Bob"}))
	convs := services.NewConversationService(store.Conversations(), dir, nil)
	msgs := services.NewMessageService(store.Conversations(), store.Messages(), dir, nil, nil)
	online := presence.NewOnlineSet()

	verifier, err := services.NewIdentityVerifier("test-secret")
	require.NoError(t, err)

	s := New(&config.Config{AppPort: "0", AppMode: TestMode}, nil)
	s.SetupRoutes(&Handlers{
		Conversations: handler.NewConversationHandler(convs, dir, online),
		Messages:      handler.NewMessageHandler(msgs),
		Presence:      handler.NewPresenceHandler(online),
	}, Guards{Verifier: verifier, Health: health})
	return &fixture{server: s, verifier: verifier}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(w, req)
	return w
}

func (f *fixture) token(t *testing.T, id, name string) string {
	t.Helper()
	tok, err := f.verifier.Issue(user.Identity{ID: id, DisplayName: name}, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestPingAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth_ReportsStoreFailure(t *testing.T) {
	f := newFixture(t, func(context.Context) error { return errors.New("db down") })

	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutes_RequireToken(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/v1/conversations", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_ConversationWithToken(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.token(t, "u-001", "Alice")

	w := f.do(t, http.MethodPost, "/v1/conversations", alice, httpdto.CreateConversationRequest{OtherUserID: "u-002"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/v1/conversations", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out httpdto.Response[httpdto.ListConversationsResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Data.Items, 1)

	// no attachment or socket handler configured
	w = f.do(t, http.MethodPost, "/v1/attachments", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShutdownHooksRunInReverse(t *testing.T) {
	f := newFixture(t, nil)
	var order []int
	f.server.OnShutdown(func() { order = append(order, 1) })
	f.server.OnShutdown(func() { order = append(order, 2) })

	require.NoError(t, f.server.Shutdown())
	assert.Equal(t, []int{2, 1}, order)
}
