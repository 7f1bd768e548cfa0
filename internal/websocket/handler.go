package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/lifecycle"
	"kindred-chat/internal/session"
	"kindred-chat/internal/services"
	"kindred-chat/internal/transport/httpdto"
	kindred_errors "kindred-chat/pkg/errors"
	"kindred-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type SessionOpener interface {
	Open(ctx context.Context, identity user.Identity, sink session.Sink) (*session.Session, error)
}

type UserEnsurer interface {
	EnsureUser(ctx context.Context, identity user.Identity) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated requests into conversation sessions.
type Handler struct {
	sessions SessionOpener
	users    UserEnsurer
	hub      *Hub
	online   func(string) bool
	log      *logger.Logger
}

func NewHandler(sessions SessionOpener, users UserEnsurer, hub *Hub, online func(string) bool, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{sessions: sessions, users: users, hub: hub, online: online, log: log.Named("websocket")}
}

func (h *Handler) Connect(c *gin.Context) {
	identity, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthenticated", "UNAUTHENTICATED"))
		return
	}
	if h.users != nil {
		if err := h.users.EnsureUser(c.Request.Context(), identity); err != nil {
			c.JSON(httpdto.FromError(err))
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("upgrade failed for %s: %v", identity.ID, err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	client := NewClient(conn, identity.ID, h.online, h.log)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	sess, err := h.sessions.Open(ctx, identity, client)
	if err != nil {
		payload, _ := encodeFrame(FrameError, errorData{Code: kindred_errors.Code(err), Message: err.Error()})
		_ = client.write(websocket.TextMessage, payload)
		client.Close()
		return
	}
	defer sess.Close()

	go client.WriteLoop(ctx)
	h.readLoop(ctx, client, sess)
	client.Close()
}

func (h *Handler) readLoop(ctx context.Context, client *Client, sess *session.Session) {
	conn := client.Conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.log.Debugf("read: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.Error("VALIDATION_ERROR", "malformed frame")
			continue
		}
		if !client.limiter.Allow(frame.Type) {
			client.Error("RATE_LIMITED", "too many "+frame.Type+" frames")
			continue
		}
		if err := dispatch(ctx, sess, frame); err != nil {
			client.Error(kindred_errors.Code(err), err.Error())
		}
	}
}

func dispatch(ctx context.Context, sess *session.Session, frame ClientFrame) error {
	switch frame.Type {
	case FrameAppState:
		state, err := lifecycle.ParseAppState(frame.State)
		if err != nil {
			return err
		}
		sess.SetAppState(ctx, state)
	case FrameMount:
		sess.Mount(ctx)
	case FrameUnmount:
		sess.Unmount(ctx)
	case FrameHeartbeat:
		return sess.Heartbeat(ctx)
	case FrameReload:
		sess.Reload(ctx)
	default:
		return kindred_errors.ErrInvalidInput
	}
	return nil
}
