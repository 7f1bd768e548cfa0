package websocket

import (
	"context"
	"sync"
	"time"

	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/transport/httpdto"
	"kindred-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one socket connection. It doubles as the session's sink, so
// directory and presence pushes become frames on Send.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	online  func(string) bool
	limiter *frameLimiter
	log     *logger.Logger

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, userID string, online func(string) bool, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	if online == nil {
		online = func(string) bool { return false }
	}
	id := uuid.NewString()
	return &Client{
		ID:      id,
		UserID:  userID,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		online:  online,
		limiter: newFrameLimiter(DefaultFrameLimits, nil),
		log:     log.With(zap.String("client_id", id), zap.String("user_id", userID)),
		done:    make(chan struct{}),
	}
}

func (c *Client) Conversations(items []conversation.Summary) {
	c.push(FrameConversations, httpdto.FromSummaries(items, c.online))
}

func (c *Client) Presence(online []string) {
	if online == nil {
		online = []string{}
	}
	c.push(FramePresence, httpdto.PresenceResponse{Online: online})
}

func (c *Client) Error(code, message string) {
	c.push(FrameError, errorData{Code: code, Message: message})
}

func (c *Client) push(frameType string, data interface{}) {
	payload, err := encodeFrame(frameType, data)
	if err != nil {
		c.log.Errorf("encode %s frame: %v", frameType, err)
		return
	}
	c.SendMessage(payload)
}

// SendMessage queues payload without blocking. Frames are dropped when the
// buffer is full or the client is gone.
func (c *Client) SendMessage(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.Send <- payload:
	case <-c.done:
	default:
		c.log.Warnf("send buffer full, dropping frame")
	}
}

// WriteLoop drains Send and keeps the connection alive with pings.
func (c *Client) WriteLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.done:
			return
		case msg := <-c.Send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.log.Debugf("write failed: %v", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

// Close stops the writer and closes the connection. Safe to call twice.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		_ = c.Conn.Close()
		c.mu.Unlock()
	})
}

// Done is closed once the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }
