package websocket

import (
	"encoding/json"
	"time"
)

// Frame types sent by clients.
const (
	FrameAppState  = "app_state"
	FrameMount     = "mount"
	FrameUnmount   = "unmount"
	FrameHeartbeat = "heartbeat"
	FrameReload    = "reload"
)

// Frame types pushed to clients.
const (
	FrameConversations = "conversations"
	FramePresence      = "presence"
	FrameNotification  = "notification"
	FrameError         = "error"
)

// ClientFrame is an inbound control frame.
type ClientFrame struct {
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
}

// ServerFrame is an outbound frame.
type ServerFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeFrame(frameType string, data interface{}) ([]byte, error) {
	return json.Marshal(ServerFrame{Type: frameType, Data: data, At: time.Now().UTC()})
}
