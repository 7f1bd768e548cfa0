package notify

import (
	"encoding/json"

	"kindred-chat/internal/events"
)

func marshal(env events.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode extracts a notification from an envelope published by Encode.
func Decode(data []byte) (events.Envelope, Notification, error) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Envelope{}, Notification{}, err
	}
	var n Notification
	if err := json.Unmarshal(env.Payload, &n); err != nil {
		return env, Notification{}, err
	}
	return env, n, nil
}
