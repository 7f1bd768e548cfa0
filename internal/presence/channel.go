// Package presence maintains the application-wide online user set and drives
// each session's membership of the shared presence channel.
package presence

import (
	"context"
	"sort"
	"time"
)

type EventType string

const (
	EventSync  EventType = "sync"
	EventJoin  EventType = "join"
	EventLeave EventType = "leave"
)

// Payload is what a tracked member announces about itself.
type Payload struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Online      bool      `json:"online"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event carries the full member list for sync and a single member for join
// and leave.
type Event struct {
	Type    EventType `json:"type"`
	Members []Payload `json:"members"`
}

type Handler func(Event)

// Channel is a shared broadcast channel keyed by user id. A key is a member
// while at least one subscription tracks it; join fires when a key becomes a
// member and leave when it stops being one. Subscribing delivers a sync with
// the current members to the new subscription.
//
// Handlers run on the channel's delivery path and must not call back into the
// channel.
type Channel interface {
	Subscribe(ctx context.Context, key string, handler Handler) (Subscription, error)
}

type Subscription interface {
	Track(ctx context.Context, payload Payload) error
	Untrack(ctx context.Context) error
	Close() error
	// Done is closed when the subscription ends, either through Close or
	// because the transport dropped it.
	Done() <-chan struct{}
}

// SortMembers orders payloads by user id.
func SortMembers(members []Payload) {
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
}
