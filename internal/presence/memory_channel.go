package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	kindred_errors "kindred-chat/pkg/errors"
)

var ErrObserverCannotTrack = errors.New("subscription has no key to track")

// MemoryChannel is a single-process Channel.
type MemoryChannel struct {
	mu       sync.Mutex
	subs     map[*memorySubscription]struct{}
	failNext int
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{subs: make(map[*memorySubscription]struct{})}
}

// FailNext makes the next n Subscribe calls fail with a network error.
func (c *MemoryChannel) FailNext(n int) {
	c.mu.Lock()
	c.failNext = n
	c.mu.Unlock()
}

// Drop ends every subscription as a lost connection would. No leave events
// are delivered.
func (c *MemoryChannel) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		s.closed = true
		s.payload = nil
		close(s.done)
	}
	c.subs = make(map[*memorySubscription]struct{})
}

func (c *MemoryChannel) Subscribe(_ context.Context, key string, handler Handler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return nil, fmt.Errorf("presence subscribe: %w", kindred_errors.ErrNetworkFailure)
	}
	s := &memorySubscription{
		channel: c,
		key:     key,
		handler: handler,
		done:    make(chan struct{}),
	}
	c.subs[s] = struct{}{}
	if handler != nil {
		handler(Event{Type: EventSync, Members: c.membersLocked()})
	}
	return s, nil
}

func (c *MemoryChannel) membersLocked() []Payload {
	latest := make(map[string]Payload)
	for s := range c.subs {
		if s.payload == nil {
			continue
		}
		if cur, ok := latest[s.key]; !ok || s.payload.Timestamp.After(cur.Timestamp) {
			latest[s.key] = *s.payload
		}
	}
	members := make([]Payload, 0, len(latest))
	for _, p := range latest {
		members = append(members, p)
	}
	SortMembers(members)
	return members
}

func (c *MemoryChannel) isMemberLocked(key string) bool {
	for s := range c.subs {
		if s.key == key && s.payload != nil {
			return true
		}
	}
	return false
}

func (c *MemoryChannel) broadcastLocked(e Event) {
	for s := range c.subs {
		if s.handler != nil {
			s.handler(e)
		}
	}
}

type memorySubscription struct {
	channel *MemoryChannel
	key     string
	handler Handler
	payload *Payload
	closed  bool
	done    chan struct{}
}

func (s *memorySubscription) Track(_ context.Context, payload Payload) error {
	if s.key == "" {
		return ErrObserverCannotTrack
	}
	c := s.channel
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return kindred_errors.ErrSessionClosed
	}
	payload.UserID = s.key
	joined := !c.isMemberLocked(s.key)
	s.payload = &payload
	if joined {
		c.broadcastLocked(Event{Type: EventJoin, Members: []Payload{payload}})
	}
	return nil
}

func (s *memorySubscription) Untrack(_ context.Context) error {
	c := s.channel
	c.mu.Lock()
	defer c.mu.Unlock()
	s.untrackLocked()
	return nil
}

func (s *memorySubscription) untrackLocked() {
	if s.payload == nil {
		return
	}
	last := *s.payload
	s.payload = nil
	if !s.channel.isMemberLocked(s.key) {
		last.Online = false
		s.channel.broadcastLocked(Event{Type: EventLeave, Members: []Payload{last}})
	}
}

func (s *memorySubscription) Close() error {
	c := s.channel
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return nil
	}
	s.untrackLocked()
	s.closed = true
	delete(c.subs, s)
	close(s.done)
	return nil
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}
