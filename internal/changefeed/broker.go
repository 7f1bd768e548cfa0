// Package changefeed carries row-level change events from the durable store to
// viewer sessions.
package changefeed

import (
	"sync"

	"kindred-chat/internal/domain/change"
)

const DefaultBuffer = 64

// Broker fans change events out to every subscribed session. Publish never
// blocks: a subscriber whose buffer is full is told to resync instead.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// NewBroker creates a broker whose subscriptions buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

type Subscription struct {
	broker *Broker
	events chan change.Event
	resync chan struct{}
	once   sync.Once
}

func (b *Broker) Subscribe() *Subscription {
	s := &Subscription{
		broker: b,
		events: make(chan change.Event, b.buffer),
		resync: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broker) Publish(e change.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.events <- e:
		default:
			s.signalResync()
		}
	}
}

// Invalidate asks every subscriber to reload, used after the source may have
// missed events.
func (b *Broker) Invalidate() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.signalResync()
	}
}

func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *Subscription) signalResync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// Events is closed by Close.
func (s *Subscription) Events() <-chan change.Event { return s.events }

// Resync fires when events were dropped for this subscriber.
func (s *Subscription) Resync() <-chan struct{} { return s.resync }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.events)
	})
}
