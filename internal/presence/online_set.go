package presence

import (
	"sort"
	"sync"
)

// OnlineSet is the process-wide answer to "is this user online". It is
// written only by the presence observer and read by everyone else.
type OnlineSet struct {
	mu       sync.RWMutex
	members  map[string]Payload
	watchers map[int]func([]string)
	nextID   int
}

func NewOnlineSet() *OnlineSet {
	return &OnlineSet{
		members:  make(map[string]Payload),
		watchers: make(map[int]func([]string)),
	}
}

// Apply folds a channel event into the set. It has the Handler signature so
// the set can subscribe directly.
func (s *OnlineSet) Apply(e Event) {
	s.mu.Lock()
	changed := false
	switch e.Type {
	case EventSync:
		next := make(map[string]Payload, len(e.Members))
		for _, p := range e.Members {
			next[p.UserID] = p
		}
		changed = !sameKeys(s.members, next)
		s.members = next
	case EventJoin:
		for _, p := range e.Members {
			if _, ok := s.members[p.UserID]; !ok {
				changed = true
			}
			s.members[p.UserID] = p
		}
	case EventLeave:
		for _, p := range e.Members {
			if _, ok := s.members[p.UserID]; ok {
				changed = true
				delete(s.members, p.UserID)
			}
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	online := s.onlineLocked()
	watchers := make([]func([]string), 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w(online)
	}
}

func (s *OnlineSet) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[userID]
	return ok
}

// Member returns the last payload announced by userID.
func (s *OnlineSet) Member(userID string) (Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.members[userID]
	return p, ok
}

// Online returns the sorted ids of online users.
func (s *OnlineSet) Online() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onlineLocked()
}

func (s *OnlineSet) onlineLocked() []string {
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Watch registers fn to receive the online ids after every change. The
// returned func removes it.
func (s *OnlineSet) Watch(fn func([]string)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func sameKeys(a, b map[string]Payload) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
