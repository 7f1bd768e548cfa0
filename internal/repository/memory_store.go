package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"kindred-chat/internal/domain/change"
	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/message"
	"kindred-chat/internal/domain/user"
	kindred_errors "kindred-chat/pkg/errors"

	"github.com/google/uuid"
)

// MemoryStore is a single-process Directory Store. It emits the same change
// events the Postgres triggers produce, so sessions behave identically on
// either backend.
type MemoryStore struct {
	mu             sync.RWMutex
	users          map[string]user.User
	conversations  map[uuid.UUID]conversation.Conversation
	pairs          map[conversation.Pair]uuid.UUID
	messages       map[uuid.UUID]message.Message
	byConversation map[uuid.UUID][]uuid.UUID

	sink func(change.Event)
}

// NewMemoryStore returns an empty store. sink, when set, receives every
// committed change.
func NewMemoryStore(sink func(change.Event)) *MemoryStore {
	if sink == nil {
		sink = func(change.Event) {}
	}
	return &MemoryStore{
		users:          make(map[string]user.User),
		conversations:  make(map[uuid.UUID]conversation.Conversation),
		pairs:          make(map[conversation.Pair]uuid.UUID),
		messages:       make(map[uuid.UUID]message.Message),
		byConversation: make(map[uuid.UUID][]uuid.UUID),
		sink:           sink,
	}
}

func (s *MemoryStore) Users() UserRepository                 { return memoryUsers{s} }
func (s *MemoryStore) Conversations() ConversationRepository { return memoryConversations{s} }
func (s *MemoryStore) Messages() MessageRepository           { return memoryMessages{s} }

func (s *MemoryStore) emit(events []change.Event) {
	for _, e := range events {
		s.sink(e)
	}
}

func conversationEvent(typ change.Type, c conversation.Conversation) change.Event {
	e, _ := change.NewEvent(change.TableConversations, typ, change.ConversationRow{
		ID:           c.ID.String(),
		Participants: c.Participants[:],
		DeletedBy:    slices.Clone(nonNil(c.DeletedBy)),
		UpdatedAt:    c.UpdatedAt,
	}, time.Now().UTC())
	return e
}

func messageEvent(typ change.Type, m message.Message) change.Event {
	row := change.MessageRow{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID,
		Body:           m.Body,
		Read:           m.Read,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
	}
	if m.DeletedAt.Valid {
		at := m.DeletedAt.Time
		row.DeletedAt = &at
	}
	e, _ := change.NewEvent(change.TableMessages, typ, row, time.Now().UTC())
	return e
}

func cloneConversation(c conversation.Conversation) conversation.Conversation {
	c.DeletedBy = slices.Clone(c.DeletedBy)
	return c
}

func cloneMessage(m message.Message) message.Message {
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		m.ReplyTo = &ref
	}
	m.Attachments = slices.Clone(m.Attachments)
	return m
}

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) GetUserByID(_ context.Context, id string) (user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("get user: %w", kindred_errors.ErrNotFound)
	}
	return u, nil
}

func (r memoryUsers) GetUsersByIDs(_ context.Context, ids []string) (map[string]user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make(map[string]user.User, len(ids))
	for _, id := range ids {
		if u, ok := r.s.users[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}

func (r memoryUsers) EnsureUser(_ context.Context, id, displayName string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	u, ok := r.s.users[id]
	if !ok {
		r.s.users[id] = user.User{ID: id, DisplayName: displayName, CreatedAt: now, UpdatedAt: now}
		return nil
	}
	if displayName != "" && u.DisplayName != displayName {
		u.DisplayName = displayName
		u.UpdatedAt = now
		r.s.users[id] = u
	}
	return nil
}

func (r memoryUsers) update(id string, fn func(*user.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return kindred_errors.ErrNotFound
	}
	fn(&u)
	r.s.users[id] = u
	return nil
}

func (r memoryUsers) UpdateOnlineStatus(_ context.Context, userID string, isOnline bool) error {
	return r.update(userID, func(u *user.User) {
		u.OnlineStatus = isOnline
		u.UpdatedAt = time.Now().UTC()
	})
}

func (r memoryUsers) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	return r.update(userID, func(u *user.User) {
		u.OnlineStatus = false
		u.LastSeen.Time = lastSeen.UTC()
		u.LastSeen.Valid = true
		u.UpdatedAt = lastSeen.UTC()
	})
}

type memoryConversations struct{ s *MemoryStore }

func (r memoryConversations) GetByID(_ context.Context, id uuid.UUID) (conversation.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return conversation.Conversation{}, fmt.Errorf("get conversation: %w", kindred_errors.ErrNotFound)
	}
	return cloneConversation(c), nil
}

func (r memoryConversations) GetByPair(_ context.Context, pair conversation.Pair) (conversation.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.pairs[pair]
	if !ok {
		return conversation.Conversation{}, fmt.Errorf("get conversation by pair: %w", kindred_errors.ErrNotFound)
	}
	return cloneConversation(r.s.conversations[id]), nil
}

func (r memoryConversations) CreateIfAbsent(_ context.Context, c conversation.Conversation) (conversation.Conversation, error) {
	pair := conversation.Pair{Low: c.Participants[0], High: c.Participants[1]}

	r.s.mu.Lock()
	if id, ok := r.s.pairs[pair]; ok {
		existing := cloneConversation(r.s.conversations[id])
		r.s.mu.Unlock()
		return existing, nil
	}
	c.DeletedBy = slices.Clone(nonNil(c.DeletedBy))
	r.s.conversations[c.ID] = c
	r.s.pairs[pair] = c.ID
	event := conversationEvent(change.Insert, c)
	r.s.mu.Unlock()

	r.s.emit([]change.Event{event})
	return cloneConversation(c), nil
}

func (r memoryConversations) mutate(id uuid.UUID, fn func(*conversation.Conversation) bool) error {
	r.s.mu.Lock()
	c, ok := r.s.conversations[id]
	if !ok {
		r.s.mu.Unlock()
		return kindred_errors.ErrNotFound
	}
	changed := fn(&c)
	r.s.conversations[id] = c
	event := conversationEvent(change.Update, c)
	r.s.mu.Unlock()

	if changed {
		r.s.emit([]change.Event{event})
	}
	return nil
}

func (r memoryConversations) AddDeletedBy(_ context.Context, conversationID uuid.UUID, userID string) error {
	return r.mutate(conversationID, func(c *conversation.Conversation) bool {
		if c.DeletedFor(userID) {
			return false
		}
		c.DeletedBy = append(slices.Clone(c.DeletedBy), userID)
		return true
	})
}

func (r memoryConversations) RemoveDeletedBy(_ context.Context, conversationID uuid.UUID, userID string) error {
	return r.mutate(conversationID, func(c *conversation.Conversation) bool {
		if !c.DeletedFor(userID) {
			return false
		}
		c.DeletedBy = slices.DeleteFunc(slices.Clone(c.DeletedBy), func(id string) bool { return id == userID })
		return true
	})
}

// summaryLocked requires s.mu held.
func (s *MemoryStore) summaryLocked(viewerID string, c conversation.Conversation) conversation.Summary {
	summary := conversation.Summary{Conversation: cloneConversation(c)}
	var last *message.Message
	for _, id := range s.byConversation[c.ID] {
		m := s.messages[id]
		if last == nil || m.CreatedAt.After(last.CreatedAt) ||
			(m.CreatedAt.Equal(last.CreatedAt) && strings.Compare(m.ID.String(), last.ID.String()) > 0) {
			cp := m
			last = &cp
		}
		if m.SenderID != viewerID && !m.Read && !m.IsDeleted() {
			summary.UnreadCount++
		}
	}
	if last != nil {
		m := cloneMessage(*last)
		summary.LastMessage = &m
	}
	return summary
}

func (r memoryConversations) ListForViewer(_ context.Context, viewerID string) ([]conversation.Summary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var items []conversation.Summary
	for _, c := range r.s.conversations {
		if c.VisibleTo(viewerID) {
			items = append(items, r.s.summaryLocked(viewerID, c))
		}
	}
	conversation.SortByRecency(items)
	return items, nil
}

func (r memoryConversations) SummaryForViewer(_ context.Context, viewerID string, conversationID uuid.UUID) (conversation.Summary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversations[conversationID]
	if !ok || !c.VisibleTo(viewerID) {
		return conversation.Summary{}, fmt.Errorf("conversation summary: %w", kindred_errors.ErrNotFound)
	}
	return r.s.summaryLocked(viewerID, c), nil
}

type memoryMessages struct{ s *MemoryStore }

func (r memoryMessages) Create(_ context.Context, m message.Message) error {
	r.s.mu.Lock()
	c, ok := r.s.conversations[m.ConversationID]
	if !ok {
		r.s.mu.Unlock()
		return fmt.Errorf("insert message: %w", kindred_errors.ErrNotFound)
	}
	if _, dup := r.s.messages[m.ID]; dup {
		r.s.mu.Unlock()
		return fmt.Errorf("insert message: %w", kindred_errors.ErrAlreadyExists)
	}
	r.s.messages[m.ID] = cloneMessage(m)
	r.s.byConversation[m.ConversationID] = append(r.s.byConversation[m.ConversationID], m.ID)

	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	c.DeletedBy = []string{}
	r.s.conversations[c.ID] = c
	events := []change.Event{messageEvent(change.Insert, m), conversationEvent(change.Update, c)}
	r.s.mu.Unlock()

	r.s.emit(events)
	return nil
}

func (r memoryMessages) GetByID(_ context.Context, id uuid.UUID) (message.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.messages[id]
	if !ok {
		return message.Message{}, fmt.Errorf("get message: %w", kindred_errors.ErrNotFound)
	}
	return cloneMessage(m), nil
}

func (r memoryMessages) ListByConversation(_ context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]message.Message, error) {
	r.s.mu.RLock()
	var items []message.Message
	for _, id := range r.s.byConversation[conversationID] {
		m := r.s.messages[id]
		if before.IsZero() || m.CreatedAt.Before(before) {
			items = append(items, cloneMessage(m))
		}
	}
	r.s.mu.RUnlock()

	slices.SortStableFunc(items, func(a, b message.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

func (r memoryMessages) MarkConversationRead(_ context.Context, conversationID uuid.UUID, viewerID string) (int64, error) {
	r.s.mu.Lock()
	var events []change.Event
	for _, id := range r.s.byConversation[conversationID] {
		m := r.s.messages[id]
		if m.SenderID == viewerID || (m.Read && m.Status == message.StatusRead) {
			continue
		}
		m.Read = true
		m.Status = message.StatusRead
		r.s.messages[id] = m
		events = append(events, messageEvent(change.Update, m))
	}
	r.s.mu.Unlock()

	r.s.emit(events)
	return int64(len(events)), nil
}

func (r memoryMessages) MarkDelivered(_ context.Context, messageID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	m, ok := r.s.messages[messageID]
	if !ok || m.Status != message.StatusSent {
		r.s.mu.Unlock()
		return false, nil
	}
	m.Status = message.StatusDelivered
	r.s.messages[messageID] = m
	event := messageEvent(change.Update, m)
	r.s.mu.Unlock()

	r.s.emit([]change.Event{event})
	return true, nil
}

func (r memoryMessages) SoftDelete(_ context.Context, messageID uuid.UUID, at time.Time) (message.Message, error) {
	r.s.mu.Lock()
	m, ok := r.s.messages[messageID]
	if !ok {
		r.s.mu.Unlock()
		return message.Message{}, fmt.Errorf("delete message: %w", kindred_errors.ErrNotFound)
	}
	deletedAt := at.UTC()
	if m.IsDeleted() {
		deletedAt = m.DeletedAt.Time
	}
	m = m.Tombstoned(deletedAt)
	r.s.messages[messageID] = m
	event := messageEvent(change.Update, m)
	r.s.mu.Unlock()

	r.s.emit([]change.Event{event})
	return cloneMessage(m), nil
}
