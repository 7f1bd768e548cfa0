// Package directory keeps one viewer's conversation list in memory so change
// events can be applied as patches instead of full reloads.
package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"kindred-chat/internal/domain/change"
	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/message"
	kindred_errors "kindred-chat/pkg/errors"

	"github.com/google/uuid"
)

// Loader reads the authoritative list from the store.
type Loader interface {
	ListConversations(ctx context.Context, viewerID string) ([]conversation.Summary, error)
	ConversationSummary(ctx context.Context, viewerID string, conversationID uuid.UUID) (conversation.Summary, error)
}

type View struct {
	viewerID string
	loader   Loader

	mu     sync.RWMutex
	items  map[uuid.UUID]conversation.Summary
	loaded bool
	// marks holds, per conversation, the newest message time the last load
	// saw and the ids patched in since then. Inserts replayed from before a
	// load must not be counted twice.
	marks map[uuid.UUID]*mark
}

type mark struct {
	loadedAt time.Time
	applied  map[uuid.UUID]struct{}
}

func newMark(s conversation.Summary) *mark {
	m := &mark{applied: make(map[uuid.UUID]struct{})}
	if s.LastMessage != nil {
		m.loadedAt = s.LastMessage.CreatedAt
		m.applied[s.LastMessage.ID] = struct{}{}
	}
	return m
}

func NewView(viewerID string, loader Loader) *View {
	return &View{
		viewerID: viewerID,
		loader:   loader,
		items:    make(map[uuid.UUID]conversation.Summary),
		marks:    make(map[uuid.UUID]*mark),
	}
}

func (v *View) ViewerID() string { return v.viewerID }

// Loaded reports whether a full reload has succeeded at least once.
func (v *View) Loaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

// Reload replaces the whole list.
func (v *View) Reload(ctx context.Context) error {
	items, err := v.loader.ListConversations(ctx, v.viewerID)
	if err != nil {
		return err
	}
	next := make(map[uuid.UUID]conversation.Summary, len(items))
	marks := make(map[uuid.UUID]*mark, len(items))
	for _, item := range items {
		next[item.Conversation.ID] = item
		marks[item.Conversation.ID] = newMark(item)
	}

	v.mu.Lock()
	v.items = next
	v.marks = marks
	v.loaded = true
	v.mu.Unlock()
	return nil
}

// Refresh re-reads a single conversation. A conversation the viewer can no
// longer see is removed.
func (v *View) Refresh(ctx context.Context, conversationID uuid.UUID) error {
	summary, err := v.loader.ConversationSummary(ctx, v.viewerID, conversationID)
	if errors.Is(err, kindred_errors.ErrNotFound) || errors.Is(err, kindred_errors.ErrPermissionDenied) {
		v.Remove(conversationID)
		return nil
	}
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.items[conversationID] = summary
	v.marks[conversationID] = newMark(summary)
	v.mu.Unlock()
	return nil
}

func (v *View) Remove(conversationID uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.items[conversationID]; !ok {
		return false
	}
	delete(v.items, conversationID)
	delete(v.marks, conversationID)
	return true
}

func (v *View) Get(conversationID uuid.UUID) (conversation.Summary, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.items[conversationID]
	return s, ok
}

// ApplyMessageInsert patches a newly inserted message into a known
// conversation. It returns false when the view cannot apply the row on its own
// and the caller should refresh instead. A message the view already reflects
// is accepted without changing anything.
func (v *View) ApplyMessageInsert(m message.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	summary, ok := v.items[m.ConversationID]
	if !ok || m.Body == "" {
		return false
	}
	mk := v.marks[m.ConversationID]
	if mk == nil {
		mk = newMark(summary)
		v.marks[m.ConversationID] = mk
	}
	if _, seen := mk.applied[m.ID]; seen {
		return true
	}
	// Not newer than what the last load saw: it may already be counted and
	// only the store knows.
	if !mk.loadedAt.IsZero() && !m.CreatedAt.After(mk.loadedAt) {
		return false
	}
	mk.applied[m.ID] = struct{}{}
	if last := summary.LastMessage; last == nil || !m.CreatedAt.Before(last.CreatedAt) {
		cp := m
		summary.LastMessage = &cp
	}
	if m.CreatedAt.After(summary.Conversation.UpdatedAt) {
		summary.Conversation.UpdatedAt = m.CreatedAt
	}
	if m.SenderID != v.viewerID && !m.Read && !m.IsDeleted() {
		summary.UnreadCount++
	}
	v.items[m.ConversationID] = summary
	return true
}

// PatchDeleted swaps a tombstoned message into the preview when it is the
// conversation's last message. It is a no-op once the preview already shows
// the tombstone.
func (v *View) PatchDeleted(m message.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	summary, ok := v.items[m.ConversationID]
	if !ok || summary.LastMessage == nil || summary.LastMessage.ID != m.ID || summary.LastMessage.IsDeleted() {
		return false
	}
	prev := summary.LastMessage
	if prev.SenderID != v.viewerID && !prev.Read && summary.UnreadCount > 0 {
		summary.UnreadCount--
	}
	deletedAt := time.Now().UTC()
	if m.DeletedAt.Valid {
		deletedAt = m.DeletedAt.Time
	}
	tomb := prev.Tombstoned(deletedAt)
	summary.LastMessage = &tomb
	v.items[m.ConversationID] = summary
	return true
}

// UpToDate reports whether the view already reflects a conversation row: the
// conversation is known and nothing newer than its recency stamp happened.
func (v *View) UpToDate(row change.ConversationRow) bool {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	summary, ok := v.items[id]
	return ok && !summary.Conversation.UpdatedAt.Before(row.UpdatedAt)
}

// Snapshot returns the list newest first.
func (v *View) Snapshot() []conversation.Summary {
	v.mu.RLock()
	items := make([]conversation.Summary, 0, len(v.items))
	for _, s := range v.items {
		items = append(items, s)
	}
	v.mu.RUnlock()

	conversation.SortByRecency(items)
	return items
}

// MessageFromRow converts a change-feed row into a message.
func MessageFromRow(row change.MessageRow) (message.Message, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return message.Message{}, fmt.Errorf("message id: %w", err)
	}
	convID, err := uuid.Parse(row.ConversationID)
	if err != nil {
		return message.Message{}, fmt.Errorf("conversation id: %w", err)
	}
	m := message.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       row.SenderID,
		Body:           row.Body,
		Read:           row.Read,
		Status:         message.DeliveryStatus(row.Status),
		CreatedAt:      row.CreatedAt,
	}
	if row.DeletedAt != nil {
		m = m.Tombstoned(*row.DeletedAt)
	}
	return m, nil
}

// Involves reports whether viewerID is a participant of the row.
func Involves(row change.ConversationRow, viewerID string) bool {
	return slices.Contains(row.Participants, viewerID)
}
