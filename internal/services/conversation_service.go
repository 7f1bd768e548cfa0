package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/repository"
	kindred_errors "kindred-chat/pkg/errors"
	"kindred-chat/pkg/logger"

	"github.com/google/uuid"
)

type ConversationService struct {
	convs repository.ConversationRepository
	users *UserDirectory
	log   *logger.Logger
	now   func() time.Time
}

func NewConversationService(convs repository.ConversationRepository, users *UserDirectory, log *logger.Logger) *ConversationService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ConversationService{
		convs: convs,
		users: users,
		log:   log.Named("conversations"),
		now:   time.Now,
	}
}

// GetOrCreateConversation returns the conversation between viewerID and
// otherID, creating it on first use. Argument order does not matter, and
// concurrent callers resolve to the same row.
func (s *ConversationService) GetOrCreateConversation(ctx context.Context, viewerID, otherID string) (conversation.Detail, error) {
	if viewerID == "" {
		return conversation.Detail{}, kindred_errors.ErrUnauthenticated
	}
	pair, err := conversation.CanonicalPair(viewerID, otherID)
	if err != nil {
		return conversation.Detail{}, fmt.Errorf("%w: %v", kindred_errors.ErrInvalidInput, err)
	}

	c, err := s.convs.GetByPair(ctx, pair)
	if errors.Is(err, kindred_errors.ErrNotFound) {
		known, err := s.users.Exists(ctx, otherID)
		if err != nil {
			return conversation.Detail{}, err
		}
		if !known {
			return conversation.Detail{}, fmt.Errorf("%w: unknown participant %q", kindred_errors.ErrInvalidInput, otherID)
		}
		now := s.now().UTC()
		c, err = s.convs.CreateIfAbsent(ctx, conversation.Conversation{
			ID:           uuid.New(),
			Participants: pair.Participants(),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	if err != nil {
		return conversation.Detail{}, err
	}

	if c.DeletedFor(viewerID) {
		if err := s.convs.RemoveDeletedBy(ctx, c.ID, viewerID); err != nil {
			return conversation.Detail{}, err
		}
		c.DeletedBy = slices.DeleteFunc(c.DeletedBy, func(id string) bool { return id == viewerID })
	}

	snaps, err := s.users.Snapshots(ctx, c.Participants[:])
	if err != nil {
		return conversation.Detail{}, err
	}
	return conversation.Detail{
		Conversation: c,
		Participants: []user.Snapshot{snaps[c.Participants[0]], snaps[c.Participants[1]]},
	}, nil
}

// ListConversations returns the viewer's visible conversations, newest first.
func (s *ConversationService) ListConversations(ctx context.Context, viewerID string) ([]conversation.Summary, error) {
	if viewerID == "" {
		return nil, kindred_errors.ErrUnauthenticated
	}
	items, err := s.convs.ListForViewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if err := s.resolveOthers(ctx, viewerID, items); err != nil {
		return nil, err
	}
	conversation.SortByRecency(items)
	return items, nil
}

// ConversationSummary returns one row of the viewer's list.
func (s *ConversationService) ConversationSummary(ctx context.Context, viewerID string, conversationID uuid.UUID) (conversation.Summary, error) {
	if viewerID == "" {
		return conversation.Summary{}, kindred_errors.ErrUnauthenticated
	}
	summary, err := s.convs.SummaryForViewer(ctx, viewerID, conversationID)
	if err != nil {
		return conversation.Summary{}, err
	}
	items := []conversation.Summary{summary}
	if err := s.resolveOthers(ctx, viewerID, items); err != nil {
		return conversation.Summary{}, err
	}
	return items[0], nil
}

// DeleteConversation hides the conversation from the viewer only.
func (s *ConversationService) DeleteConversation(ctx context.Context, viewerID string, conversationID uuid.UUID) error {
	if _, err := s.participantConversation(ctx, viewerID, conversationID); err != nil {
		return err
	}
	if err := s.convs.AddDeletedBy(ctx, conversationID, viewerID); err != nil {
		return err
	}
	s.log.WithContext(ctx).Debugf("conversation %s hidden for %s", conversationID, viewerID)
	return nil
}

// participantConversation loads a conversation and checks viewerID is in it.
func (s *ConversationService) participantConversation(ctx context.Context, viewerID string, conversationID uuid.UUID) (conversation.Conversation, error) {
	return participantConversation(ctx, s.convs, viewerID, conversationID)
}

func participantConversation(ctx context.Context, convs repository.ConversationRepository, viewerID string, conversationID uuid.UUID) (conversation.Conversation, error) {
	if viewerID == "" {
		return conversation.Conversation{}, kindred_errors.ErrUnauthenticated
	}
	c, err := convs.GetByID(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !c.HasParticipant(viewerID) {
		return conversation.Conversation{}, kindred_errors.ErrPermissionDenied
	}
	return c, nil
}

func (s *ConversationService) resolveOthers(ctx context.Context, viewerID string, items []conversation.Summary) error {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Conversation.Other(viewerID))
	}
	snaps, err := s.users.Snapshots(ctx, ids)
	if err != nil {
		return err
	}
	for i := range items {
		items[i].Other = snaps[items[i].Conversation.Other(viewerID)]
	}
	return nil
}
