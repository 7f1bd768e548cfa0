package repository

import (
	"context"
	"time"

	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/message"
	"kindred-chat/internal/domain/user"

	"github.com/google/uuid"
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (user.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]user.User, error)
	EnsureUser(ctx context.Context, id, displayName string) error

	UpdateOnlineStatus(ctx context.Context, userID string, isOnline bool) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

type ConversationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	GetByPair(ctx context.Context, pair conversation.Pair) (conversation.Conversation, error)
	// CreateIfAbsent inserts c unless a conversation for the same pair exists,
	// and returns whichever row is stored.
	CreateIfAbsent(ctx context.Context, c conversation.Conversation) (conversation.Conversation, error)

	AddDeletedBy(ctx context.Context, conversationID uuid.UUID, userID string) error
	RemoveDeletedBy(ctx context.Context, conversationID uuid.UUID, userID string) error

	// ListForViewer returns visible conversations with last message and unread
	// count filled in, newest first. Other is left for the caller to resolve.
	ListForViewer(ctx context.Context, viewerID string) ([]conversation.Summary, error)
	SummaryForViewer(ctx context.Context, viewerID string, conversationID uuid.UUID) (conversation.Summary, error)
}

type MessageRepository interface {
	// Create stores m and bumps the conversation's updated_at in one transaction.
	Create(ctx context.Context, m message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	// ListByConversation pages backwards from before and returns ascending order.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]message.Message, error)

	MarkConversationRead(ctx context.Context, conversationID uuid.UUID, viewerID string) (int64, error)
	MarkDelivered(ctx context.Context, messageID uuid.UUID) (bool, error)
	SoftDelete(ctx context.Context, messageID uuid.UUID, at time.Time) (message.Message, error)
}
