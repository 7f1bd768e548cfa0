package database

import (
	"context"
	"fmt"
	"time"

	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/message"
	"kindred-chat/internal/repository"

	"github.com/google/uuid"
)

// SeedUser is a development account.
type SeedUser struct {
	ID          string
	DisplayName string
}

// DefaultSeedUsers mirrors the sample pair used throughout the tests.
func DefaultSeedUsers() []SeedUser {
	return []SeedUser{
		{ID: "u-001", DisplayName: "Alice"},
		{ID: "u-002", DisplayName: "Bob"},
		{ID: "u-003", DisplayName: "Carol"},
	}
}

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	Users         int
	Conversations []conversation.Conversation
	Messages      []message.Message
}

// SeedDevelopment writes the sample users and a short exchange between the
// first two through the regular repositories, so triggers fire as in production.
func SeedDevelopment(ctx context.Context, users repository.UserRepository, convs repository.ConversationRepository, msgs repository.MessageRepository) (*SeedResult, error) {
	seed := DefaultSeedUsers()
	result := &SeedResult{}

	for _, u := range seed {
		if err := users.EnsureUser(ctx, u.ID, u.DisplayName); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		result.Users++
	}

	pair, err := conversation.CanonicalPair(seed[0].ID, seed[1].ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	conv, err := convs.CreateIfAbsent(ctx, conversation.Conversation{
		ID:           uuid.New(),
		Participants: pair.Participants(),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("seed conversation: %w", err)
	}
	result.Conversations = append(result.Conversations, conv)

	hello := message.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       seed[0].ID,
		Body:           "Hello",
		Status:         message.StatusSent,
		CreatedAt:      now,
	}
	reply := message.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       seed[1].ID,
		Body:           "Hi there",
		Status:         message.StatusSent,
		ReplyTo: &message.ReplyRef{
			ID:         hello.ID,
			SenderID:   seed[0].ID,
			SenderName: seed[0].DisplayName,
			Snippet:    hello.Body,
		},
		CreatedAt: now.Add(time.Second),
	}
	for _, m := range []message.Message{hello, reply} {
		if err := msgs.Create(ctx, m); err != nil {
			return nil, fmt.Errorf("seed message: %w", err)
		}
		result.Messages = append(result.Messages, m)
	}
	return result, nil
}
