package httpdto

import (
	"time"

	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/user"
)

type CreateConversationRequest struct {
	OtherUserID string `json:"other_user_id" binding:"required"`
}

type ConversationResponse struct {
	ID           string          `json:"id"`
	Participants []string        `json:"participants"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Members      []user.Snapshot `json:"members,omitempty"`
}

type ConversationSummaryResponse struct {
	ID          string           `json:"id"`
	Other       user.Snapshot    `json:"other"`
	OtherOnline bool             `json:"other_online"`
	LastMessage *MessageResponse `json:"last_message,omitempty"`
	UnreadCount int              `json:"unread_count"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type ListConversationsResponse struct {
	Items []ConversationSummaryResponse `json:"items"`
}

func FromConversation(c conversation.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:           c.ID.String(),
		Participants: []string{c.Participants[0], c.Participants[1]},
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func FromDetail(d conversation.Detail) ConversationResponse {
	out := FromConversation(d.Conversation)
	out.Members = d.Participants
	return out
}

// FromSummaries converts a list; online reports presence for the other side
// and may be nil.
func FromSummaries(items []conversation.Summary, online func(string) bool) ListConversationsResponse {
	out := ListConversationsResponse{Items: make([]ConversationSummaryResponse, 0, len(items))}
	for _, s := range items {
		out.Items = append(out.Items, FromSummary(s, online))
	}
	return out
}

func FromSummary(s conversation.Summary, online func(string) bool) ConversationSummaryResponse {
	item := ConversationSummaryResponse{
		ID:          s.Conversation.ID.String(),
		Other:       s.Other,
		UnreadCount: s.UnreadCount,
		UpdatedAt:   s.Conversation.UpdatedAt,
	}
	if online != nil {
		item.OtherOnline = online(s.Other.ID)
	}
	if s.LastMessage != nil {
		m := FromMessage(*s.LastMessage)
		item.LastMessage = &m
	}
	return item
}
