package httpdto

import (
	"time"

	"kindred-chat/internal/domain/message"
)

type SendMessageRequest struct {
	Body        string               `json:"body"`
	ReplyTo     string               `json:"reply_to,omitempty"`
	Attachments []message.Attachment `json:"attachments,omitempty"`
}

type MessageResponse struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	SenderID       string               `json:"sender_id"`
	Body           string               `json:"body"`
	Preview        string               `json:"preview"`
	Variant        message.Variant      `json:"variant"`
	Read           bool                 `json:"read"`
	Status         string               `json:"delivery_status"`
	ReplyTo        *message.ReplyRef    `json:"reply_to,omitempty"`
	Attachments    []message.Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	DeletedAt      *time.Time           `json:"deleted_at,omitempty"`
}

type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
}

type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

func FromMessage(m message.Message) MessageResponse {
	out := MessageResponse{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID,
		Body:           m.Body,
		Preview:        m.Preview(),
		Variant:        m.Variant(),
		Read:           m.Read,
		Status:         string(m.Status),
		ReplyTo:        m.ReplyTo,
		Attachments:    m.Attachments,
		CreatedAt:      m.CreatedAt,
	}
	if m.DeletedAt.Valid {
		at := m.DeletedAt.Time
		out.DeletedAt = &at
	}
	return out
}

func FromMessages(items []message.Message) ListMessagesResponse {
	out := ListMessagesResponse{Messages: make([]MessageResponse, 0, len(items))}
	for _, m := range items {
		out.Messages = append(out.Messages, FromMessage(m))
	}
	return out
}
