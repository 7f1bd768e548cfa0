package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Tombstone replaces the body of a deleted message.
const Tombstone = "This message was deleted"

// MutationWindow bounds how long after creation the sender may still delete.
const MutationWindow = time.Hour

type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Advance returns the later of the two statuses; delivery status never moves backwards.
func (s DeliveryStatus) Advance(next DeliveryStatus) DeliveryStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

func (s DeliveryStatus) Valid() bool {
	return s.rank() > 0
}

// Message represents the messages table
type Message struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Body           string         `json:"body"`
	Read           bool           `json:"read"`
	Status         DeliveryStatus `json:"delivery_status"`
	ReplyTo        *ReplyRef      `json:"reply_to,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DeletedAt      sql.NullTime   `json:"-"`
}

// ReplyRef quotes an earlier message.
type ReplyRef struct {
	ID         uuid.UUID `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Snippet    string    `json:"snippet"`
}

func (m Message) IsDeleted() bool {
	return m.DeletedAt.Valid
}

// DeletableBy returns nil when requesterID may delete m at now.
func (m Message) DeletableBy(requesterID string, now time.Time) error {
	if m.SenderID != requesterID {
		return ErrNotSender
	}
	if now.Sub(m.CreatedAt) > MutationWindow {
		return ErrWindowElapsed
	}
	return nil
}

// Tombstoned returns a copy of m with its content destroyed.
func (m Message) Tombstoned(at time.Time) Message {
	m.Body = Tombstone
	m.ReplyTo = nil
	m.Attachments = nil
	m.DeletedAt = sql.NullTime{Time: at, Valid: true}
	return m
}

// Variant classifies a message by the structured content it carries.
type Variant string

const (
	VariantTextOnly                Variant = "text"
	VariantWithReply               Variant = "reply"
	VariantWithAttachments         Variant = "attachments"
	VariantWithReplyAndAttachments Variant = "reply_attachments"
)

func (m Message) Variant() Variant {
	switch {
	case m.ReplyTo != nil && len(m.Attachments) > 0:
		return VariantWithReplyAndAttachments
	case m.ReplyTo != nil:
		return VariantWithReply
	case len(m.Attachments) > 0:
		return VariantWithAttachments
	default:
		return VariantTextOnly
	}
}

// Preview is the one-line text shown in conversation lists.
func (m Message) Preview() string {
	if m.IsDeleted() {
		return Tombstone
	}
	if m.Body != "" {
		return m.Body
	}
	if len(m.Attachments) > 0 {
		return m.Attachments[0].Kind.Label()
	}
	return ""
}
