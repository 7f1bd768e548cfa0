package change

import (
	"encoding/json"
	"time"
)

type Table string

const (
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
)

type Type string

const (
	Insert Type = "insert"
	Update Type = "update"
	Delete Type = "delete"
)

// Event is one row-level mutation from the durable store.
type Event struct {
	Table      Table           `json:"table"`
	Type       Type            `json:"type"`
	Row        json.RawMessage `json:"row"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// ConversationRow is the change-feed encoding of a conversations row.
type ConversationRow struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	DeletedBy    []string  `json:"deleted_by"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MessageRow is the change-feed encoding of a messages row.
type MessageRow struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body"`
	Read           bool       `json:"read"`
	Status         string     `json:"delivery_status"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func (e Event) Conversation() (ConversationRow, error) {
	var row ConversationRow
	err := json.Unmarshal(e.Row, &row)
	return row, err
}

func (e Event) Message() (MessageRow, error) {
	var row MessageRow
	err := json.Unmarshal(e.Row, &row)
	return row, err
}

// NewEvent encodes row into an Event stamped with at.
func NewEvent(table Table, typ Type, row interface{}, at time.Time) (Event, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Event{}, err
	}
	return Event{Table: table, Type: typ, Row: raw, OccurredAt: at}, nil
}
