package conversation

import (
	"errors"
	"slices"
	"strings"
	"time"

	"kindred-chat/internal/domain/message"
	"kindred-chat/internal/domain/user"

	"github.com/google/uuid"
)

var (
	ErrEmptyParticipant = errors.New("participant id is required")
	ErrSelfConversation = errors.New("conversation needs two distinct participants")
)

// Conversation represents the conversations table. Participants are always
// stored sorted so a pair maps to exactly one row.
type Conversation struct {
	ID           uuid.UUID
	Participants [2]string
	DeletedBy    []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Pair is an unordered pair of user ids in canonical order.
type Pair struct {
	Low  string
	High string
}

// CanonicalPair orders two user ids so (a, b) and (b, a) produce the same pair.
func CanonicalPair(a, b string) (Pair, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return Pair{}, ErrEmptyParticipant
	}
	if a == b {
		return Pair{}, ErrSelfConversation
	}
	if a > b {
		a, b = b, a
	}
	return Pair{Low: a, High: b}, nil
}

func (p Pair) Participants() [2]string {
	return [2]string{p.Low, p.High}
}

func (c Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

func (c Conversation) DeletedFor(userID string) bool {
	return slices.Contains(c.DeletedBy, userID)
}

// VisibleTo reports whether the conversation appears in userID's list.
func (c Conversation) VisibleTo(userID string) bool {
	return c.HasParticipant(userID) && !c.DeletedFor(userID)
}

// Detail is returned by get-or-create: the conversation plus who is in it.
type Detail struct {
	Conversation Conversation
	Participants []user.Snapshot
}

// Summary is one row of a viewer's conversation list.
type Summary struct {
	Conversation Conversation
	Other        user.Snapshot
	LastMessage  *message.Message
	UnreadCount  int
}

// SortByRecency orders summaries by UpdatedAt descending, ties broken by id for
// a stable list.
func SortByRecency(items []Summary) {
	slices.SortStableFunc(items, func(a, b Summary) int {
		if c := b.Conversation.UpdatedAt.Compare(a.Conversation.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Conversation.ID.String(), b.Conversation.ID.String())
	})
}
