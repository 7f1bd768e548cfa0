package user

import (
	"database/sql"
	"time"
)

// User represents the users table. Identity itself lives with the identity
// provider; this row only carries what conversation lists and presence need.
type User struct {
	ID           string
	DisplayName  string
	AvatarURL    string
	Tier         string
	PushToken    sql.NullString
	OnlineStatus bool
	LastSeen     sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Snapshot is the participant detail rendered next to a conversation.
type Snapshot struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Tier        string `json:"tier,omitempty"`
}

// Identity is the authenticated caller as supplied by the identity provider.
type Identity struct {
	ID          string
	DisplayName string
}

func (u User) Snapshot() Snapshot {
	return Snapshot{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Tier:        u.Tier,
	}
}

// UnknownSnapshot is used when a participant has no users row yet.
func UnknownSnapshot(id string) Snapshot {
	return Snapshot{ID: id, DisplayName: "Unknown user"}
}
