package httpdto

import "time"

type PresenceResponse struct {
	Online []string `json:"online"`
}

type UserPresenceResponse struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name,omitempty"`
	Online      bool       `json:"online"`
	Since       *time.Time `json:"since,omitempty"`
}
