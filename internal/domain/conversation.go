package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single persisted conversation entry: one utterance by either the
// user or the assistant.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationRecord is the stored history for one end user. A record whose
// ExpiresAt has passed is treated as absent regardless of whether the backend
// has physically reclaimed it.
type ConversationRecord struct {
	UserID    string
	Turns     []Turn
	ExpiresAt time.Time
}

// Expired reports whether the record is past its retention window at now.
func (r ConversationRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
