package models

import "github.com/google/uuid"

// Role tells who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatMessage is one entry of a conversation. Messages are never edited after
// creation; their order is their position in the owning chat.
type ChatMessage struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// NewMessage creates a message with a fresh random id.
func NewMessage(role Role, text string) ChatMessage {
	return ChatMessage{ID: uuid.NewString(), Role: role, Text: text}
}
