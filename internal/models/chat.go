package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat groups the messages of one conversation thread.
type Chat struct {
	ID        string        `json:"id"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
}

// NewChat starts a chat whose first message is first.
func NewChat(first ChatMessage, now time.Time) Chat {
	return Chat{
		ID:        uuid.NewString(),
		Messages:  []ChatMessage{first},
		CreatedAt: now.UTC(),
	}
}

// Clone returns a copy that shares no message storage with c.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = append([]ChatMessage(nil), c.Messages...)
	return out
}

// FirstUserText returns the text of the first user-authored message.
func (c Chat) FirstUserText() (string, bool) {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg.Text, true
		}
	}
	return "", false
}

// CloneChats deep-copies a history collection.
func CloneChats(chats []Chat) []Chat {
	out := make([]Chat, len(chats))
	for i, c := range chats {
		out[i] = c.Clone()
	}
	return out
}
