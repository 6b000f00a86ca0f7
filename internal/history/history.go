// Package history derives the sidebar listing of past chats.
package history

import (
	"strings"
	"time"

	"portfoliochat/internal/models"
)

const (
	UntitledLabel = "Untitled Chat"
	labelLimit    = 40
	dateLayout    = "Jan 2, 2006"
)

// Entry is one row of the history list.
type Entry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Label        string    `json:"label"`
	Date         string    `json:"date"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	Active       bool      `json:"active"`
}

// Title names a chat after its first user message.
func Title(chat models.Chat) string {
	if text, ok := chat.FirstUserText(); ok && text != "" {
		return text
	}
	return UntitledLabel
}

// Label shortens a title to what fits in the list.
func Label(title string) string {
	runes := []rune(title)
	if len(runes) <= labelLimit {
		return title
	}
	return string(runes[:labelLimit]) + "..."
}

// Filter keeps chats whose title contains term, ignoring case. Order is kept.
func Filter(chats []models.Chat, term string) []models.Chat {
	needle := strings.ToLower(term)
	out := make([]models.Chat, 0, len(chats))
	for _, chat := range chats {
		if strings.Contains(strings.ToLower(Title(chat)), needle) {
			out = append(out, chat)
		}
	}
	return out
}

// Entries builds the list rows for the chats matching term.
func Entries(chats []models.Chat, term, activeID string) []Entry {
	matched := Filter(chats, term)
	out := make([]Entry, 0, len(matched))
	for _, chat := range matched {
		title := Title(chat)
		out = append(out, Entry{
			ID:           chat.ID,
			Title:        title,
			Label:        Label(title),
			Date:         FormatDate(chat.CreatedAt),
			CreatedAt:    chat.CreatedAt,
			MessageCount: len(chat.Messages),
			Active:       activeID != "" && chat.ID == activeID,
		})
	}
	return out
}

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// EmptyText is shown when no entry matches.
func EmptyText(term string) string {
	if term != "" {
		return "No matching chats found"
	}
	return "No chats yet"
}
