package conversation

import (
	"context"
	"fmt"
	"log"

	"portfoliochat/internal/models"
)

// Select makes chatID the active session and loads its messages.
func (m *Manager) Select(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(chatID)
	if idx < 0 {
		return ErrChatNotFound
	}
	m.activeID = chatID
	m.live = append([]models.ChatMessage{}, m.history[idx].Messages...)
	m.errMsg = ""
	return nil
}

// NewSession leaves the active chat. The next submit starts a new one.
func (m *Manager) NewSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// Delete removes a chat from the history and abandons its pending replies.
func (m *Manager) Delete(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(chatID)
	if idx < 0 {
		return ErrChatNotFound
	}
	m.jobs.CancelChat(chatID)
	m.untrackLocked(chatID, m.pending[chatID])
	m.history = append(m.history[:idx:idx], m.history[idx+1:]...)
	if chatID == m.activeID {
		m.resetLocked()
	}
	m.persistLocked()
	return nil
}

// ClearAll drops every chat and removes the stored history record.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for chatID, n := range m.pending {
		m.jobs.CancelChat(chatID)
		m.untrackLocked(chatID, n)
	}
	m.history = nil
	m.resetLocked()
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	log.Printf("conversation: history cleared")
	return nil
}

func (m *Manager) resetLocked() {
	m.activeID = ""
	m.live = nil
	m.errMsg = ""
}
