package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"portfoliochat/internal/models"
	"portfoliochat/internal/storage"
	"portfoliochat/internal/worker"
)

const (
	// ErrorReplyText is stored as the assistant reply when the chat backend
	// cannot be reached.
	ErrorReplyText = "⚠️ Error connecting to chatbot."
	// ErrorBanner is the conversation-level error shown after a failed reply.
	ErrorBanner = "Failed to connect to the chatbot. Please try again."

	saveTimeout = 5 * time.Second
)

var ErrChatNotFound = errors.New("chat not found")

// Replier produces the assistant reply for a user message.
type Replier interface {
	Reply(ctx context.Context, text string) (string, error)
}

// Dispatcher runs relay jobs in the background.
type Dispatcher interface {
	Submit(job worker.Job) error
	CancelChat(chatID string)
}

// Snapshot is the state of the conversation view.
type Snapshot struct {
	ActiveID string               `json:"active_id,omitempty"`
	Messages []models.ChatMessage `json:"messages"`
	Loading  bool                 `json:"loading"`
	Error    string               `json:"error,omitempty"`
}

// Manager owns the chat history and the active session. All state changes go
// through it and every history change is written to the store.
type Manager struct {
	store   storage.HistoryStore
	replier Replier
	jobs    Dispatcher
	now     func() time.Time

	mu       sync.Mutex
	history  []models.Chat
	activeID string
	live     []models.ChatMessage
	errMsg   string
	pending  map[string]int // in-flight replies per chat
	inflight int
	idle     chan struct{} // closed while inflight == 0
}

// NewManager loads the history once from store and starts with no active
// session.
func NewManager(ctx context.Context, store storage.HistoryStore, replier Replier, jobs Dispatcher) *Manager {
	idle := make(chan struct{})
	close(idle)
	history := store.Load(ctx)
	log.Printf("conversation: loaded %d chats from history", len(history))
	return &Manager{
		store:   store,
		replier: replier,
		jobs:    jobs,
		now:     time.Now,
		history: history,
		pending: make(map[string]int),
		idle:    idle,
	}
}

// Submit records text as a user message in the active chat, creating a chat
// when none is active, and requests the reply in the background. Blank input
// is ignored and reported with ok == false.
func (m *Manager) Submit(text string) (msg models.ChatMessage, ok bool) {
	if strings.TrimSpace(text) == "" {
		return models.ChatMessage{}, false
	}

	m.mu.Lock()
	msg = models.NewMessage(models.RoleUser, text)
	m.live = append(m.live, msg)
	if idx := m.indexLocked(m.activeID); idx >= 0 {
		m.history[idx].Messages = append(m.history[idx].Messages, msg)
	} else {
		chat := models.NewChat(msg, m.now())
		m.history = append(m.history, chat)
		m.activeID = chat.ID
	}
	chatID := m.activeID
	m.errMsg = ""
	m.trackLocked(chatID)
	m.persistLocked()
	m.mu.Unlock()

	err := m.jobs.Submit(worker.Job{
		ChatID: chatID,
		Run: func(ctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					m.complete(chatID, "", fmt.Errorf("reply panicked: %v", r))
				}
			}()
			reply, err := m.replier.Reply(ctx, text)
			m.complete(chatID, reply, err)
		},
	})
	if err != nil {
		m.complete(chatID, "", err)
	}
	return msg, true
}

// complete appends the assistant reply to the chat that asked for it. The
// live list only sees it if that chat is still active. Replies for chats that
// were deleted in the meantime are dropped.
func (m *Manager) complete(chatID, reply string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[chatID] == 0 {
		return
	}
	m.untrackLocked(chatID, 1)
	idx := m.indexLocked(chatID)
	if idx < 0 {
		return
	}

	active := chatID == m.activeID
	text := reply
	if err != nil {
		log.Printf("conversation: reply for chat %s failed: %v", chatID, err)
		text = ErrorReplyText
		if active {
			m.errMsg = ErrorBanner
		}
	}
	msg := models.NewMessage(models.RoleAssistant, text)
	m.history[idx].Messages = append(m.history[idx].Messages, msg)
	if active {
		m.live = append(m.live, msg)
	}
	m.persistLocked()
}

// Snapshot returns a copy of the conversation view state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		ActiveID: m.activeID,
		Messages: append([]models.ChatMessage{}, m.live...),
		Loading:  m.activeID != "" && m.pending[m.activeID] > 0,
		Error:    m.errMsg,
	}
}

// History returns a copy of all chats in creation order.
func (m *Manager) History() []models.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.CloneChats(m.history)
}

// Chat returns a copy of one chat.
func (m *Manager) Chat(chatID string) (models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(chatID)
	if idx < 0 {
		return models.Chat{}, ErrChatNotFound
	}
	return m.history[idx].Clone(), nil
}

// Wait blocks until no reply is in flight or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) indexLocked(chatID string) int {
	if chatID == "" {
		return -1
	}
	for i := range m.history {
		if m.history[i].ID == chatID {
			return i
		}
	}
	return -1
}

func (m *Manager) trackLocked(chatID string) {
	if m.inflight == 0 {
		m.idle = make(chan struct{})
	}
	m.inflight++
	m.pending[chatID]++
}

func (m *Manager) untrackLocked(chatID string, n int) {
	if n <= 0 {
		return
	}
	m.pending[chatID] -= n
	if m.pending[chatID] <= 0 {
		delete(m.pending, chatID)
	}
	m.inflight -= n
	if m.inflight <= 0 {
		m.inflight = 0
		close(m.idle)
	}
}

func (m *Manager) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := m.store.Save(ctx, models.CloneChats(m.history)); err != nil {
		log.Printf("conversation: save history: %v", err)
	}
}
