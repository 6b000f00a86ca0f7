package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"portfoliochat/internal/models"
)

// HistoryStore persists the whole chat history collection under one record.
// Load never fails: anything unreadable comes back as an empty collection.
type HistoryStore interface {
	Load(ctx context.Context) []models.Chat
	Save(ctx context.Context, chats []models.Chat) error
	Clear(ctx context.Context) error
}

// DecodeHistory parses a stored record. Missing, malformed, null and
// non-array payloads all decode to an empty collection.
func DecodeHistory(raw []byte) []models.Chat {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		if len(raw) > 0 {
			log.Printf("history record is not an array, starting empty")
		}
		return []models.Chat{}
	}
	var chats []models.Chat
	if err := json.Unmarshal(raw, &chats); err != nil {
		log.Printf("history record is corrupt, starting empty: %v", err)
		return []models.Chat{}
	}
	valid, dropped := sanitizeHistory(chats)
	if dropped > 0 {
		log.Printf("history record has %d invalid entries, dropped", dropped)
	}
	return valid
}

// sanitizeHistory drops messages with an unknown role and chats that end up
// without an id or messages.
func sanitizeHistory(chats []models.Chat) ([]models.Chat, int) {
	out := make([]models.Chat, 0, len(chats))
	dropped := 0
	for _, chat := range chats {
		msgs := chat.Messages[:0:0]
		for _, msg := range chat.Messages {
			if !msg.Role.Valid() {
				dropped++
				continue
			}
			msgs = append(msgs, msg)
		}
		if chat.ID == "" || len(msgs) == 0 {
			dropped++
			continue
		}
		chat.Messages = msgs
		out = append(out, chat)
	}
	return out, dropped
}

// EncodeHistory serializes the collection; nil encodes as an empty array.
func EncodeHistory(chats []models.Chat) ([]byte, error) {
	if chats == nil {
		chats = []models.Chat{}
	}
	data, err := json.Marshal(chats)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return data, nil
}

// MemoryStore keeps the encoded record in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	record []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DecodeHistory(s.record)
}

func (s *MemoryStore) Save(_ context.Context, chats []models.Chat) error {
	data, err := EncodeHistory(chats)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.record = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.record = nil
	s.mu.Unlock()
	return nil
}

// Raw returns the stored record, or nil when nothing is stored.
func (s *MemoryStore) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil
	}
	return append([]byte(nil), s.record...)
}

// SetRaw replaces the stored record verbatim.
func (s *MemoryStore) SetRaw(raw []byte) {
	s.mu.Lock()
	s.record = append([]byte(nil), raw...)
	s.mu.Unlock()
}
