package storage

import (
	"context"
	"errors"
	"fmt"
	"log"

	"portfoliochat/internal/models"
	"portfoliochat/internal/redis"
)

// RedisStore keeps the history record under a single redis key without TTL.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("history key is required")
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Load(ctx context.Context) []models.Chat {
	raw, err := s.client.LoadRecord(ctx, s.key)
	if err != nil {
		if !errors.Is(err, redis.ErrRecordNotFound) {
			log.Printf("load history: %v", err)
		}
		return []models.Chat{}
	}
	return DecodeHistory(raw)
}

func (s *RedisStore) Save(ctx context.Context, chats []models.Chat) error {
	data, err := EncodeHistory(chats)
	if err != nil {
		return err
	}
	if err := s.client.SaveRecord(ctx, s.key, data); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.DeleteRecord(ctx, s.key); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
