package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portfoliochat/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// ErrRecordNotFound is returned by LoadRecord when the key does not exist.
var ErrRecordNotFound = errors.New("redis record not found")

// Client stores whole serialized records under plain string keys.
type Client struct {
	inner *redis.Client
}

// NewRedisClient connects using cfg.Redis and verifies the server answers.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	host := cfg.Redis.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Redis.Port
	if port == 0 {
		port = 6379
	}

	inner := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := inner.Ping(ctx).Err(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{inner: inner}, nil
}

// LoadRecord returns the bytes stored under key.
func (c *Client) LoadRecord(ctx context.Context, key string) ([]byte, error) {
	data, err := c.inner.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// SaveRecord overwrites key with data. Records never expire.
func (c *Client) SaveRecord(ctx context.Context, key string, data []byte) error {
	if err := c.inner.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// DeleteRecord removes key; a missing key is not an error.
func (c *Client) DeleteRecord(ctx context.Context, key string) error {
	if err := c.inner.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
