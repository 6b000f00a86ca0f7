package storage

import (
	"fmt"

	"portfoliochat/internal/config"
	"portfoliochat/internal/redis"
)

// OpenHistoryStore builds the store selected by cfg.History.Backend. The
// returned close func releases any connection the store holds.
func OpenHistoryStore(cfg *config.Config) (HistoryStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.History.Backend {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "file":
		st, err := NewFileStore(cfg.History.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil
	case "sqlite", "sqlite3", "mysql":
		db, err := Open(cfg.History.Backend, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := Migrate(db, cfg.History.Backend); err != nil {
			db.Close()
			return nil, nil, err
		}
		st, err := NewSQLStore(db, cfg.History.Backend, cfg.History.Key)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, db.Close, nil
	case "redis":
		client, err := redis.NewRedisClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		st, err := NewRedisStore(client, cfg.History.Key)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return st, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported history backend: %s", cfg.History.Backend)
	}
}
