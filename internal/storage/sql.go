package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"portfoliochat/internal/models"
)

// SQLStore keeps the history record as one row of history_records.
type SQLStore struct {
	db     *sql.DB
	driver string
	name   string
}

// NewSQLStore expects Migrate to have run against db.
func NewSQLStore(db *sql.DB, driver, name string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	driver = strings.ToLower(driver)
	switch driver {
	case "sqlite", "sqlite3", "mysql":
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
	if name == "" {
		return nil, errors.New("history record name is required")
	}
	return &SQLStore{db: db, driver: driver, name: name}, nil
}

func (s *SQLStore) Load(ctx context.Context) []models.Chat {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM history_records WHERE name = ?`, s.name,
	).Scan(&payload)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("load history record %s: %v", s.name, err)
		}
		return []models.Chat{}
	}
	return DecodeHistory([]byte(payload))
}

func (s *SQLStore) Save(ctx context.Context, chats []models.Chat) error {
	data, err := EncodeHistory(chats)
	if err != nil {
		return err
	}
	var stmt string
	if s.driver == "mysql" {
		stmt = `INSERT INTO history_records (name, payload, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`
	} else {
		stmt = `INSERT INTO history_records (name, payload, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, stmt, s.name, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("save history record: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history_records WHERE name = ?`, s.name); err != nil {
		return fmt.Errorf("clear history record: %w", err)
	}
	return nil
}
