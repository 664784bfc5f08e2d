// Package storage persists the client's conversation to a local sqlite
// key-value table. The cache is best effort: it is rewritten on every
// append and corrupt payloads are discarded at load time. It is never a
// source of truth.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatrelay/internal/models"
)

// conversationKey is the fixed key the conversation lives under.
const conversationKey = "conversation"

// Open connects to the sqlite cache at the provided path.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("cache path must be provided")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}
	return db, nil
}

// Migrate ensures the key-value table is present.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv_cache (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("migrate cache: %w", err)
	}
	return nil
}

// ConversationCache stores one serialized conversation under a fixed key.
type ConversationCache struct {
	db *sql.DB
}

// NewConversationCache wraps an opened, migrated cache database.
func NewConversationCache(db *sql.DB) *ConversationCache {
	return &ConversationCache{db: db}
}

// Save serializes the conversation and overwrites the cached copy.
func (c *ConversationCache) Save(ctx context.Context, conv models.Conversation) error {
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO kv_cache (key, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		conversationKey, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write conversation cache: %w", err)
	}
	return nil
}

// Load restores the cached conversation. A missing key yields a nil
// conversation; a corrupt payload is discarded, the key cleared, and nil
// returned rather than an error.
func (c *ConversationCache) Load(ctx context.Context) (models.Conversation, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM kv_cache WHERE key = ?`, conversationKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation cache: %w", err)
	}
	var conv models.Conversation
	if err := json.Unmarshal(payload, &conv); err != nil {
		_ = c.Clear(ctx)
		return nil, nil
	}
	return conv, nil
}

// Clear removes the cached conversation.
func (c *ConversationCache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM kv_cache WHERE key = ?`, conversationKey)
	if err != nil {
		return fmt.Errorf("clear conversation cache: %w", err)
	}
	return nil
}
