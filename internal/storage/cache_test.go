package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatrelay/internal/models"
)

func newTestCache(t *testing.T) *ConversationCache {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate cache: %v", err)
	}
	return NewConversationCache(db)
}

func TestCacheSaveAndLoad(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	conv := models.Conversation{
		models.NewMessage(models.RoleUser, "hello"),
		models.NewMessage(models.RoleAssistant, "hi there"),
	}
	if err := cache.Save(ctx, conv); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d messages, want 2", len(got))
	}
	if got[0].ID != conv[0].ID || got[0].Text() != "hello" {
		t.Fatalf("first message mismatch: %#v", got[0])
	}
	if got[1].Role != models.RoleAssistant {
		t.Fatalf("second message role = %s, want assistant", got[1].Role)
	}
}

func TestCacheOverwritesOnEveryAppend(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	conv := models.Conversation{models.NewMessage(models.RoleUser, "one")}
	if err := cache.Save(ctx, conv); err != nil {
		t.Fatalf("save: %v", err)
	}
	conv = append(conv, models.NewMessage(models.RoleAssistant, "two"))
	if err := cache.Save(ctx, conv); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d messages, want 2", len(got))
	}
}

func TestCacheLoadMissingKey(t *testing.T) {
	cache := newTestCache(t)

	got, err := cache.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil conversation, got %#v", got)
	}
}

func TestCacheDiscardsCorruptPayload(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	_, err := cache.db.ExecContext(ctx,
		`INSERT INTO kv_cache (key, payload, updated_at) VALUES (?, ?, ?)`,
		conversationKey, []byte("{not valid json"), time.Now().UTC())
	if err != nil {
		t.Fatalf("seed corrupt payload: %v", err)
	}

	got, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Fatalf("corrupt payload should yield nil conversation, got %#v", got)
	}

	// The corrupt row must have been cleared.
	var count int
	if err := cache.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_cache WHERE key = ?`, conversationKey).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected corrupt row cleared, found %d rows", count)
	}
}
