package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BMH-cyber/music/internal/domain"
)

func TestFileStorePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "song_cache.json")
	ctx := context.Background()

	first := New(ctx, NewFileStore(path))
	if err := first.Put(ctx, "test song", domain.MediaReference{Title: "Test", SourceURL: "u1", SourceID: "id1", Provider: "ytmusic"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should not remain, stat err=%v", err)
	}

	second := New(ctx, NewFileStore(path))
	got, ok := second.Get(ctx, "test song")
	if !ok {
		t.Fatalf("expected entry after restart")
	}
	if got.SourceURL != "u1" || got.SourceID != "id1" || got.Provider != "ytmusic" || got.Title != "Test" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestFileStoreCorruptDocumentIsTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song_cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	c := New(ctx, NewFileStore(path))
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
	if err := c.Put(ctx, "k", domain.MediaReference{SourceURL: "u1", SourceID: "u1"}); err != nil {
		t.Fatalf("put after corrupt load: %v", err)
	}
	reloaded := New(ctx, NewFileStore(path))
	if reloaded.Len() != 1 {
		t.Fatalf("expected the rewritten document to load, got %d entries", reloaded.Len())
	}
}

func TestFileStoreDeleteAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song_cache.json")
	ctx := context.Background()
	store := NewFileStore(path)
	now := time.Now().UTC()
	for _, key := range []string{"a", "b"} {
		if err := store.Save(ctx, domain.CacheEntry{Key: key, Value: domain.MediaReference{SourceURL: key}, CreatedAt: now}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	items, err := NewFileStore(path).Load(ctx)
	if err != nil || len(items) != 1 || items[0].Key != "b" {
		t.Fatalf("unexpected items after delete: %+v err=%v", items, err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	items, err = NewFileStore(path).Load(ctx)
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty store, got %+v err=%v", items, err)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	createdAt := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	entry := domain.CacheEntry{
		Key:       "test song",
		Value:     domain.MediaReference{Title: "T", SourceURL: "u1", SourceID: "id", Provider: "invidious", Duration: 215 * time.Second},
		CreatedAt: createdAt,
	}
	if err := store.Save(ctx, entry); err != nil {
		t.Fatalf("save: %v", err)
	}
	entry.Value.SourceURL = "u2"
	if err := store.Save(ctx, entry); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	items, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 row, got %d", len(items))
	}
	got := items[0]
	if got.Value.SourceURL != "u2" || got.Value.Duration != 215*time.Second || !got.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected row: %+v", got)
	}

	if err := reopened.Delete(ctx, "test song"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	items, _ = reopened.Load(ctx)
	if len(items) != 0 {
		t.Fatalf("expected empty table, got %d", len(items))
	}
}

func TestMongoDocConversion(t *testing.T) {
	createdAt := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	entry := domain.CacheEntry{
		Key:       "k",
		Value:     domain.MediaReference{Title: "T", SourceURL: "u", SourceID: "id", Provider: "youtube", Duration: 3 * time.Minute},
		CreatedAt: createdAt,
	}
	doc := toDoc(entry)
	if doc.Key != "k" || doc.DurationMS != 180000 || doc.CreatedAt != createdAt.UnixMilli() {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	back := fromDoc(doc)
	if back.Key != entry.Key || back.Value.SourceURL != "u" || back.Value.Duration != 3*time.Minute || !back.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected entry: %+v", back)
	}
}

func TestRedisDecodeEntryUsesFieldAsKey(t *testing.T) {
	entry, err := decodeEntry("test song", []byte(`{"key":"other","value":{"title":"T","sourceUrl":"u1","sourceId":"id"},"createdAt":"2026-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Key != "test song" || entry.Value.SourceURL != "u1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if _, err := decodeEntry("bad", []byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}
