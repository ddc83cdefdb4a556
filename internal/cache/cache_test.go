package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BMH-cyber/music/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type brokenStore struct {
	*MemoryStore
	loadErr error
	saveErr error
}

func (s *brokenStore) Load(ctx context.Context) ([]domain.CacheEntry, error) {
	return nil, s.loadErr
}

func (s *brokenStore) Save(ctx context.Context, entry domain.CacheEntry) error {
	return s.saveErr
}

func song(url string) domain.MediaReference {
	return domain.MediaReference{Title: "Song " + url, SourceURL: url, SourceID: url}
}

func TestGetMissingKey(t *testing.T) {
	c := New(context.Background(), NewMemoryStore())
	if _, ok := c.Get(context.Background(), "nothing"); ok {
		t.Fatalf("expected miss")
	}
}

func TestPutThenGet(t *testing.T) {
	c := New(context.Background(), NewMemoryStore())
	if err := c.Put(context.Background(), "test song", song("u1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := c.Get(context.Background(), "test song")
	if !ok || got.SourceURL != "u1" {
		t.Fatalf("expected u1, got %+v (ok=%v)", got, ok)
	}
}

func TestPutOverwritesAndRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	c := New(context.Background(), store, WithClock(clock.Now), WithTTL(time.Hour))

	_ = c.Put(context.Background(), "k", song("u1"))
	clock.Advance(50 * time.Minute)
	_ = c.Put(context.Background(), "k", song("u2"))
	clock.Advance(50 * time.Minute)

	got, ok := c.Get(context.Background(), "k")
	if !ok || got.SourceURL != "u2" {
		t.Fatalf("expected refreshed u2, got %+v (ok=%v)", got, ok)
	}
}

func TestExpiredEntryIsEvicted(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	c := New(context.Background(), store, WithClock(clock.Now))

	_ = c.Put(context.Background(), "k", song("u1"))
	clock.Advance(7 * 24 * time.Hour)
	if _, ok := c.Get(context.Background(), "k"); !ok {
		t.Fatalf("entry exactly at TTL should still be present")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatalf("expected expired entry to be absent")
	}
	if c.Len() != 0 {
		t.Fatalf("expected eviction from memory, len=%d", c.Len())
	}
	persisted, _ := store.Load(context.Background())
	if len(persisted) != 0 {
		t.Fatalf("expected eviction from store, got %+v", persisted)
	}
}

func TestLoadSkipsExpiredAndInvalidEntries(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(
		domain.CacheEntry{Key: "fresh", Value: song("u1"), CreatedAt: clock.Now().Add(-time.Hour)},
		domain.CacheEntry{Key: "stale", Value: song("u2"), CreatedAt: clock.Now().Add(-8 * 24 * time.Hour)},
		domain.CacheEntry{Key: "empty", CreatedAt: clock.Now()},
	)
	c := New(context.Background(), store, WithClock(clock.Now))
	if c.Len() != 1 {
		t.Fatalf("expected 1 live entry, got %d", c.Len())
	}
	if _, ok := c.Get(context.Background(), "fresh"); !ok {
		t.Fatalf("expected fresh entry")
	}
}

func TestUnreadableStoreStartsEmpty(t *testing.T) {
	store := &brokenStore{MemoryStore: NewMemoryStore(), loadErr: errors.New("parse cache file: unexpected EOF")}
	c := New(context.Background(), store)
	if c.Len() != 0 {
		t.Fatalf("expected empty cache")
	}
	if err := c.Put(context.Background(), "k", song("u1")); err != nil {
		t.Fatalf("put after corrupt load: %v", err)
	}
}

func TestPutKeepsEntryWhenPersistFails(t *testing.T) {
	store := &brokenStore{MemoryStore: NewMemoryStore(), saveErr: errors.New("disk full")}
	c := New(context.Background(), store)
	if err := c.Put(context.Background(), "k", song("u1")); err == nil {
		t.Fatalf("expected persist error")
	}
	if _, ok := c.Get(context.Background(), "k"); !ok {
		t.Fatalf("entry should stay in memory")
	}
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	c := New(context.Background(), store, WithClock(clock.Now), WithMaxEntries(2))

	for _, key := range []string{"a", "b", "c"} {
		_ = c.Put(context.Background(), key, song(key))
		clock.Advance(time.Minute)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get(context.Background(), "a"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	persisted, _ := store.Load(context.Background())
	if len(persisted) != 2 {
		t.Fatalf("expected store to be trimmed, got %d", len(persisted))
	}
}

func TestListNewestFirstAndPurge(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	c := New(context.Background(), store, WithClock(clock.Now))
	_ = c.Put(context.Background(), "old", song("u1"))
	clock.Advance(time.Minute)
	_ = c.Put(context.Background(), "new", song("u2"))

	items := c.List()
	if len(items) != 2 || items[0].Key != "new" || items[1].Key != "old" {
		t.Fatalf("unexpected order: %+v", items)
	}

	if err := c.Purge(context.Background()); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after purge")
	}
	persisted, _ := store.Load(context.Background())
	if len(persisted) != 0 {
		t.Fatalf("expected empty store after purge")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(context.Background(), NewMemoryStore())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%4))
			_ = c.Put(context.Background(), key, song(key))
			c.Get(context.Background(), key)
			c.List()
		}(i)
	}
	wg.Wait()
	if c.Len() != 4 {
		t.Fatalf("expected 4 keys, got %d", c.Len())
	}
}
