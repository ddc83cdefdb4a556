// Package cache keeps the normalized-query to media-reference mapping with a
// fixed time-to-live, backed by a pluggable durable Store.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/metrics"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultMaxEntries = 5000
)

// Store persists cache entries. Implementations must tolerate Delete of a
// missing key.
type Store interface {
	Load(ctx context.Context) ([]domain.CacheEntry, error)
	Save(ctx context.Context, entry domain.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

type Cache struct {
	mu         sync.Mutex
	entries    map[string]domain.CacheEntry
	store      Store
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a cache and loads every persisted entry from store. A store that
// cannot be read is logged and the cache starts empty.
func New(ctx context.Context, store Store, opts ...Option) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Cache{
		entries:    make(map[string]domain.CacheEntry),
		store:      store,
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		c.logger.Warn("resolution cache unreadable, starting empty",
			slog.String("error", err.Error()),
		)
		loaded = nil
	}

	now := c.now()
	expired := 0
	for _, entry := range loaded {
		if entry.Key == "" || entry.Value.IsZero() {
			continue
		}
		if entry.Expired(now, c.ttl) {
			expired++
			continue
		}
		if current, ok := c.entries[entry.Key]; ok && current.CreatedAt.After(entry.CreatedAt) {
			continue
		}
		c.entries[entry.Key] = entry
	}
	c.mu.Lock()
	c.trimLocked(ctx)
	c.mu.Unlock()
	metrics.CacheEntries.Set(float64(len(c.entries)))

	c.logger.Info("resolution cache loaded",
		slog.Int("entries", len(c.entries)),
		slog.Int("expired", expired),
		slog.Duration("ttl", c.ttl),
	)
	return c
}

// Get returns the reference stored under key. Entries older than the TTL are
// reported absent and evicted.
func (c *Cache) Get(ctx context.Context, key string) (domain.MediaReference, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return domain.MediaReference{}, false
	}
	if entry.Expired(c.now(), c.ttl) {
		delete(c.entries, key)
		metrics.CacheEntries.Set(float64(len(c.entries)))
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("evict expired cache entry failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return domain.MediaReference{}, false
	}
	return entry.Value, true
}

// Put stores ref under key, replacing any previous value, and persists it.
// The in-memory entry is kept even when persisting fails.
func (c *Cache) Put(ctx context.Context, key string, ref domain.MediaReference) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := domain.CacheEntry{Key: key, Value: ref, CreatedAt: c.now()}
	c.entries[key] = entry
	c.trimLocked(ctx)
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return c.store.Save(ctx, entry)
}

// List returns live entries, newest first.
func (c *Cache) List() []domain.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	items := make([]domain.CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		if entry.Expired(now, c.ttl) {
			continue
		}
		items = append(items, entry)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].Key < items[j].Key
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

// Purge drops every entry from memory and from the store.
func (c *Cache) Purge(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]domain.CacheEntry)
	metrics.CacheEntries.Set(0)
	return c.store.Clear(ctx)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Close() error {
	return c.store.Close()
}

// trimLocked evicts the oldest entries until the cache fits maxEntries.
func (c *Cache) trimLocked(ctx context.Context) {
	overflow := len(c.entries) - c.maxEntries
	if overflow <= 0 {
		return
	}
	items := make([]domain.CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		items = append(items, entry)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	for _, entry := range items[:overflow] {
		delete(c.entries, entry.Key)
		if err := c.store.Delete(ctx, entry.Key); err != nil {
			c.logger.Warn("evict cache entry failed",
				slog.String("key", entry.Key),
				slog.String("error", err.Error()),
			)
		}
	}
}
