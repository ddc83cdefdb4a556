package cache

import (
	"context"
	"sync"

	"github.com/BMH-cyber/music/internal/domain"
)

// MemoryStore keeps entries for the life of the process only.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
}

func NewMemoryStore(seed ...domain.CacheEntry) *MemoryStore {
	s := &MemoryStore{entries: make(map[string]domain.CacheEntry, len(seed))}
	for _, entry := range seed {
		s.entries[entry.Key] = entry
	}
	return s
}

func (s *MemoryStore) Load(ctx context.Context) ([]domain.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]domain.CacheEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		items = append(items, entry)
	}
	return items, nil
}

func (s *MemoryStore) Save(ctx context.Context, entry domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]domain.CacheEntry)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
