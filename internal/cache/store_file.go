package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/BMH-cyber/music/internal/domain"
)

// fileRecord is the on-disk shape of one entry inside the cache document.
type fileRecord struct {
	Title     string        `json:"title"`
	SourceURL string        `json:"source_url"`
	SourceID  string        `json:"source_id"`
	Provider  string        `json:"provider,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	CreatedAt time.Time     `json:"ts"`
}

// FileStore keeps the whole cache as one JSON document keyed by normalized
// query. Every change rewrites the document atomically. A sidecar lock file
// serializes writers across processes (the service and the CLI).
type FileStore struct {
	path    string
	lock    *flock.Flock
	mu      sync.Mutex
	records map[string]fileRecord
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:    path,
		lock:    flock.New(path + ".lock"),
		records: make(map[string]fileRecord),
	}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) ([]domain.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock cache file: %w", err)
	}
	data, err := os.ReadFile(s.path)
	_ = s.lock.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	records := make(map[string]fileRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse cache file: %w", err)
	}
	s.records = records

	items := make([]domain.CacheEntry, 0, len(records))
	for key, record := range records {
		items = append(items, domain.CacheEntry{
			Key: key,
			Value: domain.MediaReference{
				Title:        record.Title,
				SourceURL:    record.SourceURL,
				SourceID:     record.SourceID,
				Provider:     record.Provider,
				Duration:     record.Duration,
				DiscoveredAt: record.CreatedAt,
			},
			CreatedAt: record.CreatedAt,
		})
	}
	return items, nil
}

func (s *FileStore) Save(ctx context.Context, entry domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[entry.Key] = fileRecord{
		Title:     entry.Value.Title,
		SourceURL: entry.Value.SourceURL,
		SourceID:  entry.Value.SourceID,
		Provider:  entry.Value.Provider,
		Duration:  entry.Value.Duration,
		CreatedAt: entry.CreatedAt,
	}
	return s.writeLocked()
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return nil
	}
	delete(s.records, key)
	return s.writeLocked()
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]fileRecord)
	return s.writeLocked()
}

func (s *FileStore) Close() error {
	return s.lock.Close()
}

func (s *FileStore) writeLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock cache file: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
