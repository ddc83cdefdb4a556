package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BMH-cyber/music/internal/domain"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS resolutions (
	key         TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	source_url  TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	provider    TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
)`

// SQLiteStore keeps one row per cache key.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]domain.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, title, source_url, source_id, provider, duration_ms, created_at FROM resolutions`)
	if err != nil {
		return nil, fmt.Errorf("query resolutions: %w", err)
	}
	defer rows.Close()

	var items []domain.CacheEntry
	for rows.Next() {
		var (
			entry      domain.CacheEntry
			durationMS int64
			createdAt  int64
		)
		if err := rows.Scan(&entry.Key, &entry.Value.Title, &entry.Value.SourceURL, &entry.Value.SourceID,
			&entry.Value.Provider, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		entry.Value.Duration = time.Duration(durationMS) * time.Millisecond
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entry.Value.DiscoveredAt = entry.CreatedAt
		items = append(items, entry)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, entry domain.CacheEntry) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO resolutions (key, title, source_url, source_id, provider, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	title = excluded.title,
	source_url = excluded.source_url,
	source_id = excluded.source_id,
	provider = excluded.provider,
	duration_ms = excluded.duration_ms,
	created_at = excluded.created_at`,
			entry.Key, entry.Value.Title, entry.Value.SourceURL, entry.Value.SourceID,
			entry.Value.Provider, entry.Value.Duration.Milliseconds(), entry.CreatedAt.UnixMilli())
		return err
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM resolutions WHERE key = ?`, key)
		return err
	})
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM resolutions`)
		return err
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
