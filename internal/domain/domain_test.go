package domain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFailureKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), FailureFetch},
		{"download error", &DownloadError{Kind: FailureAuthRequired}, FailureAuthRequired},
		{"wrapped", fmt.Errorf("job: %w", &DownloadError{Kind: FailureTooLarge}), FailureTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FailureKindOf(tc.err); got != tc.want {
				t.Fatalf("FailureKindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDownloadErrorMessageAndUnwrap(t *testing.T) {
	err := &DownloadError{Kind: FailureTooLarge, SizeBytes: 40, LimitBytes: 30}
	if !strings.Contains(err.Error(), "40 bytes exceeds limit of 30 bytes") {
		t.Fatalf("unexpected message: %s", err.Error())
	}

	wrapped := &DownloadError{Kind: FailureTimeout, Err: context.DeadlineExceeded}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("expected unwrap to reach context.DeadlineExceeded")
	}
	if (&DownloadError{Kind: FailureNoOutput}).Error() != "no_output_produced" {
		t.Fatalf("unexpected bare message")
	}
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ttl := 7 * 24 * time.Hour
	entry := CacheEntry{CreatedAt: now.Add(-ttl)}
	if entry.Expired(now, ttl) {
		t.Fatalf("entry exactly at ttl should be live")
	}
	if !entry.Expired(now.Add(time.Second), ttl) {
		t.Fatalf("entry past ttl should be expired")
	}
	if entry.Expired(now.Add(365*24*time.Hour), 0) {
		t.Fatalf("zero ttl never expires")
	}
}

func TestArtifactReleaseRemovesDirectoryOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "job")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	artifact := NewArtifact(dir, path, 5, "Song")
	if artifact.Dir() != dir {
		t.Fatalf("unexpected dir %q", artifact.Dir())
	}
	if err := artifact.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected directory removed, stat err=%v", err)
	}
	if err := artifact.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}

	var missing *Artifact
	if missing.Release() != nil || missing.Dir() != "" {
		t.Fatalf("nil artifact should be a no-op")
	}
}

func TestQueueSnapshotLen(t *testing.T) {
	snap := QueueSnapshot{Pending: []Job{{ID: "a"}, {ID: "b"}}}
	if snap.Len() != 2 {
		t.Fatalf("expected 2, got %d", snap.Len())
	}
	snap.Active = &Job{ID: "c"}
	if snap.Len() != 3 {
		t.Fatalf("expected 3, got %d", snap.Len())
	}
}

func TestResolutionFound(t *testing.T) {
	if (Resolution{}).Found() {
		t.Fatalf("empty resolution should not be found")
	}
	if !(Resolution{Reference: &MediaReference{SourceURL: "u"}}).Found() {
		t.Fatalf("expected found")
	}
	if !(MediaReference{}).IsZero() || (MediaReference{SourceID: "x"}).IsZero() {
		t.Fatalf("unexpected IsZero result")
	}
}
