package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BMH-cyber/music/internal/domain"
)

type fetchStep func(ctx context.Context, req FetchRequest) error

type fakeFetcher struct {
	mu    sync.Mutex
	steps []fetchStep
	calls []FetchRequest
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) error {
	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if idx >= len(f.steps) {
		return errors.New("unexpected fetch")
	}
	return f.steps[idx](ctx, req)
}

func (f *fakeFetcher) Calls() []FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FetchRequest(nil), f.calls...)
}

func writeFile(name string, size int64) fetchStep {
	return func(ctx context.Context, req FetchRequest) error {
		f, err := os.Create(filepath.Join(req.Dir, name))
		if err != nil {
			return err
		}
		defer f.Close()
		return f.Truncate(size)
	}
}

func failWith(msg string) fetchStep {
	return func(ctx context.Context, req FetchRequest) error {
		return errors.New(msg)
	}
}

func blockUntilDone(ctx context.Context, req FetchRequest) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeProber struct {
	info AudioInfo
	err  error
}

func (p fakeProber) Probe(ctx context.Context, path string) (AudioInfo, error) {
	return p.info, p.err
}

const signInError = "ERROR: [youtube] abc: Sign in to confirm you're not a bot. Use --cookies-from-browser or --cookies for the authentication."

var testRef = domain.MediaReference{Title: "Test Song", SourceURL: "https://www.youtube.com/watch?v=aaaaaaaaaaa", SourceID: "aaaaaaaaaaa"}

func newTestWorker(t *testing.T, fetcher Fetcher, cfg Config, opts ...WorkerOption) (*Worker, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "work")
	cfg.TempRoot = root
	return NewWorker(fetcher, cfg, opts...), root
}

func assertEmptyRoot(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read temp root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp root to be empty, found %d entries", len(entries))
	}
}

func assertKind(t *testing.T, err error, want domain.FailureKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s failure, got nil", want)
	}
	if got := domain.FailureKindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

// ---------------------------------------------------------------------------
// Success path
// ---------------------------------------------------------------------------

func TestDownloadProducesArtifact(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{writeFile("aaaaaaaaaaa.mp3", 4096)}}
	w, root := newTestWorker(t, fetcher, Config{AudioFormat: "mp3"})

	artifact, err := w.Download(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.SizeBytes != 4096 || filepath.Base(artifact.Path) != "aaaaaaaaaaa.mp3" || artifact.Title != "Test Song" {
		t.Fatalf("unexpected artifact %+v", artifact)
	}
	if filepath.Dir(artifact.Dir()) != root {
		t.Fatalf("artifact dir %q should live under %q", artifact.Dir(), root)
	}
	if calls := fetcher.Calls(); len(calls) != 1 || calls[0].CookiesPath != "" || calls[0].URL != testRef.SourceURL {
		t.Fatalf("expected one anonymous fetch, got %+v", calls)
	}

	if err := artifact.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := artifact.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	assertEmptyRoot(t, root)
}

func TestDownloadUsesProbeMetadata(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{writeFile("x.mp3", 10)}}
	w, _ := newTestWorker(t, fetcher, Config{}, WithProber(fakeProber{info: AudioInfo{Codec: "mp3", Duration: 3 * time.Minute}}))

	artifact, err := w.Download(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer artifact.Release()
	if artifact.Codec != "mp3" || artifact.Duration != 3*time.Minute {
		t.Fatalf("expected probe metadata, got %+v", artifact)
	}
}

func TestDownloadIgnoresProbeFailure(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{writeFile("x.mp3", 10)}}
	w, _ := newTestWorker(t, fetcher, Config{}, WithProber(fakeProber{err: errors.New("ffprobe missing")}))

	artifact, err := w.Download(context.Background(), domain.MediaReference{SourceURL: "u", Duration: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer artifact.Release()
	if artifact.Duration != time.Minute {
		t.Fatalf("expected reference duration to survive, got %v", artifact.Duration)
	}
}

// ---------------------------------------------------------------------------
// Failure taxonomy
// ---------------------------------------------------------------------------

func TestDownloadTooLargeRemovesTempDir(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{writeFile("big.mp3", 45*1024*1024)}}
	w, root := newTestWorker(t, fetcher, Config{MaxBytes: 30 * 1024 * 1024})

	artifact, err := w.Download(context.Background(), testRef)
	if artifact != nil {
		t.Fatalf("expected no artifact")
	}
	assertKind(t, err, domain.FailureTooLarge)
	var downloadErr *domain.DownloadError
	if !errors.As(err, &downloadErr) || downloadErr.SizeBytes != 45*1024*1024 || downloadErr.LimitBytes != 30*1024*1024 {
		t.Fatalf("expected sizes on error, got %+v", downloadErr)
	}
	assertEmptyRoot(t, root)
}

func TestDownloadAtExactLimitSucceeds(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{writeFile("x.mp3", 1024)}}
	w, _ := newTestWorker(t, fetcher, Config{MaxBytes: 1024})
	artifact, err := w.Download(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	artifact.Release()
}

func TestDownloadNoOutput(t *testing.T) {
	tests := []struct {
		name string
		step fetchStep
	}{
		{"nothing written", func(ctx context.Context, req FetchRequest) error { return nil }},
		{"only partial file", writeFile("x.mp3.part", 100)},
		{"empty file", writeFile("x.mp3", 0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := &fakeFetcher{steps: []fetchStep{tc.step}}
			w, root := newTestWorker(t, fetcher, Config{})
			_, err := w.Download(context.Background(), testRef)
			assertKind(t, err, domain.FailureNoOutput)
			assertEmptyRoot(t, root)
		})
	}
}

func TestDownloadGenericErrorIsFetchError(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{failWith("ERROR: Unsupported URL")}}
	w, root := newTestWorker(t, fetcher, Config{CookiesPath: "/etc/cookies.txt"})

	_, err := w.Download(context.Background(), testRef)
	assertKind(t, err, domain.FailureFetch)
	if len(fetcher.Calls()) != 1 {
		t.Fatalf("non-auth failures must not be retried")
	}
	assertEmptyRoot(t, root)
}

func TestDownloadMissingURL(t *testing.T) {
	fetcher := &fakeFetcher{}
	w, _ := newTestWorker(t, fetcher, Config{})
	_, err := w.Download(context.Background(), domain.MediaReference{Title: "x"})
	assertKind(t, err, domain.FailureFetch)
	if len(fetcher.Calls()) != 0 {
		t.Fatalf("expected no fetch")
	}
}

// ---------------------------------------------------------------------------
// Auth challenge handling
// ---------------------------------------------------------------------------

func TestAuthChallengeWithoutCookiesIsSingleAttempt(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{failWith(signInError)}}
	w, root := newTestWorker(t, fetcher, Config{})

	_, err := w.Download(context.Background(), testRef)
	assertKind(t, err, domain.FailureAuthRequired)
	if len(fetcher.Calls()) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(fetcher.Calls()))
	}
	assertEmptyRoot(t, root)
}

func TestAuthChallengeRetriesOnceWithCookies(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{
		func(ctx context.Context, req FetchRequest) error {
			_ = os.WriteFile(filepath.Join(req.Dir, "x.mp3.part"), []byte("junk"), 0o644)
			return errors.New(signInError)
		},
		writeFile("x.mp3", 2048),
	}}
	w, _ := newTestWorker(t, fetcher, Config{CookiesPath: "/secrets/cookies.txt"})

	artifact, err := w.Download(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer artifact.Release()
	calls := fetcher.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected two attempts, got %d", len(calls))
	}
	if calls[0].CookiesPath != "" || calls[1].CookiesPath != "/secrets/cookies.txt" {
		t.Fatalf("expected anonymous then cookie attempt, got %+v", calls)
	}
	if calls[0].Dir != calls[1].Dir {
		t.Fatalf("retry should reuse the scoped dir")
	}
	if _, err := os.Stat(filepath.Join(artifact.Dir(), "x.mp3.part")); !os.IsNotExist(err) {
		t.Fatalf("leftovers from the first attempt should be cleared")
	}
}

func TestAuthRetryFailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		second fetchStep
		want   domain.FailureKind
	}{
		{"still challenged", failWith("ERROR: Sign in to confirm your age"), domain.FailureAuthRequired},
		{"other error", failWith("ERROR: HTTP Error 500"), domain.FailureFetch},
		{"no output", func(ctx context.Context, req FetchRequest) error { return nil }, domain.FailureNoOutput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := &fakeFetcher{steps: []fetchStep{failWith(signInError), tc.second}}
			w, root := newTestWorker(t, fetcher, Config{CookiesPath: "cookies.txt"})
			_, err := w.Download(context.Background(), testRef)
			assertKind(t, err, tc.want)
			if len(fetcher.Calls()) != 2 {
				t.Fatalf("expected exactly two attempts, got %d", len(fetcher.Calls()))
			}
			assertEmptyRoot(t, root)
		})
	}
}

// ---------------------------------------------------------------------------
// Timeouts and cancellation
// ---------------------------------------------------------------------------

func TestDownloadTimeout(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{blockUntilDone}}
	w, root := newTestWorker(t, fetcher, Config{Timeout: 20 * time.Millisecond})

	_, err := w.Download(context.Background(), testRef)
	assertKind(t, err, domain.FailureTimeout)
	assertEmptyRoot(t, root)
}

func TestDownloadCancelled(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{blockUntilDone}}
	w, root := newTestWorker(t, fetcher, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := w.Download(ctx, testRef)
	assertKind(t, err, domain.FailureCancelled)
	assertEmptyRoot(t, root)
}

// ---------------------------------------------------------------------------
// Output discovery
// ---------------------------------------------------------------------------

func TestLocateOutputPrefersConfiguredFormat(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "a.webm"), make([]byte, 500), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "a.mp3"), make([]byte, 100), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "a.mp3.ytdl"), make([]byte, 900), 0o644)

	path, size, err := locateOutput(dir, "mp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "a.mp3" || size != 100 {
		t.Fatalf("expected a.mp3, got %s (%d)", path, size)
	}

	path, _, err = locateOutput(dir, "opus")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "a.webm" {
		t.Fatalf("expected largest finished file, got %s", path)
	}
}
