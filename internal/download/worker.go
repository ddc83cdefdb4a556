// Package download turns a MediaReference into a local audio artifact inside
// a scoped temporary directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/metrics"
	"github.com/BMH-cyber/music/internal/telemetry"
)

const (
	DefaultMaxBytes = 30 * 1024 * 1024
	DefaultTimeout  = 5 * time.Minute
)

// Prober reads metadata back from a finished artifact. Probe failures never
// fail a download.
type Prober interface {
	Probe(ctx context.Context, path string) (AudioInfo, error)
}

type Config struct {
	MaxBytes    int64
	Timeout     time.Duration
	CookiesPath string
	TempRoot    string
	AudioFormat string
}

type Worker struct {
	fetcher Fetcher
	prober  Prober
	cfg     Config
	logger  *slog.Logger
}

type WorkerOption func(*Worker)

func WithProber(prober Prober) WorkerOption {
	return func(w *Worker) {
		w.prober = prober
	}
}

func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWorker(fetcher Fetcher, cfg Config, opts ...WorkerOption) *Worker {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.TempRoot) == "" {
		cfg.TempRoot = os.TempDir()
	}
	cfg.AudioFormat = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cfg.AudioFormat)), ".")
	w := &Worker{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

func (w *Worker) MaxBytes() int64 {
	return w.cfg.MaxBytes
}

// Download fetches ref into a fresh directory. On success the caller owns the
// artifact and must Release it; on failure the directory is already gone.
func (w *Worker) Download(ctx context.Context, ref domain.MediaReference) (*domain.Artifact, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "download.Download")
	defer span.End()
	span.SetAttributes(attribute.String("source.url", ref.SourceURL))

	started := time.Now()
	artifact, err := w.download(ctx, ref)
	metrics.DownloadDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		kind := domain.FailureKindOf(err)
		metrics.DownloadsTotal.WithLabelValues(string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		w.logger.Warn("download failed",
			slog.String("url", ref.SourceURL),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	metrics.ArtifactBytes.Observe(float64(artifact.SizeBytes))
	span.SetAttributes(attribute.Int64("artifact.bytes", artifact.SizeBytes))
	w.logger.Info("download complete",
		slog.String("url", ref.SourceURL),
		slog.Int64("bytes", artifact.SizeBytes),
		slog.Duration("elapsed", time.Since(started)),
	)
	return artifact, nil
}

func (w *Worker) download(ctx context.Context, ref domain.MediaReference) (*domain.Artifact, error) {
	if strings.TrimSpace(ref.SourceURL) == "" {
		return nil, &domain.DownloadError{Kind: domain.FailureFetch, Err: errors.New("source url is required")}
	}
	if err := os.MkdirAll(w.cfg.TempRoot, 0o755); err != nil {
		return nil, &domain.DownloadError{Kind: domain.FailureFetch, Err: fmt.Errorf("create temp root: %w", err)}
	}
	dir, err := os.MkdirTemp(w.cfg.TempRoot, "songbot-*")
	if err != nil {
		return nil, &domain.DownloadError{Kind: domain.FailureFetch, Err: fmt.Errorf("create work dir: %w", err)}
	}
	keep := false
	defer func() {
		if !keep {
			if err := os.RemoveAll(dir); err != nil {
				w.logger.Warn("remove work dir failed", slog.String("dir", dir), slog.String("error", err.Error()))
			}
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	if err := w.fetch(ctx, runCtx, ref.SourceURL, dir); err != nil {
		return nil, err
	}

	path, size, err := locateOutput(dir, w.cfg.AudioFormat)
	if err != nil {
		return nil, &domain.DownloadError{Kind: domain.FailureNoOutput, Err: err}
	}
	if size > w.cfg.MaxBytes {
		return nil, &domain.DownloadError{Kind: domain.FailureTooLarge, SizeBytes: size, LimitBytes: w.cfg.MaxBytes}
	}

	artifact := domain.NewArtifact(dir, path, size, ref.Title)
	artifact.Duration = ref.Duration
	if w.prober != nil {
		info, err := w.prober.Probe(runCtx, path)
		if err != nil {
			w.logger.Debug("probe failed", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			artifact.Codec = info.Codec
			if info.Duration > 0 {
				artifact.Duration = info.Duration
			}
			if artifact.Title == "" {
				artifact.Title = info.Title
			}
		}
	}
	keep = true
	return artifact, nil
}

// fetch runs the first attempt without credentials. An auth challenge is
// retried exactly once with the cookies file when one is configured.
func (w *Worker) fetch(parent, runCtx context.Context, url, dir string) error {
	err := w.fetcher.Fetch(runCtx, FetchRequest{URL: url, Dir: dir})
	if err == nil {
		return nil
	}
	if ctxErr := contextFailure(parent, runCtx); ctxErr != nil {
		return ctxErr
	}
	if !IsAuthChallenge(err.Error()) {
		return &domain.DownloadError{Kind: domain.FailureFetch, Err: err}
	}
	if w.cfg.CookiesPath == "" {
		return &domain.DownloadError{Kind: domain.FailureAuthRequired, Err: err}
	}

	w.logger.Info("auth challenge, retrying with cookies", slog.String("url", url))
	if err := clearDir(dir); err != nil {
		return &domain.DownloadError{Kind: domain.FailureFetch, Err: err}
	}
	err = w.fetcher.Fetch(runCtx, FetchRequest{URL: url, Dir: dir, CookiesPath: w.cfg.CookiesPath})
	if err == nil {
		return nil
	}
	if ctxErr := contextFailure(parent, runCtx); ctxErr != nil {
		return ctxErr
	}
	if IsAuthChallenge(err.Error()) {
		return &domain.DownloadError{Kind: domain.FailureAuthRequired, Err: err}
	}
	return &domain.DownloadError{Kind: domain.FailureFetch, Err: err}
}

func contextFailure(parent, runCtx context.Context) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return &domain.DownloadError{Kind: domain.FailureCancelled, Err: parent.Err()}
	}
	if runCtx.Err() != nil {
		return &domain.DownloadError{Kind: domain.FailureTimeout, Err: runCtx.Err()}
	}
	return nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

var partialSuffixes = []string{".part", ".ytdl", ".tmp", ".temp"}

// locateOutput picks the produced audio file: the configured format first,
// otherwise the largest finished file.
func locateOutput(dir, format string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, err
	}
	type candidate struct {
		path string
		size int64
		want bool
	}
	var files []candidate
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if isPartial(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		files = append(files, candidate{
			path: filepath.Join(dir, name),
			size: info.Size(),
			want: format != "" && ext == format,
		})
	}
	if len(files) == 0 {
		return "", 0, errors.New("fetch finished without producing a file")
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].want != files[j].want {
			return files[i].want
		}
		return files[i].size > files[j].size
	})
	return files[0].path, files[0].size, nil
}

func isPartial(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
