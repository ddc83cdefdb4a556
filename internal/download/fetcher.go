package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

// FetchRequest describes one fetch attempt into Dir.
type FetchRequest struct {
	URL         string
	Dir         string
	CookiesPath string
}

// Fetcher downloads and extracts audio for a source URL into a directory.
// Errors should carry the tool's diagnostic output so auth challenges can be
// recognised.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) error
}

type YtdlpConfig struct {
	AudioFormat  string
	AudioQuality string
	ProxyURL     string
}

// YtdlpFetcher runs yt-dlp with audio extraction.
type YtdlpFetcher struct {
	cfg YtdlpConfig
}

func NewYtdlpFetcher(cfg YtdlpConfig) *YtdlpFetcher {
	if strings.TrimSpace(cfg.AudioFormat) == "" {
		cfg.AudioFormat = "mp3"
	}
	if strings.TrimSpace(cfg.AudioQuality) == "" {
		cfg.AudioQuality = "192K"
	}
	return &YtdlpFetcher{cfg: cfg}
}

func (f *YtdlpFetcher) Fetch(ctx context.Context, req FetchRequest) error {
	if strings.TrimSpace(req.URL) == "" {
		return errors.New("source url is required")
	}
	cmd := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat(f.cfg.AudioFormat).
		AudioQuality(f.cfg.AudioQuality).
		Output(filepath.Join(req.Dir, "%(id)s.%(ext)s")).
		NoPlaylist().
		NoWarnings().
		IgnoreConfig()
	if req.CookiesPath != "" {
		cmd.Cookies(req.CookiesPath)
	}
	if f.cfg.ProxyURL != "" {
		cmd.Proxy(f.cfg.ProxyURL)
	}

	res, err := cmd.Run(ctx, req.URL)
	if err != nil {
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			return fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(res.Stderr))
		}
		return fmt.Errorf("yt-dlp: %w", err)
	}
	return nil
}

// EnsureYtdlp downloads a yt-dlp binary into the user cache when none is
// available on PATH.
func EnsureYtdlp(ctx context.Context) error {
	_, err := ytdlp.Install(ctx, nil)
	return err
}
