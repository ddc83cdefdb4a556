// Package ytdlpsearch resolves queries through yt-dlp's built-in search
// extractors (ytsearch, scsearch, ...). It is the slowest provider and sits
// last in the default order.
package ytdlpsearch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/providers/common"
)

const printTemplate = "%(id)s\t%(url)s\t%(title)s\t%(duration)s"

// RunFunc executes yt-dlp with the search target and returns its stdout.
type RunFunc func(ctx context.Context, target string, limit int) (string, error)

type Config struct {
	Prefix   string
	ProxyURL string
	Run      RunFunc
}

type Provider struct {
	prefix string
	run    RunFunc
}

func NewProvider(cfg Config) *Provider {
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "ytsearch"
	}
	run := cfg.Run
	if run == nil {
		proxy := strings.TrimSpace(cfg.ProxyURL)
		run = func(ctx context.Context, target string, limit int) (string, error) {
			cmd := ytdlp.New().
				FlatPlaylist().
				Print(printTemplate).
				PlaylistItems(fmt.Sprintf("1-%d", limit)).
				NoWarnings().
				IgnoreConfig()
			if proxy != "" {
				cmd.Proxy(proxy)
			}
			res, err := cmd.Run(ctx, target)
			if err != nil {
				if res != nil && strings.TrimSpace(res.Stderr) != "" {
					return "", fmt.Errorf("%w: %s", err, common.CompactSnippet(res.Stderr, 200))
				}
				return "", err
			}
			return res.Stdout, nil
		}
	}
	return &Provider{prefix: prefix, run: run}
}

func (p *Provider) Name() string {
	return "ytdlp"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "yt-dlp search (" + p.prefix + ")",
		Kind:    "extractor",
		Enabled: true,
	}
}

func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.MediaReference, error) {
	if limit <= 0 {
		limit = 5
	}
	out, err := p.run(ctx, p.prefix+strconv.Itoa(limit)+":"+query, limit)
	if err != nil {
		return nil, err
	}
	refs := parseLines(out)
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// parseLines reads the tab separated print template output. Rows without a
// usable URL are dropped.
func parseLines(out string) []domain.MediaReference {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	refs := make([]domain.MediaReference, 0, len(lines))
	for _, line := range lines {
		parts := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(parts) < 3 {
			continue
		}
		id, rawURL, title := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), parts[2]
		if id == "NA" {
			id = ""
		}
		if rawURL == "" || rawURL == "NA" {
			if ytID := common.YouTubeID(id); ytID != "" {
				rawURL = common.YouTubeWatchPrefix + ytID
			} else {
				continue
			}
		}
		if id == "" {
			id = common.YouTubeID(rawURL)
		}
		if id == "" {
			id = rawURL
		}
		ref := domain.MediaReference{
			Title:     common.CleanTitle(title),
			SourceURL: rawURL,
			SourceID:  id,
			Provider:  "ytdlp",
		}
		if len(parts) > 3 {
			if seconds, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64); err == nil && seconds > 0 {
				ref.Duration = time.Duration(seconds * float64(time.Second))
			}
		}
		refs = append(refs, ref)
	}
	return refs
}
