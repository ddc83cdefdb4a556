// Package youtube searches the public YouTube results page through the
// ytsearch scraper.
package youtube

import (
	"context"
	"net/http"

	"github.com/ppalone/ytsearch"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/providers/common"
)

type Video struct {
	VideoID string
	Title   string
}

type SearchFunc func(ctx context.Context, query string) ([]Video, error)

type Config struct {
	Client *http.Client
	// Search replaces the scraper; used by tests.
	Search SearchFunc
}

type Provider struct {
	search SearchFunc
}

func NewProvider(cfg Config) *Provider {
	search := cfg.Search
	if search == nil {
		client := ytsearch.NewClient(cfg.Client)
		search = func(ctx context.Context, query string) ([]Video, error) {
			res, err := client.Search(ctx, query)
			if err != nil {
				return nil, err
			}
			videos := make([]Video, 0, len(res.Results))
			for _, item := range res.Results {
				videos = append(videos, Video{VideoID: item.VideoID, Title: item.Title})
			}
			return videos, nil
		}
	}
	return &Provider{search: search}
}

func (p *Provider) Name() string {
	return "youtube"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "YouTube",
		Kind:    "scraper",
		Enabled: true,
	}
}

func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.MediaReference, error) {
	videos, err := p.search(ctx, query)
	if err != nil {
		return nil, err
	}
	refs := make([]domain.MediaReference, 0, len(videos))
	seen := make(map[string]struct{}, len(videos))
	for _, video := range videos {
		id := common.YouTubeID(video.VideoID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, domain.MediaReference{
			Title:     common.CleanTitle(video.Title),
			SourceURL: common.YouTubeWatchPrefix + id,
			SourceID:  id,
			Provider:  "youtube",
		})
		if limit > 0 && len(refs) >= limit {
			break
		}
	}
	return refs, nil
}
