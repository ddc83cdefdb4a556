// Package ytmusic searches the YouTube Music track index. It is the primary
// provider: its results are curated songs rather than arbitrary uploads.
package ytmusic

import (
	"context"
	"strings"

	ytm "github.com/raitonoberu/ytmusic"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/providers/common"
)

// Track is the subset of a YouTube Music track this provider uses.
type Track struct {
	VideoID string
	Title   string
	Artist  string
}

// SearchFunc performs one blocking track search.
type SearchFunc func(query string) ([]Track, error)

type Config struct {
	// Search overrides the YouTube Music client, mainly for tests.
	Search SearchFunc
}

type Provider struct {
	search SearchFunc
}

func NewProvider(cfg Config) *Provider {
	search := cfg.Search
	if search == nil {
		search = searchTracks
	}
	return &Provider{search: search}
}

func (p *Provider) Name() string {
	return "ytmusic"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "YouTube Music",
		Kind:    "index",
		Enabled: true,
	}
}

// Search runs the client on its own goroutine since it takes no context; a
// cancelled ctx returns immediately and the lookup result is discarded.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.MediaReference, error) {
	type result struct {
		tracks []Track
		err    error
	}
	done := make(chan result, 1)
	go func() {
		tracks, err := p.search(query)
		done <- result{tracks: tracks, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, res.err
	}

	items := make([]domain.MediaReference, 0, len(res.tracks))
	for _, track := range res.tracks {
		id := strings.TrimSpace(track.VideoID)
		if id == "" {
			continue
		}
		title := common.CleanTitle(track.Title)
		if artist := common.CleanTitle(track.Artist); artist != "" {
			title = artist + " - " + title
		}
		items = append(items, domain.MediaReference{
			Title:     title,
			SourceURL: common.YTMusicWatchPrefix + id,
			SourceID:  id,
			Provider:  p.Name(),
		})
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func searchTracks(query string) ([]Track, error) {
	page, err := ytm.TrackSearch(query).Next()
	if err != nil {
		return nil, err
	}
	tracks := make([]Track, 0, len(page.Tracks))
	for _, item := range page.Tracks {
		track := Track{VideoID: item.VideoID, Title: item.Title}
		if len(item.Artists) > 0 {
			track.Artist = item.Artists[0].Name
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}
