// Package invidious searches public Invidious mirrors of the YouTube index
// through their JSON API. Mirrors are tried in order until one answers.
package invidious

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/providers/common"
)

const (
	defaultEndpoint  = "https://inv.nadeko.net"
	defaultUserAgent = "songbot/1.0"
	maxResponseBytes = 2 * 1024 * 1024
)

type Config struct {
	Endpoints string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	endpoints []string
	userAgent string
}

type searchItem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	VideoID       string `json:"videoId"`
	Author        string `json:"author"`
	LengthSeconds int64  `json:"lengthSeconds"`
	LiveNow       bool   `json:"liveNow"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Provider{
		client:    client,
		endpoints: common.ParseEndpoints(cfg.Endpoints, defaultEndpoint),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string {
	return "invidious"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "Invidious",
		Kind:    "mirror",
		Enabled: true,
	}
}

func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.MediaReference, error) {
	var (
		items []searchItem
		errs  []error
	)
	for _, endpoint := range p.endpoints {
		found, err := p.fetch(ctx, endpoint, query)
		if err == nil {
			items = found
			errs = nil
			break
		}
		errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return toReferences(items, limit), nil
}

func (p *Provider) fetch(ctx context.Context, endpoint, query string) ([]searchItem, error) {
	base, err := url.Parse(endpoint)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	searchURL := base.JoinPath("api", "v1", "search")
	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "video")
	params.Set("sort_by", "relevance")
	searchURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, common.CompactSnippet(string(body), 160))
	}

	var items []searchItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return items, nil
}

func toReferences(items []searchItem, limit int) []domain.MediaReference {
	refs := make([]domain.MediaReference, 0, len(items))
	for _, item := range items {
		if item.Type != "" && item.Type != "video" {
			continue
		}
		if item.LiveNow {
			continue
		}
		id := common.YouTubeID(item.VideoID)
		if id == "" {
			continue
		}
		refs = append(refs, domain.MediaReference{
			Title:     common.CleanTitle(item.Title),
			SourceURL: common.YouTubeWatchPrefix + id,
			SourceID:  id,
			Provider:  "invidious",
			Duration:  time.Duration(item.LengthSeconds) * time.Second,
		})
		if limit > 0 && len(refs) >= limit {
			break
		}
	}
	return refs
}
