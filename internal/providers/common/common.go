// Package common holds helpers shared by the source providers.
package common

import (
	"errors"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	YouTubeWatchPrefix = "https://www.youtube.com/watch?v="
	YTMusicWatchPrefix = "https://music.youtube.com/watch?v="
)

var (
	tagPattern        = regexp.MustCompile(`(?s)<[^>]*>`)
	youtubeIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	youtubeURLPattern = regexp.MustCompile(`(?:v=|youtu\.be/|/shorts/|/embed/)([A-Za-z0-9_-]{11})`)
)

// NewHTTPClient builds a traced client. proxyRaw, when set, routes every
// request through that proxy; otherwise environment proxies are ignored.
func NewHTTPClient(timeout time.Duration, proxyRaw string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = true
	transport.Proxy = nil

	if value := strings.TrimSpace(proxyRaw); value != "" {
		parsed, err := url.Parse(value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			if err == nil {
				err = errors.New("missing scheme or host")
			}
			slog.Default().Warn("invalid provider proxy url; proxy disabled", slog.String("error", err.Error()))
		} else {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

// ParseEndpoints splits a comma separated endpoint list, dropping blanks,
// trailing slashes and duplicates. fallback is used when nothing remains.
func ParseEndpoints(raw string, fallback ...string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		endpoint := strings.TrimRight(strings.TrimSpace(part), "/")
		if endpoint == "" {
			continue
		}
		if _, exists := seen[endpoint]; exists {
			continue
		}
		seen[endpoint] = struct{}{}
		items = append(items, endpoint)
	}
	if len(items) == 0 {
		return append([]string(nil), fallback...)
	}
	return items
}

// CompactSnippet flattens an error body for log and error messages.
func CompactSnippet(raw string, maxLen int) string {
	value := html.UnescapeString(tagPattern.ReplaceAllString(raw, " "))
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return "empty response body"
	}
	if len(value) <= maxLen {
		return value
	}
	if maxLen < 4 {
		return value[:maxLen]
	}
	return value[:maxLen-3] + "..."
}

// YouTubeID extracts an 11 character video id from an id or watch URL.
func YouTubeID(raw string) string {
	value := strings.TrimSpace(raw)
	if youtubeIDPattern.MatchString(value) {
		return value
	}
	if m := youtubeURLPattern.FindStringSubmatch(value); len(m) == 2 {
		return m[1]
	}
	return ""
}

func CleanTitle(raw string) string {
	return strings.Join(strings.Fields(html.UnescapeString(raw)), " ")
}
