package ytmusic

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSearchMapsTracks(t *testing.T) {
	p := NewProvider(Config{Search: func(query string) ([]Track, error) {
		if query != "test song" {
			t.Fatalf("unexpected query %q", query)
		}
		return []Track{
			{VideoID: "abcdefghijk", Title: "Test  Song", Artist: "Band"},
			{VideoID: "", Title: "skipped"},
			{VideoID: "bbbbbbbbbbb", Title: "Second"},
			{VideoID: "ccccccccccc", Title: "Third"},
		}, nil
	}})

	items, err := p.Search(context.Background(), "test song", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(items))
	}
	if items[0].Title != "Band - Test Song" {
		t.Fatalf("unexpected title %q", items[0].Title)
	}
	if items[0].SourceURL != "https://music.youtube.com/watch?v=abcdefghijk" || items[0].SourceID != "abcdefghijk" {
		t.Fatalf("unexpected reference %+v", items[0])
	}
	if items[1].SourceID != "bbbbbbbbbbb" || items[1].Title != "Second" {
		t.Fatalf("unexpected second item %+v", items[1])
	}
}

func TestSearchPropagatesError(t *testing.T) {
	boom := errors.New("innertube: 429")
	p := NewProvider(Config{Search: func(string) ([]Track, error) { return nil, boom }})
	if _, err := p.Search(context.Background(), "q", 5); !errors.Is(err, boom) {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestSearchHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := NewProvider(Config{Search: func(string) ([]Track, error) {
		<-release
		return nil, nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Search(ctx, "q", 5); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
