package domain

import (
	"os"
	"sync"
	"time"
)

// MediaReference points at one playable audio source discovered by a provider.
type MediaReference struct {
	Title        string        `json:"title"`
	SourceURL    string        `json:"sourceUrl"`
	SourceID     string        `json:"sourceId"`
	Provider     string        `json:"provider,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	DiscoveredAt time.Time     `json:"discoveredAt"`
}

func (r MediaReference) IsZero() bool {
	return r.SourceURL == "" && r.SourceID == ""
}

type CacheEntry struct {
	Key       string         `json:"key"`
	Value     MediaReference `json:"value"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Expired reports whether the entry is older than ttl at now.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > ttl
}

type ProviderInfo struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Kind     string `json:"kind"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsedMs"`
}

type ProviderDiagnostics struct {
	Name                string     `json:"name"`
	Label               string     `json:"label"`
	Kind                string     `json:"kind"`
	Priority            int        `json:"priority"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	LastQuery           string     `json:"lastQuery,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	TimeoutCount        int64      `json:"timeoutCount,omitempty"`
}

// Resolution is the detailed outcome of one resolve call.
type Resolution struct {
	Query      string           `json:"query"`
	Key        string           `json:"key"`
	Reference  *MediaReference  `json:"reference,omitempty"`
	Candidates []MediaReference `json:"candidates"`
	Providers  []ProviderStatus `json:"providers"`
	Cached     bool             `json:"cached"`
	ElapsedMS  int64            `json:"elapsedMs"`
}

func (r Resolution) Found() bool {
	return r.Reference != nil
}

// Artifact is a downloaded audio file living in its own scoped directory.
// Release removes the directory; it is safe to call more than once.
type Artifact struct {
	Path      string        `json:"path"`
	SizeBytes int64         `json:"sizeBytes"`
	Title     string        `json:"title"`
	Duration  time.Duration `json:"duration,omitempty"`
	Codec     string        `json:"codec,omitempty"`

	dir     string
	release sync.Once
}

func NewArtifact(dir, path string, size int64, title string) *Artifact {
	return &Artifact{Path: path, SizeBytes: size, Title: title, dir: dir}
}

func (a *Artifact) Dir() string {
	if a == nil {
		return ""
	}
	return a.dir
}

func (a *Artifact) Release() error {
	if a == nil || a.dir == "" {
		return nil
	}
	var err error
	a.release.Do(func() {
		err = os.RemoveAll(a.dir)
	})
	return err
}
