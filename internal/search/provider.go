package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/BMH-cyber/music/internal/domain"
)

var (
	ErrInvalidQuery = domain.ErrInvalidQuery
	ErrNoProviders  = errors.New("no source providers configured")
)

// Provider looks a query up in one media index. Results are ordered most
// relevant first and hold at most limit entries. Errors are reported to the
// Service, which logs them and treats the provider as having found nothing.
type Provider interface {
	Name() string
	Info() domain.ProviderInfo
	Search(ctx context.Context, query string, limit int) ([]domain.MediaReference, error)
}

// Cache is the resolution cache consulted before any provider is queried.
type Cache interface {
	Get(ctx context.Context, key string) (domain.MediaReference, bool)
	Put(ctx context.Context, key string, ref domain.MediaReference) error
}

type Service struct {
	providers  []Provider
	timeout    time.Duration
	maxResults int
	cache      Cache
	logger     *slog.Logger
	retry      RetryConfig
	now        func() time.Time

	flight singleflight.Group

	healthMu sync.Mutex
	health   map[string]*providerHealth

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int
}

type ServiceOption func(*Service)

func WithCache(cache Cache) ServiceOption {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxResults sets how many candidates each provider is asked for.
func WithMaxResults(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxResults = n
		}
	}
}

// WithProviderRateLimit caps outgoing requests per provider.
func WithProviderRateLimit(perSecond float64, burst int) ServiceOption {
	return func(s *Service) {
		if perSecond > 0 {
			s.rateLimit = rate.Limit(perSecond)
		}
		if burst > 0 {
			s.rateBurst = burst
		}
	}
}

func WithRetryConfig(cfg RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retry = cfg
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService registers providers in priority order: earlier providers win
// when several return candidates for the same query.
func NewService(providers []Provider, timeout time.Duration, opts ...ServiceOption) *Service {
	registered := make([]Provider, 0, len(providers))
	seen := make(map[string]struct{}, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := providerKey(provider)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		registered = append(registered, provider)
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	svc := &Service{
		providers:  registered,
		timeout:    timeout,
		maxResults: 5,
		logger:     slog.Default(),
		retry:      DefaultRetryConfig(),
		now:        time.Now,
		health:     make(map[string]*providerHealth),
		limiters:   make(map[string]*rate.Limiter),
		rateLimit:  5,
		rateBurst:  5,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Providers lists registered providers in priority order.
func (s *Service) Providers() []domain.ProviderInfo {
	items := make([]domain.ProviderInfo, 0, len(s.providers))
	for i, provider := range s.providers {
		info := provider.Info()
		if strings.TrimSpace(info.Name) == "" {
			info.Name = provider.Name()
		}
		info.Priority = i + 1
		items = append(items, info)
	}
	return items
}

func providerKey(provider Provider) string {
	return strings.ToLower(strings.TrimSpace(provider.Name()))
}
