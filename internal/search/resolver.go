package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/metrics"
	"github.com/BMH-cyber/music/internal/telemetry"
)

// maxConcurrentProviders bounds in-flight provider calls for one resolve.
const maxConcurrentProviders = 4

// providerOutcome is what one provider contributed to a resolve: either
// candidates or the reason it contributed nothing.
type providerOutcome struct {
	status domain.ProviderStatus
	items  []domain.MediaReference
}

// Resolve maps a free-text query to the best media reference. A query no
// provider can match is reported as found=false with a nil error.
func (s *Service) Resolve(ctx context.Context, query string) (domain.MediaReference, bool, error) {
	resolution, err := s.Search(ctx, query)
	if err != nil {
		return domain.MediaReference{}, false, err
	}
	if !resolution.Found() {
		return domain.MediaReference{}, false, nil
	}
	return *resolution.Reference, true, nil
}

// Search resolves query and returns the full resolution record, including
// every merged candidate and per-provider status.
func (s *Service) Search(ctx context.Context, query string) (domain.Resolution, error) {
	key := Normalize(query)
	if key == "" {
		return domain.Resolution{}, ErrInvalidQuery
	}

	ctx, span := telemetry.Tracer().Start(ctx, "search.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("query.key", key))

	startedAt := time.Now()
	if s.cache != nil {
		if ref, ok := s.cache.Get(ctx, key); ok {
			metrics.CacheHitsTotal.Inc()
			metrics.ResolutionsTotal.WithLabelValues("cached").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return domain.Resolution{
				Query:      query,
				Key:        key,
				Reference:  &ref,
				Candidates: []domain.MediaReference{ref},
				Cached:     true,
				ElapsedMS:  time.Since(startedAt).Milliseconds(),
			}, nil
		}
		metrics.CacheMissesTotal.Inc()
	}

	// Identical keys resolving at the same time share one provider round.
	value, err, shared := s.flight.Do(key, func() (any, error) {
		return s.resolveFresh(ctx, key)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Resolution{}, err
	}
	resolution := value.(domain.Resolution)
	resolution.Query = query
	resolution.ElapsedMS = time.Since(startedAt).Milliseconds()
	span.SetAttributes(
		attribute.Bool("resolve.shared", shared),
		attribute.Bool("resolve.found", resolution.Found()),
		attribute.Int("resolve.candidates", len(resolution.Candidates)),
	)
	return resolution, nil
}

func (s *Service) resolveFresh(ctx context.Context, key string) (domain.Resolution, error) {
	if len(s.providers) == 0 {
		return domain.Resolution{}, ErrNoProviders
	}

	outcomes := s.queryProviders(ctx, key)
	// A cancelled caller must not be mistaken for "no match".
	if err := ctx.Err(); err != nil {
		return domain.Resolution{}, err
	}

	candidates := mergeOutcomes(outcomes)
	statuses := make([]domain.ProviderStatus, 0, len(outcomes))
	for _, outcome := range outcomes {
		statuses = append(statuses, outcome.status)
	}

	resolution := domain.Resolution{
		Key:        key,
		Candidates: candidates,
		Providers:  statuses,
	}
	if len(candidates) == 0 {
		metrics.ResolutionsTotal.WithLabelValues("not_found").Inc()
		s.logger.Info("no provider matched query", slog.String("key", key))
		return resolution, nil
	}

	best := candidates[0]
	resolution.Reference = &best
	metrics.ResolutionsTotal.WithLabelValues("found").Inc()

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, best); err != nil {
			s.logger.Warn("resolution cache write failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info("query resolved",
		slog.String("key", key),
		slog.String("provider", best.Provider),
		slog.String("url", best.SourceURL),
		slog.Int("candidates", len(candidates)),
	)
	return resolution, nil
}

// queryProviders fans out to every provider concurrently and returns one
// outcome per provider, indexed by priority.
func (s *Service) queryProviders(ctx context.Context, query string) []providerOutcome {
	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	outcomes := make([]providerOutcome, len(s.providers))
	sem := semaphore.NewWeighted(maxConcurrentProviders)
	var wg sync.WaitGroup
	for i, provider := range s.providers {
		wg.Add(1)
		go func(index int, current Provider) {
			defer wg.Done()
			outcomes[index] = s.queryProvider(runCtx, sem, current, query)
		}(i, provider)
	}
	wg.Wait()
	return outcomes
}

func (s *Service) queryProvider(ctx context.Context, sem *semaphore.Weighted, provider Provider, query string) (outcome providerOutcome) {
	name := providerKey(provider)
	outcome.status = domain.ProviderStatus{Name: name}

	// A misbehaving provider must not take the resolver down with it.
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("provider panicked",
				slog.String("provider", name),
				slog.Any("panic", recovered),
			)
			outcome.items = nil
			outcome.status.OK = false
			outcome.status.Count = 0
			outcome.status.Error = fmt.Sprintf("panic: %v", recovered)
		}
	}()

	if err := sem.Acquire(ctx, 1); err != nil {
		outcome.status.Error = "context cancelled"
		return outcome
	}
	defer sem.Release(1)

	if blocked, until, lastErr := s.isProviderBlocked(name, s.now()); blocked {
		outcome.status.Error = fmt.Sprintf("provider temporarily unhealthy until %s: %s", until.UTC().Format(time.RFC3339), lastErr)
		return outcome
	}

	if err := s.waitProviderRateLimit(ctx, name); err != nil {
		outcome.status.Error = "rate limit wait cancelled"
		return outcome
	}

	startedAt := time.Now()
	var items []domain.MediaReference
	err := RetryWithBackoff(ctx, s.retry, func() error {
		var searchErr error
		items, searchErr = provider.Search(ctx, query, s.maxResults)
		return searchErr
	})
	latency := time.Since(startedAt)
	outcome.status.ElapsedMS = latency.Milliseconds()

	// Cancellation of the whole resolve says nothing about provider health.
	if !errors.Is(ctx.Err(), context.Canceled) {
		s.recordProviderResult(name, query, err, latency, s.now())
	}

	if err != nil {
		outcome.status.Error = err.Error()
		s.logger.Warn("provider search failed",
			slog.String("provider", name),
			slog.String("query", query),
			slog.Int64("elapsedMs", latency.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return outcome
	}

	outcome.items = s.sanitizeCandidates(name, items)
	outcome.status.OK = true
	outcome.status.Count = len(outcome.items)
	s.logger.Debug("provider search finished",
		slog.String("provider", name),
		slog.Int("count", outcome.status.Count),
		slog.Int64("elapsedMs", latency.Milliseconds()),
	)
	return outcome
}

// sanitizeCandidates drops unusable entries, stamps provenance and enforces
// the per-provider limit.
func (s *Service) sanitizeCandidates(provider string, items []domain.MediaReference) []domain.MediaReference {
	out := make([]domain.MediaReference, 0, len(items))
	now := s.now()
	for _, item := range items {
		if sourceKey(item.SourceURL) == "" {
			continue
		}
		if item.Provider == "" {
			item.Provider = provider
		}
		if item.DiscoveredAt.IsZero() {
			item.DiscoveredAt = now
		}
		out = append(out, item)
		if len(out) == s.maxResults {
			break
		}
	}
	return out
}

// mergeOutcomes concatenates candidates by provider priority, then by each
// provider's own order, keeping the first occurrence of every source.
func mergeOutcomes(outcomes []providerOutcome) []domain.MediaReference {
	seen := make(map[string]struct{})
	merged := make([]domain.MediaReference, 0)
	for _, outcome := range outcomes {
		for _, item := range outcome.items {
			key := sourceKey(item.SourceURL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, item)
		}
	}
	return merged
}
