package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "songbot",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "songbot",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "songbot",
		Name:      "provider_requests_total",
		Help:      "Total requests to source providers by provider name and result status.",
	}, []string{"provider", "status"})

	ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "songbot",
		Name:      "provider_request_duration_seconds",
		Help:      "Source provider request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"provider"})

	ProviderAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "songbot",
		Name:      "provider_available",
		Help:      "Whether a provider is available (1) or blocked by circuit breaker (0).",
	}, []string{"provider"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "songbot",
		Name:      "cache_hits_total",
		Help:      "Total number of resolution cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "songbot",
		Name:      "cache_misses_total",
		Help:      "Total number of resolution cache misses.",
	})

	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "songbot",
		Name:      "cache_entries",
		Help:      "Number of entries held by the resolution cache.",
	})

	ResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "songbot",
		Name:      "resolutions_total",
		Help:      "Resolver outcomes by result (found, not_found, cached).",
	}, []string{"result"})

	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "songbot",
		Name:      "downloads_total",
		Help:      "Finished download jobs by outcome.",
	}, []string{"outcome"})

	DownloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "songbot",
		Name:      "download_duration_seconds",
		Help:      "Time spent fetching one artifact.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	ArtifactBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "songbot",
		Name:      "artifact_bytes",
		Help:      "Size of produced audio artifacts.",
		Buckets:   prometheus.ExponentialBuckets(256*1024, 2, 9),
	})

	QueuePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "songbot",
		Name:      "queue_pending_jobs",
		Help:      "Jobs waiting in conversation queues.",
	})

	ActiveConversations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "songbot",
		Name:      "queue_active_conversations",
		Help:      "Conversations with an active worker.",
	})

	BusyWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "songbot",
		Name:      "queue_busy_workers",
		Help:      "Worker pool slots currently in use.",
	})

	EventSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "songbot",
		Name:      "event_subscribers",
		Help:      "Connected websocket event subscribers.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderAvailable,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEntries,
		ResolutionsTotal,
		DownloadsTotal,
		DownloadDuration,
		ArtifactBytes,
		QueuePending,
		ActiveConversations,
		BusyWorkers,
		EventSubscribers,
	)
}
