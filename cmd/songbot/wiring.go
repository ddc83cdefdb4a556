package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/BMH-cyber/music/internal/app"
	"github.com/BMH-cyber/music/internal/cache"
	"github.com/BMH-cyber/music/internal/delivery"
	"github.com/BMH-cyber/music/internal/download"
	"github.com/BMH-cyber/music/internal/providers/common"
	"github.com/BMH-cyber/music/internal/providers/invidious"
	"github.com/BMH-cyber/music/internal/providers/youtube"
	"github.com/BMH-cyber/music/internal/providers/ytdlpsearch"
	"github.com/BMH-cyber/music/internal/providers/ytmusic"
	"github.com/BMH-cyber/music/internal/search"
)

// openStore returns the configured cache backend. Network backends that
// cannot be reached fall back to the file store so resolutions stay durable.
func openStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "sqlite":
		store, err := cache.OpenSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		logger.Info("sqlite cache opened", slog.String("path", cfg.SQLitePath))
		return store, nil
	case "redis":
		redisOpts, err := redis.ParseURL(strings.TrimSpace(cfg.RedisURL))
		if err != nil {
			logger.Warn("invalid redis url, using file cache", slog.String("error", err.Error()))
			return cache.NewFileStore(cfg.CachePath), nil
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			logger.Warn("redis not reachable, using file cache", slog.String("error", err.Error()))
			return cache.NewFileStore(cfg.CachePath), nil
		}
		logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
		return cache.NewRedisStore(client, ""), nil
	case "mongo":
		client, err := cache.ConnectMongo(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			logger.Warn("mongo connect failed, using file cache", slog.String("error", err.Error()))
			return cache.NewFileStore(cfg.CachePath), nil
		}
		store := cache.NewMongoStore(client, cfg.MongoDatabase, cfg.MongoCollection)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close()
			logger.Warn("mongo not reachable, using file cache", slog.String("error", err.Error()))
			return cache.NewFileStore(cfg.CachePath), nil
		}
		logger.Info("mongo connected",
			slog.String("database", cfg.MongoDatabase),
			slog.String("collection", cfg.MongoCollection),
		)
		return store, nil
	default:
		return cache.NewFileStore(cfg.CachePath), nil
	}
}

func openCache(ctx context.Context, cfg app.Config, logger *slog.Logger) (*cache.Cache, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return cache.New(ctx, store,
		cache.WithTTL(cfg.CacheTTL),
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithLogger(logger),
	), nil
}

// buildProviders registers enabled providers in priority order.
func buildProviders(cfg app.Config) []search.Provider {
	var providers []search.Provider
	p := cfg.Providers
	if p.YTMusic.Enabled {
		providers = append(providers, ytmusic.NewProvider(ytmusic.Config{}))
	}
	if p.Invidious.Enabled {
		providers = append(providers, invidious.NewProvider(invidious.Config{
			Endpoints: p.InvidiousEndpoints,
			UserAgent: cfg.UserAgent,
			Client:    common.NewHTTPClient(cfg.SearchTimeout, p.Invidious.ProxyURL),
		}))
	}
	if p.YouTube.Enabled {
		providers = append(providers, youtube.NewProvider(youtube.Config{
			Client: common.NewHTTPClient(cfg.SearchTimeout, p.YouTube.ProxyURL),
		}))
	}
	if p.Ytdlp.Enabled {
		providers = append(providers, ytdlpsearch.NewProvider(ytdlpsearch.Config{
			Prefix:   p.YtdlpSearchPrefix,
			ProxyURL: p.Ytdlp.ProxyURL,
		}))
	}
	return providers
}

func buildSearchService(cfg app.Config, resolutions search.Cache, logger *slog.Logger) *search.Service {
	opts := []search.ServiceOption{
		search.WithLogger(logger),
		search.WithMaxResults(cfg.SearchMaxResults),
	}
	if resolutions != nil {
		opts = append(opts, search.WithCache(resolutions))
	}
	return search.NewService(buildProviders(cfg), cfg.SearchTimeout, opts...)
}

func buildWorker(cfg app.Config, logger *slog.Logger) *download.Worker {
	fetcher := download.NewYtdlpFetcher(download.YtdlpConfig{
		AudioFormat:  cfg.AudioFormat,
		AudioQuality: cfg.AudioQuality,
		ProxyURL:     cfg.Providers.Ytdlp.ProxyURL,
	})
	return download.NewWorker(fetcher, download.Config{
		MaxBytes:    cfg.MaxArtifactBytes,
		Timeout:     cfg.FetchTimeout,
		CookiesPath: cfg.CookiesPath,
		TempRoot:    cfg.TempDir,
		AudioFormat: cfg.AudioFormat,
	},
		download.WithProber(download.NewFFProbe(cfg.FFProbePath)),
		download.WithLogger(logger),
	)
}

// buildSink picks Telegram when a bot token is configured and the log sink
// otherwise. Event subscribers observe every conversation either way.
func buildSink(cfg app.Config, logger *slog.Logger, hub *delivery.Hub) (delivery.Sink, error) {
	var primary delivery.Sink
	if cfg.TelegramBotToken != "" {
		tg, err := delivery.NewTelegram(delivery.TelegramConfig{
			Token:  cfg.TelegramBotToken,
			APIURL: cfg.TelegramAPIURL,
		})
		if err != nil {
			return nil, err
		}
		primary = tg
	} else {
		logger.Info("telegram bot token not configured, deliveries are logged only")
		primary = delivery.NewLogSink(logger)
	}
	if hub == nil {
		return primary, nil
	}
	return delivery.NewFanout(logger, primary, hub), nil
}
