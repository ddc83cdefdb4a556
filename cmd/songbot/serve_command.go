package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	apihttp "github.com/BMH-cyber/music/internal/api/http"
	"github.com/BMH-cyber/music/internal/app"
	"github.com/BMH-cyber/music/internal/delivery"
	"github.com/BMH-cyber/music/internal/download"
	"github.com/BMH-cyber/music/internal/metrics"
	"github.com/BMH-cyber/music/internal/pipeline"
	"github.com/BMH-cyber/music/internal/telemetry"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and download workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, ctx.log())
		},
	}
}

func runServe(ctx context.Context, cfg app.Config, logger *slog.Logger) error {
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(ctx, "songbot")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "songbot"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("cacheBackend", cfg.CacheBackend),
		slog.Duration("cacheTTL", cfg.CacheTTL),
		slog.Duration("searchTimeout", cfg.SearchTimeout),
		slog.Int("workers", cfg.WorkerConcurrency),
		slog.Int64("maxArtifactBytes", cfg.MaxArtifactBytes),
		slog.Bool("hasCookies", cfg.CookiesPath != ""),
		slog.Bool("hasTelegram", cfg.TelegramBotToken != ""),
	)

	if cfg.YtdlpAutoInstall {
		if err := download.EnsureYtdlp(ctx); err != nil {
			logger.Warn("yt-dlp install failed", slog.String("error", err.Error()))
		}
	}

	resolutions, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := resolutions.Close(); err != nil {
			logger.Warn("cache close failed", slog.String("error", err.Error()))
		}
	}()

	searchService := buildSearchService(cfg, resolutions, logger)
	worker := buildWorker(cfg, logger)

	hub := delivery.NewHub(logger)
	go hub.Run()
	defer hub.Close()

	sink, err := buildSink(cfg, logger, hub)
	if err != nil {
		return err
	}

	songs := pipeline.New(searchService, worker, sink,
		pipeline.WithLogger(logger),
		pipeline.WithConcurrency(cfg.WorkerConcurrency),
		pipeline.WithMaxBytes(worker.MaxBytes()),
	)

	handler := apihttp.NewServer(searchService, songs,
		apihttp.WithLogger(logger),
		apihttp.WithEvents(hub),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// /events holds websocket connections open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("songbot started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("providers", len(searchService.Providers())),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	if err := songs.Close(shutdownCtx); err != nil {
		logger.Warn("pipeline shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("songbot stopped")
	return serveErr
}
