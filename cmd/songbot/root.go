package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/BMH-cyber/music/internal/app"
)

type commandContext struct {
	envFiles *[]string

	configOnce sync.Once
	config     app.Config
	configErr  error
	logger     *slog.Logger
}

func newCommandContext(envFiles *[]string) *commandContext {
	return &commandContext{envFiles: envFiles}
}

func (c *commandContext) ensureConfig() (app.Config, error) {
	c.configOnce.Do(func() {
		var files []string
		if c.envFiles != nil {
			files = *c.envFiles
		}
		app.LoadDotEnv(files...)
		cfg := app.LoadConfig()
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = newLogger(cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(c.logger)
	})
	return c.config, c.configErr
}

func (c *commandContext) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

func newRootCommand() *cobra.Command {
	var envFiles []string
	ctx := newCommandContext(&envFiles)
	serveCmd := newServeCommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "songbot",
		Short:         "Resolve song requests and deliver them as audio files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		// Without a subcommand the service runs.
		RunE: serveCmd.RunE,
	}

	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Dotenv files to load before reading the environment (default .env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))

	return rootCmd
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
