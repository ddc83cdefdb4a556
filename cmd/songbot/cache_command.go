package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BMH-cyber/music/internal/domain"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the resolution cache",
	}

	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCachePurgeCommand(ctx))

	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached resolutions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			resolutions, err := openCache(cmd.Context(), cfg, ctx.log())
			if err != nil {
				return err
			}
			defer resolutions.Close()

			entries := resolutions.List()
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			printCacheEntries(cmd.OutOrStdout(), entries, time.Now())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many entries")
	return cmd
}

func newCachePurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove every cached resolution",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			resolutions, err := openCache(cmd.Context(), cfg, ctx.log())
			if err != nil {
				return err
			}
			defer resolutions.Close()

			count := resolutions.Len()
			if err := resolutions.Purge(cmd.Context()); err != nil {
				return fmt.Errorf("purge cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached %s\n", count, pluralize(count, "resolution", "resolutions"))
			return nil
		},
	}
}

func printCacheEntries(out io.Writer, entries []domain.CacheEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "Cache is empty")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.Key,
			entry.Value.Title,
			entry.Value.Provider,
			humanize.RelTime(entry.CreatedAt, now, "ago", "from now"),
			entry.Value.SourceURL,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Query", "Title", "Provider", "Cached", "URL"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	))
	fmt.Fprintf(out, "%d %s\n", len(entries), pluralize(len(entries), "entry", "entries"))
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
