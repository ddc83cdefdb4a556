package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/search"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var noCache bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resolve <query>",
		Short: "Resolve a song query against the configured providers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.log()

			var resolutions search.Cache
			if !noCache {
				c, err := openCache(cmd.Context(), cfg, logger)
				if err != nil {
					return err
				}
				defer c.Close()
				resolutions = c
			}

			service := buildSearchService(cfg, resolutions, logger)
			res, err := service.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResolution(out, res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Skip the resolution cache")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the resolution as JSON")
	return cmd
}

func printResolution(out io.Writer, res domain.Resolution) {
	if !res.Found() {
		fmt.Fprintf(out, "No results for %q\n", res.Query)
	} else {
		source := "providers"
		if res.Cached {
			source = "cache"
		}
		fmt.Fprintf(out, "Selected: %s\n", res.Reference.Title)
		fmt.Fprintf(out, "URL:      %s\n", res.Reference.SourceURL)
		fmt.Fprintf(out, "Source:   %s (%dms)\n", source, res.ElapsedMS)
	}

	if len(res.Providers) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable(
			[]string{"Provider", "Status", "Results", "Elapsed", "Error"},
			providerRows(res.Providers),
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
	}
	if len(res.Candidates) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable(
			[]string{"#", "Title", "Provider", "Duration", "URL"},
			candidateRows(res.Candidates),
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
		))
	}
}

func providerRows(statuses []domain.ProviderStatus) [][]string {
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		state := "ok"
		if !status.OK {
			state = "failed"
		}
		rows = append(rows, []string{
			status.Name,
			state,
			strconv.Itoa(status.Count),
			fmt.Sprintf("%dms", status.ElapsedMS),
			status.Error,
		})
	}
	return rows
}

func candidateRows(candidates []domain.MediaReference) [][]string {
	rows := make([][]string, 0, len(candidates))
	for i, ref := range candidates {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			ref.Title,
			ref.Provider,
			formatDuration(ref.Duration),
			ref.SourceURL,
		})
	}
	return rows
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	total := int(d.Round(time.Second).Seconds())
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, total%3600/60, total%60)
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
