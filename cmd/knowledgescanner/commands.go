package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"KnowledgeScanner/internal/app"
	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/usecase"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one ingestion pass and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				summary, err := a.Pipeline().RunOnce(ctx)
				printSummary(cmd.OutOrStdout(), summary)
				return err
			})
		},
	}
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Retry indexing of every stored item that is not indexed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				report, err := a.Pipeline().ReindexCatchUp(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, indexed %d, failed %d\n", report.Attempted, report.Indexed, report.Failed)
				for _, f := range report.Failures {
					fmt.Fprintf(cmd.OutOrStdout(), "  %v\n", f)
				}
				return nil
			})
		},
	}
}

func searchCmd() *cobra.Command {
	var (
		k            int
		sources      []string
		topics       []string
		since, until string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over indexed items",
		Example: `  knowledgescanner search "vector databases in production" -k 5
  knowledgescanner search "robot grasping" --topic Robotics --since 2026-01-01`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.Filter{Sources: sources, Topics: topics}
			var err error
			if filter.Since, err = parseDate(since); err != nil {
				return err
			}
			if filter.Until, err = parseDate(until); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				results, err := a.Pipeline().Search(ctx, strings.Join(args, " "), k, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i, r := range results {
					fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, r.Score, r.Item.Title)
					printItemDetail(out, r.Item)
				}
				if len(results) == 0 {
					fmt.Fprintln(out, "no results")
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "limit", "k", 0, "number of results (0 uses the configured default)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "restrict to source names")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "restrict to topics")
	cmd.Flags().StringVar(&since, "since", "", "earliest date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "latest date (YYYY-MM-DD or RFC3339)")
	return cmd
}

func recentCmd() *cobra.Command {
	var (
		days int
		text string
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently ingested items, or filter stored items by keyword",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				var (
					items []domain.Item
					err   error
				)
				if text != "" {
					items, err = a.Pipeline().QueryByText(ctx, text)
				} else {
					items, err = a.Pipeline().QueryRecent(ctx, days)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, item := range items {
					fmt.Fprintf(out, "- %s (%s, %s)\n", item.Title, item.SourceName, item.Recency().Format(time.DateOnly))
					printItemDetail(out, item)
				}
				fmt.Fprintf(out, "%d items\n", len(items))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "window in days (0 uses the dashboard window)")
	cmd.Flags().StringVar(&text, "text", "", "keyword filter over title, summary and text")
	return cmd
}

func statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count stored items for today and the dashboard window, by source and topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				stats, err := a.Pipeline().Stats(ctx, days)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "window in days (0 uses the dashboard window)")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Upload documents (txt, md, html, xlsx, docx, pdf) and index them immediately",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				out := cmd.OutOrStdout()
				var failed int
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						fmt.Fprintf(out, "%s: %v\n", path, err)
						failed++
						continue
					}
					res, err := a.Pipeline().IngestDocument(ctx, filepath.Base(path), data)
					if err != nil {
						fmt.Fprintf(out, "%s: %v\n", path, err)
						failed++
						continue
					}
					fmt.Fprintf(out, "%s: %s\n", path, ingestOutcome(res))
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d uploads failed", failed, len(args))
				}
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change runtime settings stored in the record store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the settings the next run will use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				s := a.Pipeline().Settings(ctx)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s\n", usecase.ConfigTopics, strings.Join(s.Topics, ", "))
				fmt.Fprintf(out, "%s: %g\n", usecase.ConfigThreshold, s.Threshold)
				fmt.Fprintf(out, "%s: %d\n", usecase.ConfigWindowDays, s.WindowDays)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Override topics, relevance_threshold or dashboard_window_days",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return a.Pipeline().UpdateSetting(ctx, args[0], args[1])
			})
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the search and dashboard HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return a.Serve(ctx)
			})
		},
	}
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Serve the API and run ingestion on the configured interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return a.Daemon(ctx)
			})
		},
	}
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", raw)
}

func ingestOutcome(res usecase.IngestResult) string {
	switch {
	case res.Duplicate:
		return "already stored as " + res.Item.ID
	case res.Indexed:
		return "stored and indexed as " + res.Item.ID
	default:
		return "stored as " + res.Item.ID + ", indexing pending (run reindex)"
	}
}

func printItemDetail(out io.Writer, item domain.Item) {
	if s := item.Summary(); s != "" {
		fmt.Fprintf(out, "   %s\n", s)
	}
	if item.SourceURL != "" {
		fmt.Fprintf(out, "   %s\n", item.SourceURL)
	}
}

func printStats(out io.Writer, s domain.Stats) {
	fmt.Fprintf(out, "today %d, last %d days %d\n", s.Today, s.WindowDays, s.Window)
	printCounts(out, "sources", s.BySource)
	printCounts(out, "topics", s.ByTopic)
}

// printCounts lists counts largest first, ties by name.
func printCounts(out io.Writer, label string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintf(out, "%s:\n", label)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-24s %d\n", k, counts[k])
	}
}

func printSummary(out io.Writer, s domain.RunSummary) {
	fmt.Fprintf(out, "state: %s (%s)\n", s.State, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "fetched %d, known %d, analyzed %d, accepted %d, rejected %d\n",
		s.Fetched, s.Known, s.Analyzed, s.Accepted, s.Rejected)
	fmt.Fprintf(out, "persisted %d, duplicates %d, indexed %d, index failed %d, notified %t\n",
		s.Persisted, s.Duplicates, s.Indexed, s.IndexFailed, s.Notified)
	for _, f := range s.Failures {
		fmt.Fprintf(out, "  %v\n", f)
	}
}
