// Package main implements the knowledgescanner CLI: one-shot ingestion and retrieval
// commands plus the long-running serve and daemon modes.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"KnowledgeScanner/internal/app"
	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/logging"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "knowledgescanner",
		Short: "Ingest, judge and semantically index knowledge sources",
		Long: `knowledgescanner scrapes configured feeds, pages and file drops, asks an LLM whether
each item is relevant to the configured topics, stores accepted items and indexes them
for semantic search.

Configuration is read from the YAML file named by KNOWLEDGE_SCANNER_CONFIG plus
environment overrides (a .env file in the working directory is honoured).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		reindexCmd(),
		searchCmd(),
		recentCmd(),
		statsCmd(),
		ingestCmd(),
		configCmd(),
		serveCmd(),
		daemonCmd(),
	)
	return root
}

// withApp loads configuration, builds the application and closes it after fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	cfg := config.Load()
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}

	err = fn(ctx, a)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logger.Error("command failed", "command", cmd.Name(), "error", err)
	}
	if cerr := a.Close(); cerr != nil {
		logger.Warn("close application", "error", cerr)
	}
	return err
}
