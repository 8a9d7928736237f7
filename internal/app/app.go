package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"KnowledgeScanner/internal/api"
	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/infrastructure/docproc"
	"KnowledgeScanner/internal/infrastructure/embedding"
	"KnowledgeScanner/internal/infrastructure/events"
	"KnowledgeScanner/internal/infrastructure/fetch"
	"KnowledgeScanner/internal/infrastructure/llm"
	"KnowledgeScanner/internal/infrastructure/parser"
	"KnowledgeScanner/internal/infrastructure/scheduler"
	"KnowledgeScanner/internal/infrastructure/storage"
	"KnowledgeScanner/internal/infrastructure/telegram"
	"KnowledgeScanner/internal/logging"
	"KnowledgeScanner/internal/scanner"
	"KnowledgeScanner/internal/usecase"
	"KnowledgeScanner/internal/vectorindex"
)

const shutdownTimeout = 15 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	pipeline *usecase.Pipeline
	kafka    *events.KafkaNotifier
}

// New opens the durable stores and builds the pipeline. A store that cannot be opened,
// migrated or loaded is fatal for the process.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	repo := storage.NewPostgresRepository(db, cfg.Database.ContentionRetries)
	vectors := storage.NewVectorRepository(db, cfg.Database.ContentionRetries)

	index := vectorindex.New(cfg.Embedding.Dimensions, vectors)
	loaded, err := index.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	baseLogger.Info("vector index loaded", "records", loaded)

	fetcher := fetch.NewClient(&http.Client{Timeout: cfg.Fetcher.Timeout}, cfg.Fetcher.UserAgent, cfg.Fetcher.PolitenessDelay)
	registry := scanner.NewRegistry()
	registry.Register(parser.NewRSSScanner(fetcher, cfg.Fetcher.MaxItemsPerSource))
	registry.Register(parser.NewHTMLScanner(fetcher, cfg.Fetcher.MaxItemsPerSource))
	registry.Register(parser.NewFileScanner(baseLogger.With("component", "scanner.file")))
	source := parser.NewStrategySource(registry, cfg.Sources, cfg.Fetcher.Workers, baseLogger.With("component", "source"))

	if cfg.Analyzer.APIKey == "" {
		baseLogger.Warn("analyzer api key is empty, every item will fail analysis")
	}
	embedder := embedding.NewClient(cfg.Embedding, baseLogger.With("component", "embedding"))
	indexer := vectorindex.NewIndexer(embedder, index, repo, cfg.Index.CatchUpBatchSize, baseLogger.With("component", "indexer"))

	a := &Application{cfg: cfg, logger: baseLogger, db: db}
	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:     source,
		Processor:  docproc.NewProcessor(),
		Analyzer:   llm.NewAnalyzer(cfg.Analyzer),
		Repository: repo,
		Embedder:   embedder,
		Index:      index,
		Indexer:    indexer,
		Notifier:   a.notifiers(),
		Settings:   cfg.Settings(),
		Options: usecase.Options{
			AnalyzerWorkers: cfg.Analyzer.Workers,
			AnalyzerTimeout: cfg.Analyzer.Timeout,
			ContextWindow:   cfg.Analyzer.ContextWindow,
			DefaultK:        cfg.Index.DefaultK,
		},
		Logger: baseLogger.With("component", "pipeline"),
	})
	return a, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping record store: %w", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (a *Application) notifiers() usecase.MultiNotifier {
	var out usecase.MultiNotifier
	tg := a.cfg.Notifications.Telegram
	if tg.BotToken != "" && tg.ChatID != "" {
		out = append(out, telegram.NewNotifier(tg.BotToken, tg.ChatID))
	}
	if k := a.cfg.Notifications.Kafka; len(k.Brokers) > 0 && k.Topic != "" {
		a.kafka = events.NewKafkaNotifier(k)
		out = append(out, a.kafka)
	}
	if len(out) == 0 {
		a.logger.Info("no notification channel configured")
	}
	return out
}

// Pipeline exposes the orchestrator to one-shot commands.
func (a *Application) Pipeline() *usecase.Pipeline {
	return a.pipeline
}

// Serve runs the read-serving API until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	return a.serve(ctx, nil)
}

// Daemon runs the API together with the periodic ingestion trigger.
func (a *Application) Daemon(ctx context.Context) error {
	driver := scheduler.NewTicker(a.cfg.Scheduler.Interval, a.cfg.Scheduler.Location())
	sched := usecase.NewScheduler(driver, a.pipeline, a.logger.With("component", "scheduler"))
	return a.serve(ctx, sched)
}

func (a *Application) serve(ctx context.Context, sched *usecase.Scheduler) error {
	server := api.NewServer(ctx, a.cfg.API, a.pipeline, a.logger.With("component", "api"))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return errors.Join(fmt.Errorf("start scheduler: %w", err), server.Stop(stopCtx))
		}
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if sched != nil {
		errs = append(errs, sched.Stop(stopCtx))
	}
	errs = append(errs, server.Stop(stopCtx), serveErr)
	return errors.Join(errs...)
}

// Close releases the database and notifier connections.
func (a *Application) Close() error {
	var errs []error
	if a.kafka != nil {
		errs = append(errs, a.kafka.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
