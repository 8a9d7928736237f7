package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/metrics"
	"KnowledgeScanner/internal/ports"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.ItemSource
	Processor  ports.DocumentProcessor
	Analyzer   ports.Analyzer
	Repository ports.ItemRepository
	Embedder   ports.Embedder
	Index      ports.VectorIndex
	Indexer    ports.ItemIndexer
	Notifier   ports.Notifier

	// Settings is the configured baseline; stored overrides are applied per run.
	Settings domain.Settings
	Options  Options
	Logger   *slog.Logger
}

// Options tunes concurrency and defaults of the pipeline.
type Options struct {
	AnalyzerWorkers int
	AnalyzerTimeout time.Duration
	ContextWindow   int
	DefaultK        int
}

// Pipeline implements the ingestion pass and the retrieval queries.
type Pipeline struct {
	source     ports.ItemSource
	processor  ports.DocumentProcessor
	analyzer   ports.Analyzer
	repository ports.ItemRepository
	embedder   ports.Embedder
	index      ports.VectorIndex
	indexer    ports.ItemIndexer
	notifier   ports.Notifier

	settings domain.Settings
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	running sync.Mutex
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	opts := deps.Options
	if opts.AnalyzerWorkers <= 0 {
		opts.AnalyzerWorkers = 1
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = 10
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		source:     deps.Source,
		processor:  deps.Processor,
		analyzer:   deps.Analyzer,
		repository: deps.Repository,
		embedder:   deps.Embedder,
		index:      deps.Index,
		indexer:    deps.Indexer,
		notifier:   deps.Notifier,
		settings:   deps.Settings,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// RunOnce executes one ingestion pass:
// fetching, normalizing, analyzing, gating, persisting, indexing, notifying.
// Notifying also appends the batch digest to the day's stored summary.
//
// Per-item and per-source failures are recorded in the summary and never abort the pass.
// Record store contention and context cancellation (checked between states) do.
func (p *Pipeline) RunOnce(ctx context.Context) (domain.RunSummary, error) {
	if !p.running.TryLock() {
		return domain.RunSummary{}, domain.ErrRunInProgress
	}
	defer p.running.Unlock()

	summary := domain.RunSummary{StartedAt: p.now().UTC()}
	err := p.run(ctx, &summary)
	summary.FinishedAt = p.now().UTC()

	result := "ok"
	switch {
	case err != nil && ctx.Err() != nil:
		result = "cancelled"
	case err != nil:
		result = "fatal"
	}
	metrics.RunsTotal.WithLabelValues(result).Inc()
	metrics.RunDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	attrs := []any{
		"state", summary.State,
		"fetched", summary.Fetched,
		"known", summary.Known,
		"accepted", summary.Accepted,
		"rejected", summary.Rejected,
		"persisted", summary.Persisted,
		"indexed", summary.Indexed,
		"index_failed", summary.IndexFailed,
		"failures", len(summary.Failures),
	}
	if err != nil {
		p.logger.Error("ingestion run aborted", append(attrs, "error", err)...)
		return summary, err
	}
	p.logger.Info("ingestion run finished", attrs...)
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, summary *domain.RunSummary) error {
	settings := p.snapshot(ctx)

	// Fetching
	summary.State = domain.StateFetching
	drafts, failures := p.source.Fetch(ctx)
	summary.Fetched = len(drafts)
	summary.Failures = append(summary.Failures, failures...)
	metrics.ObserveItems("fetch", "ok", len(drafts))

	drafts, err := p.dropKnown(ctx, drafts, summary)
	if err != nil {
		return err
	}
	if err := p.advance(ctx, summary, domain.StateNormalizing); err != nil {
		return err
	}

	// Normalizing
	normalized := make([]domain.Item, 0, len(drafts))
	for _, draft := range drafts {
		item, err := p.normalize(draft)
		if err != nil {
			summary.Fail(domain.StateNormalizing, draft.Key(), draft.SourceName, err)
			p.logger.Warn("normalize failed", "key", draft.Key(), "error", err)
			continue
		}
		normalized = append(normalized, item)
	}
	summary.Normalized = len(normalized)
	metrics.ObserveItems("normalize", "ok", len(normalized))
	if err := p.advance(ctx, summary, domain.StateAnalyzing); err != nil {
		return err
	}

	// Analyzing
	analyses := p.analyzeAll(ctx, normalized, settings, summary)
	if err := p.advance(ctx, summary, domain.StateGating); err != nil {
		return err
	}

	// Gating
	accepted := make([]domain.Item, 0, len(normalized))
	for i, item := range normalized {
		a := analyses[i]
		if a == nil || !a.Accepted(settings.Threshold) {
			summary.Rejected++
			continue
		}
		item.ApplyAnalysis(*a)
		item.ID = domain.NewItemID()
		item.IndexStatus = domain.IndexNotIndexed
		accepted = append(accepted, item)
	}
	summary.Accepted = len(accepted)
	metrics.ObserveItems("gate", "accepted", summary.Accepted)
	metrics.ObserveItems("gate", "rejected", summary.Rejected)
	if err := p.advance(ctx, summary, domain.StatePersisting); err != nil {
		return err
	}

	// Persisting
	persisted, err := p.persist(ctx, accepted, summary)
	if err != nil {
		return err
	}
	if err := p.advance(ctx, summary, domain.StateIndexing); err != nil {
		return err
	}

	// Indexing
	if len(persisted) > 0 {
		report := p.indexer.IndexItems(ctx, persisted)
		summary.Indexed = report.Indexed
		summary.IndexFailed = report.Failed
		summary.Failures = append(summary.Failures, report.Failures...)
		for _, f := range report.Failures {
			if errors.Is(f, domain.ErrRecordStoreContention) {
				return fmt.Errorf("index status: %w", f.Err)
			}
		}
	}
	if err := p.advance(ctx, summary, domain.StateNotifying); err != nil {
		return err
	}

	// Notifying
	if len(persisted) > 0 {
		digest := domain.NewDailySummary(summary.StartedAt, persisted)
		if err := p.repository.SaveDailySummary(ctx, digest); err != nil {
			summary.Fail(domain.StateNotifying, "", "daily summary", err)
			p.logger.Warn("daily summary not saved", "items", len(persisted), "error", err)
		}
	}
	if len(persisted) > 0 && p.notifier != nil {
		if err := p.notifier.Notify(ctx, persisted); err != nil {
			summary.Fail(domain.StateNotifying, "", "notifier", err)
			p.logger.Warn("notification failed", "items", len(persisted), "error", err)
		} else {
			summary.Notified = true
		}
	}

	summary.State = domain.StateDone
	return nil
}

// advance checks for cancellation before entering the next state.
func (p *Pipeline) advance(ctx context.Context, summary *domain.RunSummary, next domain.RunState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled after %s: %w", summary.State, err)
	}
	summary.State = next
	return nil
}

func (p *Pipeline) dropKnown(ctx context.Context, drafts []domain.Item, summary *domain.RunSummary) ([]domain.Item, error) {
	if len(drafts) == 0 {
		return drafts, nil
	}
	keys := make([]string, len(drafts))
	for i, d := range drafts {
		keys[i] = d.Key()
	}
	known, err := p.repository.ExistingKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load known keys: %w", err)
	}

	fresh := drafts[:0]
	for _, d := range drafts {
		if known[d.Key()] {
			summary.Known++
			continue
		}
		fresh = append(fresh, d)
	}
	metrics.ObserveItems("fetch", "known", summary.Known)
	return fresh, nil
}

func (p *Pipeline) normalize(draft domain.Item) (domain.Item, error) {
	raw := draft.RawBytes
	if raw == nil {
		raw = []byte(draft.RawText)
	}
	format := draft.RawFormat
	if format == "" {
		format = domain.FormatText
	}

	doc, err := p.processor.Process(raw, format)
	if err != nil {
		return domain.Item{}, err
	}

	item := draft
	item.NormalizedText = doc.Text
	item.Tables = doc.Tables
	if item.RawText == "" {
		item.RawText = doc.Text
	}
	if item.Title == "" {
		item.Title = doc.Meta["title"]
	}
	item.RawBytes = nil
	return item, nil
}

// analyzeAll returns one analysis per item; nil marks a failed analysis (rejected).
func (p *Pipeline) analyzeAll(ctx context.Context, items []domain.Item, settings domain.Settings, summary *domain.RunSummary) []*domain.Analysis {
	results := make([]*domain.Analysis, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return results
	}

	recent, err := p.repository.RecentSummaries(ctx, p.opts.ContextWindow)
	if err != nil {
		p.logger.Warn("load context summaries", "error", err)
		recent = nil
	}

	var g errgroup.Group
	g.SetLimit(p.opts.AnalyzerWorkers)
	for i, item := range items {
		g.Go(func() error {
			callCtx := ctx
			if p.opts.AnalyzerTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, p.opts.AnalyzerTimeout)
				defer cancel()
			}
			a, err := p.analyzer.Analyze(callCtx, ports.AnalysisRequest{
				Title:     item.Title,
				URL:       item.SourceURL,
				Text:      item.NormalizedText,
				Topics:    settings.Topics,
				Threshold: settings.Threshold,
				Context:   recent,
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = &a
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			summary.Analyzed++
			continue
		}
		if !errors.Is(err, domain.ErrAnalysis) {
			err = fmt.Errorf("%w: %v", domain.ErrAnalysis, err)
		}
		summary.Fail(domain.StateAnalyzing, items[i].Key(), items[i].SourceName, err)
		p.logger.Warn("analysis failed, item rejected", "key", items[i].Key(), "error", err)
	}
	metrics.ObserveItems("analyze", "ok", summary.Analyzed)
	metrics.ObserveItems("analyze", "failed", len(items)-summary.Analyzed)
	return results
}

func (p *Pipeline) persist(ctx context.Context, accepted []domain.Item, summary *domain.RunSummary) ([]domain.Item, error) {
	persisted := make([]domain.Item, 0, len(accepted))
	for _, item := range accepted {
		inserted, err := p.repository.UpsertIfAbsent(ctx, item)
		if errors.Is(err, domain.ErrRecordStoreContention) {
			return nil, fmt.Errorf("persist %s: %w", item.Key(), err)
		}
		if err != nil {
			summary.Fail(domain.StatePersisting, item.Key(), item.SourceName, err)
			p.logger.Warn("persist failed", "key", item.Key(), "error", err)
			continue
		}
		if !inserted {
			summary.Duplicates++
			continue
		}
		persisted = append(persisted, item)
	}
	summary.Persisted = len(persisted)
	metrics.ObserveItems("persist", "inserted", summary.Persisted)
	metrics.ObserveItems("persist", "duplicate", summary.Duplicates)
	return persisted, nil
}
