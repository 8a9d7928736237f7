package parser

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/metrics"
	"KnowledgeScanner/internal/ports"
	"KnowledgeScanner/internal/scanner"
)

// StrategySource implements ItemSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sources  []scanner.Source
	workers  int
	logger   *slog.Logger
}

var _ ports.ItemSource = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, workers int, log *slog.Logger) *StrategySource {
	if workers <= 0 {
		workers = 1
	}
	return &StrategySource{
		registry: reg,
		sources:  toScannerSources(sources),
		workers:  workers,
		logger:   log,
	}
}

type sourceResult struct {
	items []domain.Item
	err   error
}

// Fetch scans every source concurrently. A failing source contributes no items and one
// failure entry; it never aborts the others. Drafts are de-duplicated by identity key.
func (s *StrategySource) Fetch(ctx context.Context) ([]domain.Item, []domain.ItemFailure) {
	s.debug("fetch sources", "sources", len(s.sources), "workers", s.workers)

	results := make([]sourceResult, len(s.sources))
	var g errgroup.Group
	g.SetLimit(s.workers)

	for i, src := range s.sources {
		g.Go(func() error {
			items, err := s.scan(ctx, src)
			results[i] = sourceResult{items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		aggregated []domain.Item
		failures   []domain.ItemFailure
		seen       = map[string]struct{}{}
	)
	for i, res := range results {
		src := s.sources[i]
		if res.err != nil {
			err := fmt.Errorf("%w: %s: %v", domain.ErrSourceFetch, src.Name, res.err)
			s.warn("source failed", "source", src.Name, "kind", src.Kind, "error", res.err)
			metrics.SourceFailuresTotal.WithLabelValues(src.Name).Inc()
			failures = append(failures, domain.ItemFailure{
				Stage:  domain.StateFetching,
				Key:    src.Endpoint,
				Source: src.Name,
				Err:    err,
			})
			continue
		}

		for _, item := range res.items {
			key := item.Key()
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if item.SourceName == "" {
				item.SourceName = src.Name
			}
			aggregated = append(aggregated, item)
		}
		s.debug("source produced items", "source", src.Name, "count", len(res.items))
	}

	s.debug("strategy source done", "total_items", len(aggregated), "failed_sources", len(failures))
	return aggregated, failures
}

func (s *StrategySource) scan(ctx context.Context, src scanner.Source) ([]domain.Item, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}
	strategy, err := s.registry.Resolve(src.Kind)
	if err != nil {
		return nil, err
	}
	return strategy.Scan(ctx, src)
}

func toScannerSources(cfg []config.SourceConfig) []scanner.Source {
	sources := make([]scanner.Source, 0, len(cfg))
	for _, src := range cfg {
		sources = append(sources, scanner.Source{
			Name:     src.Name,
			Endpoint: src.Endpoint,
			Kind:     src.Kind,
			Options:  src.Options,
		})
	}
	return sources
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
