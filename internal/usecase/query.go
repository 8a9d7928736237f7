package usecase

import (
	"context"
	"fmt"
	"strings"

	"KnowledgeScanner/internal/domain"
)

// Search embeds the query, ranks indexed items by similarity and hydrates them from the
// record store. k <= 0 selects the configured default.
func (p *Pipeline) Search(ctx context.Context, query string, k int, filter domain.Filter) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidQuery)
	}
	if k <= 0 {
		k = p.opts.DefaultK
	}
	if filter.Since != nil && filter.Until != nil && filter.Since.After(*filter.Until) {
		return nil, fmt.Errorf("%w: since is after until", domain.ErrInvalidQuery)
	}

	vectors, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}

	hits, err := p.index.Search(ctx, vectors[0], k, filter)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if len(hits) == 0 {
		return []domain.SearchResult{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ItemID
	}
	items, err := p.repository.GetItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate hits: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		item, ok := items[h.ItemID]
		if !ok {
			p.logger.Warn("indexed item missing from store", "item", h.ItemID)
			continue
		}
		results = append(results, domain.SearchResult{Item: item, Score: h.Score})
	}
	return results, nil
}

// QueryRecent lists items ingested within windowDays; windowDays <= 0 uses the
// dashboard window of the current settings.
func (p *Pipeline) QueryRecent(ctx context.Context, windowDays int) ([]domain.Item, error) {
	if windowDays <= 0 {
		windowDays = p.snapshot(ctx).WindowDays
	}
	return p.repository.QueryRecent(ctx, windowDays)
}

// Stats counts stored items for the dashboard; windowDays <= 0 uses the dashboard window.
func (p *Pipeline) Stats(ctx context.Context, windowDays int) (domain.Stats, error) {
	if windowDays <= 0 {
		windowDays = p.snapshot(ctx).WindowDays
	}
	return p.repository.Stats(ctx, windowDays)
}

// QueryByText is the keyword fallback over stored items.
func (p *Pipeline) QueryByText(ctx context.Context, substring string) ([]domain.Item, error) {
	if strings.TrimSpace(substring) == "" {
		return nil, fmt.Errorf("%w: empty text query", domain.ErrInvalidQuery)
	}
	return p.repository.QueryByText(ctx, substring)
}

// ReindexCatchUp retries indexing of every stored item that is not indexed.
func (p *Pipeline) ReindexCatchUp(ctx context.Context) (domain.IndexReport, error) {
	report, err := p.indexer.CatchUp(ctx)
	if err != nil {
		return report, err
	}
	p.logger.Info("catch-up finished", "attempted", report.Attempted, "indexed", report.Indexed, "failed", report.Failed)
	return report, nil
}
