package vectorindex

import (
	"context"
	"fmt"
	"log/slog"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/metrics"
	"KnowledgeScanner/internal/ports"
)

// Indexer embeds items, upserts their vectors and records the resulting index status.
type Indexer struct {
	embedder  ports.Embedder
	index     ports.VectorIndex
	store     ports.IndexStatusStore
	batchSize int
	logger    *slog.Logger
}

var _ ports.ItemIndexer = (*Indexer)(nil)

// NewIndexer wires the indexing collaborators; batchSize bounds one embedding request.
func NewIndexer(embedder ports.Embedder, index ports.VectorIndex, store ports.IndexStatusStore, batchSize int, log *slog.Logger) *Indexer {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Indexer{embedder: embedder, index: index, store: store, batchSize: batchSize, logger: log}
}

// IndexItems indexes items batch by batch. A batch whose embedding fails marks each of its
// items index_failed; the remaining batches still run. Cancellation stops between batches
// and leaves the rest not_indexed for a later catch-up.
func (ix *Indexer) IndexItems(ctx context.Context, items []domain.Item) domain.IndexReport {
	var report domain.IndexReport

	for start := 0; start < len(items); start += ix.batchSize {
		if ctx.Err() != nil {
			ix.warn("indexing interrupted", "remaining", len(items)-start)
			break
		}
		end := min(start+ix.batchSize, len(items))
		ix.indexBatch(ctx, items[start:end], &report)
	}

	metrics.IndexOperationsTotal.WithLabelValues(string(domain.IndexIndexed)).Add(float64(report.Indexed))
	metrics.IndexOperationsTotal.WithLabelValues(string(domain.IndexFailed)).Add(float64(report.Failed))
	return report
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []domain.Item, report *domain.IndexReport) {
	report.Attempted += len(batch)

	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.EmbeddingText()
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(batch) {
		err = fmt.Errorf("embedder returned %d vectors for %d items", len(vectors), len(batch))
	}
	if err != nil {
		ix.warn("embedding batch failed", "size", len(batch), "error", err)
		for _, item := range batch {
			ix.fail(ctx, item, err, report)
		}
		return
	}

	for i, item := range batch {
		rec := domain.VectorRecord{ItemID: item.ID, Embedding: vectors[i], Metadata: domain.MetadataFor(item)}
		if err := ix.index.Upsert(ctx, rec); err != nil {
			ix.fail(ctx, item, err, report)
			continue
		}
		if err := ix.store.MarkIndexed(ctx, item.ID, domain.IndexIndexed); err != nil {
			// the vector is stored; catch-up will re-upsert idempotently
			report.Failed++
			report.Failures = append(report.Failures, failure(item, err))
			continue
		}
		report.Indexed++
	}
}

func (ix *Indexer) fail(ctx context.Context, item domain.Item, cause error, report *domain.IndexReport) {
	report.Failed++
	report.Failures = append(report.Failures, failure(item, cause))
	if err := ix.store.MarkIndexed(ctx, item.ID, domain.IndexFailed); err != nil {
		report.Failures = append(report.Failures, failure(item, err))
		ix.warn("mark index failure", "item", item.ID, "error", err)
	}
}

// CatchUp retries every stored item that is not indexed yet.
func (ix *Indexer) CatchUp(ctx context.Context) (domain.IndexReport, error) {
	items, err := ix.store.ListUnindexed(ctx)
	if err != nil {
		return domain.IndexReport{}, fmt.Errorf("list unindexed: %w", err)
	}
	ix.debug("catch-up", "pending", len(items))
	return ix.IndexItems(ctx, items), nil
}

func failure(item domain.Item, err error) domain.ItemFailure {
	return domain.ItemFailure{Stage: domain.StateIndexing, Key: item.Key(), Source: item.SourceName, Err: err}
}

func (ix *Indexer) debug(msg string, args ...interface{}) {
	if ix.logger != nil {
		ix.logger.Debug(msg, args...)
	}
}

func (ix *Indexer) warn(msg string, args ...interface{}) {
	if ix.logger != nil {
		ix.logger.Warn(msg, args...)
	}
}
