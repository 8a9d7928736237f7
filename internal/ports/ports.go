package ports

import (
	"context"
	"time"

	"KnowledgeScanner/internal/domain"
)

// ItemSource pulls draft items from every configured source.
// Source failures are isolated and reported next to the drafts.
type ItemSource interface {
	Fetch(ctx context.Context) ([]domain.Item, []domain.ItemFailure)
}

// DocumentProcessor turns raw bytes into normalized text and tables.
type DocumentProcessor interface {
	Detect(filename string) (domain.Format, error)
	Process(raw []byte, format domain.Format) (domain.Document, error)
}

// AnalysisRequest carries everything the analyzer needs for one item.
type AnalysisRequest struct {
	Title     string
	URL       string
	Text      string
	Topics    []string
	Threshold float64
	// Context holds summaries of previously accepted items.
	Context []string
}

// Analyzer asks an external reasoning provider for a relevance judgment.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (domain.Analysis, error)
}

// Embedder turns text chunks into vectors, one per chunk, order preserved.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexStatusStore is the part of the record store the indexer needs.
type IndexStatusStore interface {
	ListUnindexed(ctx context.Context) ([]domain.Item, error)
	MarkIndexed(ctx context.Context, itemID string, status domain.IndexStatus) error
}

// ItemRepository is the durable record store of accepted items.
type ItemRepository interface {
	IndexStatusStore

	UpsertIfAbsent(ctx context.Context, item domain.Item) (bool, error)
	ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error)
	// GetByKey returns domain.ErrNotFound when no item carries key.
	GetByKey(ctx context.Context, key string) (domain.Item, error)
	GetItems(ctx context.Context, ids []string) (map[string]domain.Item, error)
	QueryRecent(ctx context.Context, windowDays int) ([]domain.Item, error)
	QueryByText(ctx context.Context, substring string) ([]domain.Item, error)
	RecentSummaries(ctx context.Context, limit int) ([]string, error)
	Stats(ctx context.Context, windowDays int) (domain.Stats, error)
	SaveDailySummary(ctx context.Context, summary domain.DailySummary) error
	SaveUploadedDocument(ctx context.Context, doc domain.UploadedDocument) (bool, error)
	ConfigValues(ctx context.Context) (map[string]string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// VectorIndex is the similarity-search store keyed by item ID.
type VectorIndex interface {
	Upsert(ctx context.Context, rec domain.VectorRecord) error
	Search(ctx context.Context, query []float32, k int, filter domain.Filter) ([]domain.SearchHit, error)
}

// VectorPersistence stores index records durably.
type VectorPersistence interface {
	SaveVector(ctx context.Context, rec domain.VectorRecord) error
	LoadVectors(ctx context.Context) ([]domain.VectorRecord, error)
}

// ItemIndexer embeds items and flips their index status.
type ItemIndexer interface {
	IndexItems(ctx context.Context, items []domain.Item) domain.IndexReport
	CatchUp(ctx context.Context) (domain.IndexReport, error)
}

// Notifier hands the accepted batch to an outbound channel (email, chat, bus).
type Notifier interface {
	Notify(ctx context.Context, items []domain.Item) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
