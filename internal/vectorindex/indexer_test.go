package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/logging"
)

type scriptedEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (e *scriptedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()

	if e.failOn[call] {
		return nil, fmt.Errorf("%w: provider down", domain.ErrEmbeddingUnavailable)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t))}
	}
	return out, nil
}

type statusStore struct {
	mu     sync.Mutex
	items  map[string]domain.Item
	marked []string
}

func newStatusStore(items ...domain.Item) *statusStore {
	s := &statusStore{items: map[string]domain.Item{}}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (s *statusStore) ListUnindexed(context.Context) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Item
	for _, item := range s.items {
		if item.IndexStatus != domain.IndexIndexed {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *statusStore) MarkIndexed(_ context.Context, id string, status domain.IndexStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.IndexStatus = status
	s.items[id] = item
	s.marked = append(s.marked, id+"="+string(status))
	return nil
}

func (s *statusStore) status(id string) domain.IndexStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].IndexStatus
}

func pendingItems(n int) []domain.Item {
	items := make([]domain.Item, n)
	for i := range items {
		items[i] = domain.Item{
			ID:          fmt.Sprintf("item-%d", i),
			SourceURL:   fmt.Sprintf("https://x/%d", i),
			Title:       fmt.Sprintf("title %d", i),
			IngestedAt:  day,
			IndexStatus: domain.IndexNotIndexed,
		}
	}
	return items
}

func TestCatchUpIsolatesFailedBatch(t *testing.T) {
	t.Parallel()

	store := newStatusStore(pendingItems(5)...)
	embedder := &scriptedEmbedder{failOn: map[int]bool{2: true}}
	index := New(0, nil)
	indexer := NewIndexer(embedder, index, store, 2, logging.Discard())

	report, err := indexer.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Attempted)
	assert.Equal(t, 3, report.Indexed)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Failures, 2)
	assert.ErrorIs(t, report.Failures[0], domain.ErrEmbeddingUnavailable)

	assert.Equal(t, domain.IndexIndexed, store.status("item-0"))
	assert.Equal(t, domain.IndexFailed, store.status("item-2"))
	assert.Equal(t, domain.IndexFailed, store.status("item-3"))
	assert.Equal(t, domain.IndexIndexed, store.status("item-4"))
	assert.Equal(t, 3, index.Len())

	again, err := indexer.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, again.Attempted)
	assert.Equal(t, 2, again.Indexed)
	assert.Equal(t, 5, index.Len())
}

func TestIndexItemsIsIdempotent(t *testing.T) {
	t.Parallel()

	items := pendingItems(3)
	store := newStatusStore(items...)
	index := New(0, nil)
	indexer := NewIndexer(&scriptedEmbedder{}, index, store, 10, logging.Discard())

	first := indexer.IndexItems(context.Background(), items)
	second := indexer.IndexItems(context.Background(), items)
	assert.Equal(t, 3, first.Indexed)
	assert.Equal(t, 3, second.Indexed)
	assert.Equal(t, 3, index.Len())
}

func TestIndexItemsStopsOnCancellation(t *testing.T) {
	t.Parallel()

	store := newStatusStore(pendingItems(4)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewIndexer(&scriptedEmbedder{}, New(0, nil), store, 2, logging.Discard()).IndexItems(ctx, pendingItems(4))
	assert.Zero(t, report.Attempted)
	assert.Equal(t, domain.IndexNotIndexed, store.status("item-0"))
}

type brokenList struct{ statusStore }

func (b *brokenList) ListUnindexed(context.Context) ([]domain.Item, error) {
	return nil, errors.New("connection reset")
}

func TestCatchUpReportsListError(t *testing.T) {
	t.Parallel()

	_, err := NewIndexer(&scriptedEmbedder{}, New(0, nil), &brokenList{}, 2, logging.Discard()).CatchUp(context.Background())
	assert.Error(t, err)
}
