package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
)

type staticSource struct {
	items    []domain.Item
	failures []domain.ItemFailure
	onFetch  func()
}

func (s *staticSource) Fetch(context.Context) ([]domain.Item, []domain.ItemFailure) {
	if s.onFetch != nil {
		s.onFetch()
	}
	out := make([]domain.Item, len(s.items))
	copy(out, s.items)
	return out, s.failures
}

// textProcessor treats every payload as plain text.
type textProcessor struct{}

func (textProcessor) Detect(filename string) (domain.Format, error) {
	if strings.HasSuffix(filename, ".txt") {
		return domain.FormatText, nil
	}
	return "", domain.ErrUnsupportedFormat
}

func (textProcessor) Process(raw []byte, format domain.Format) (domain.Document, error) {
	if format == domain.FormatPDF {
		return domain.Document{}, domain.ErrCorruptDocument
	}
	return domain.Document{Text: strings.Join(strings.Fields(string(raw)), " ")}, nil
}

// scoreAnalyzer scores items by title lookup; missing titles fail analysis.
type scoreAnalyzer struct {
	mu       sync.Mutex
	scores   map[string]float64
	requests []ports.AnalysisRequest
}

func (a *scoreAnalyzer) Analyze(_ context.Context, req ports.AnalysisRequest) (domain.Analysis, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	score, ok := a.scores[req.Title]
	if !ok {
		return domain.Analysis{}, errors.New("malformed response")
	}
	return domain.Analysis{
		IsRelevant: score > 0,
		Score:      score,
		Summary:    "Summary of " + req.Title,
		Topics:     domain.NewTopicSet("AI"),
	}, nil
}

type memoryRepo struct {
	mu        sync.Mutex
	items     map[string]domain.Item
	uploads   map[string]domain.UploadedDocument
	config    map[string]string
	summaries []domain.DailySummary
	upsertErr error
	digestErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:   map[string]domain.Item{},
		uploads: map[string]domain.UploadedDocument{},
		config:  map[string]string{},
	}
}

var _ ports.ItemRepository = (*memoryRepo)(nil)

func (r *memoryRepo) UpsertIfAbsent(_ context.Context, item domain.Item) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return false, r.upsertErr
	}
	for _, existing := range r.items {
		if existing.Key() == item.Key() {
			return false, nil
		}
	}
	r.items[item.ID] = item
	return true, nil
}

func (r *memoryRepo) ExistingKeys(_ context.Context, keys []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]bool{}
	for _, k := range keys {
		for _, item := range r.items {
			if item.Key() == k {
				out[k] = true
			}
		}
	}
	return out, nil
}

func (r *memoryRepo) GetByKey(_ context.Context, key string) (domain.Item, error) {
	if item, ok := r.byKey(key); ok {
		return item, nil
	}
	return domain.Item{}, domain.ErrNotFound
}

func (r *memoryRepo) GetItems(_ context.Context, ids []string) (map[string]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]domain.Item{}
	for _, id := range ids {
		if item, ok := r.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (r *memoryRepo) sorted(keep func(domain.Item) bool) []domain.Item {
	var out []domain.Item
	for _, item := range r.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (r *memoryRepo) QueryRecent(_ context.Context, windowDays int) ([]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	since := time.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	return r.sorted(func(i domain.Item) bool { return !i.IngestedAt.Before(since) }), nil
}

func (r *memoryRepo) QueryByText(_ context.Context, substring string) ([]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	needle := strings.ToLower(substring)
	return r.sorted(func(i domain.Item) bool {
		return strings.Contains(strings.ToLower(i.Title+" "+i.Summary()+" "+i.NormalizedText), needle)
	}), nil
}

func (r *memoryRepo) RecentSummaries(_ context.Context, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, item := range r.sorted(func(i domain.Item) bool { return i.Summary() != "" }) {
		if len(out) == limit {
			break
		}
		out = append(out, item.Summary())
	}
	return out, nil
}

func (r *memoryRepo) Stats(_ context.Context, windowDays int) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)
	stats := domain.Stats{WindowDays: windowDays, BySource: map[string]int{}, ByTopic: map[string]int{}}
	for _, item := range r.items {
		if item.IngestedAt.Before(since) {
			continue
		}
		stats.Window++
		if !item.IngestedAt.Before(now.Truncate(24 * time.Hour)) {
			stats.Today++
		}
		stats.BySource[item.SourceName]++
		for _, t := range item.Topics.Values() {
			stats.ByTopic[t]++
		}
	}
	return stats, nil
}

func (r *memoryRepo) SaveDailySummary(_ context.Context, summary domain.DailySummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.digestErr != nil {
		return r.digestErr
	}
	r.summaries = append(r.summaries, summary)
	return nil
}

func (r *memoryRepo) SaveUploadedDocument(_ context.Context, doc domain.UploadedDocument) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.uploads[doc.ContentHash]; ok {
		return false, nil
	}
	r.uploads[doc.ContentHash] = doc
	return true, nil
}

func (r *memoryRepo) ConfigValues(context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.config))
	for k, v := range r.config {
		out[k] = v
	}
	return out, nil
}

func (r *memoryRepo) SetConfig(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config[key] = value
	return nil
}

func (r *memoryRepo) ListUnindexed(context.Context) ([]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(i domain.Item) bool { return i.IndexStatus != domain.IndexIndexed }), nil
}

func (r *memoryRepo) MarkIndexed(_ context.Context, id string, status domain.IndexStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.IndexStatus = status
	r.items[id] = item
	return nil
}

func (r *memoryRepo) byKey(key string) (domain.Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.Key() == key {
			return item, true
		}
	}
	return domain.Item{}, false
}

// keywordEmbedder maps text onto counts of a few fixed words.
type keywordEmbedder struct {
	fail bool
}

var vocabulary = []string{"alpha", "beta", "gamma"}

func (e keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, domain.ErrEmbeddingUnavailable
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, len(vocabulary)+1)
		lower := strings.ToLower(t)
		for j, w := range vocabulary {
			vec[j] = float32(strings.Count(lower, w))
		}
		vec[len(vocabulary)] = 0.1
		out[i] = vec
	}
	return out, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]domain.Item
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, items []domain.Item) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, items)
	return n.err
}
