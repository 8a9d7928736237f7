// Package vectorindex keeps item embeddings in memory for exact cosine search and writes
// every change through to a durable store.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
)

type entry struct {
	vec  []float32
	norm float64
	meta domain.VectorMetadata
}

// Index is an exact nearest-neighbour index keyed by item ID.
type Index struct {
	mu      sync.RWMutex
	records map[string]entry
	dims    int

	locks keyedMutex
	store ports.VectorPersistence
}

var _ ports.VectorIndex = (*Index)(nil)

// New builds an index; dims 0 adopts the length of the first stored vector.
// store may be nil for a purely in-memory index.
func New(dims int, store ports.VectorPersistence) *Index {
	return &Index{
		records: map[string]entry{},
		dims:    dims,
		locks:   keyedMutex{locks: map[string]*refLock{}},
		store:   store,
	}
}

// Load restores every persisted record.
func (ix *Index) Load(ctx context.Context) (int, error) {
	if ix.store == nil {
		return 0, nil
	}
	records, err := ix.store.LoadVectors(ctx)
	if err != nil {
		return 0, fmt.Errorf("load vectors: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, rec := range records {
		e, err := ix.prepare(rec)
		if err != nil {
			return 0, fmt.Errorf("load %s: %w", rec.ItemID, err)
		}
		if ix.dims == 0 {
			ix.dims = len(e.vec)
		}
		ix.records[rec.ItemID] = e
	}
	return len(records), nil
}

// Len returns the number of indexed items.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Upsert stores or replaces the record of rec.ItemID. Concurrent upserts of one ID are
// serialized; the persisted copy is written before the in-memory one.
func (ix *Index) Upsert(ctx context.Context, rec domain.VectorRecord) error {
	if strings.TrimSpace(rec.ItemID) == "" {
		return errors.New("upsert vector: empty item id")
	}

	unlock := ix.locks.lock(rec.ItemID)
	defer unlock()

	// An empty index adopts the first valid length before anything is persisted.
	ix.mu.Lock()
	e, err := ix.prepare(rec)
	if err == nil && ix.dims == 0 {
		ix.dims = len(e.vec)
	}
	ix.mu.Unlock()
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.ItemID, err)
	}

	if ix.store != nil {
		if err := ix.store.SaveVector(ctx, rec); err != nil {
			return fmt.Errorf("persist %s: %w", rec.ItemID, err)
		}
	}

	ix.mu.Lock()
	ix.records[rec.ItemID] = e
	ix.mu.Unlock()
	return nil
}

// prepare validates rec and precomputes its norm. Callers hold ix.mu.
func (ix *Index) prepare(rec domain.VectorRecord) (entry, error) {
	if len(rec.Embedding) == 0 {
		return entry{}, errors.New("empty embedding")
	}
	if ix.dims > 0 && len(rec.Embedding) != ix.dims {
		return entry{}, fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(rec.Embedding), ix.dims)
	}
	norm := l2(rec.Embedding)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return entry{}, errors.New("embedding has no direction")
	}
	vec := make([]float32, len(rec.Embedding))
	copy(vec, rec.Embedding)
	return entry{vec: vec, norm: norm, meta: rec.Metadata}, nil
}

type candidate struct {
	id    string
	score float64
	meta  domain.VectorMetadata
}

// Search returns up to k records most similar to query among those matching filter.
// Ties on score are broken by recency, newest first, then by item ID.
func (ix *Index) Search(ctx context.Context, query []float32, k int, filter domain.Filter) ([]domain.SearchHit, error) {
	if k <= 0 {
		return []domain.SearchHit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qnorm := l2(query)
	if qnorm == 0 {
		return nil, errors.New("search: empty query vector")
	}

	ix.mu.RLock()
	if ix.dims > 0 && len(query) != ix.dims {
		ix.mu.RUnlock()
		return nil, fmt.Errorf("search: %w: got %d, want %d", domain.ErrDimensionMismatch, len(query), ix.dims)
	}
	candidates := make([]candidate, 0, len(ix.records))
	for id, e := range ix.records {
		if !filter.Match(e.meta) {
			continue
		}
		candidates = append(candidates, candidate{id: id, score: dot(query, e.vec) / (qnorm * e.norm), meta: e.meta})
	}
	ix.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		ra, rb := a.meta.Recency(), b.meta.Recency()
		if !ra.Equal(rb) {
			return ra.After(rb)
		}
		return a.id < b.id
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	hits := make([]domain.SearchHit, len(candidates))
	for i, c := range candidates {
		hits[i] = domain.SearchHit{ItemID: c.id, Score: c.score}
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func l2(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets it when nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
