package scanner

import (
	"context"
	"fmt"
	"strconv"

	"KnowledgeScanner/internal/domain"
)

// Source kinds understood by the registry.
const (
	KindRSS  = "rss"
	KindHTML = "html"
	KindFile = "file"
)

// Source describes one configured feed, page or file glob.
type Source struct {
	Name     string
	Endpoint string
	Kind     string
	Options  map[string]string
}

// Option returns an option value or fallback when unset.
func (s Source) Option(key, fallback string) string {
	if v, ok := s.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// IntOption parses an integer option, falling back on absence or garbage.
func (s Source) IntOption(key string, fallback int) int {
	v, ok := s.Options[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Scanner captures a single strategy implementation (RSS, HTML listing, files).
type Scanner interface {
	Kind() string
	Scan(ctx context.Context, src Source) ([]domain.Item, error)
}

// Registry keeps a mapping from source kinds to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Kind()] = scanner
}

// Resolve returns a scanner by kind or an error if it is absent.
func (r *Registry) Resolve(kind string) (Scanner, error) {
	if scanner, ok := r.scanners[kind]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", kind)
}
