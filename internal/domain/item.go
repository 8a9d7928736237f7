package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IndexStatus reports whether an item has a vector in the semantic index.
type IndexStatus string

const (
	IndexNotIndexed IndexStatus = "not_indexed"
	IndexIndexed    IndexStatus = "indexed"
	IndexFailed     IndexStatus = "index_failed"
)

// ParseIndexStatus validates a stored status value.
func ParseIndexStatus(value string) (IndexStatus, error) {
	switch IndexStatus(value) {
	case IndexNotIndexed, IndexIndexed, IndexFailed:
		return IndexStatus(value), nil
	default:
		return "", fmt.Errorf("unknown index status %q", value)
	}
}

// Format names the encoding of raw content handed to the document processor.
type Format string

const (
	FormatText        Format = "text"
	FormatHTML        Format = "html"
	FormatSpreadsheet Format = "spreadsheet"
	FormatWord        Format = "word"
	FormatPDF         Format = "pdf"
)

// Item is a candidate unit of knowledge: a scraped article or an uploaded document.
type Item struct {
	ID string
	// SourceURL is the identity of scraped items; uploads leave it empty and use ContentHash.
	SourceURL   string
	ContentHash string
	SourceName  string
	Title       string

	RawText   string
	RawFormat Format
	// RawBytes carries binary payloads (file sources) to the processor; never persisted.
	RawBytes []byte

	NormalizedText string
	Tables         []TableExtract

	PublishedAt *time.Time
	IngestedAt  time.Time

	Topics TopicSet
	// Relevance is nil until the analyzer has judged the item.
	Relevance   *Relevance
	IndexStatus IndexStatus
}

// Relevance holds the analyzer output that must be set together.
type Relevance struct {
	Score   float64
	Summary string
}

// Key returns the deduplication identity of the item.
func (i Item) Key() string {
	if i.SourceURL != "" {
		return i.SourceURL
	}
	return i.ContentHash
}

// ApplyAnalysis copies score, summary and topics in one step.
func (i *Item) ApplyAnalysis(a Analysis) {
	i.Relevance = &Relevance{Score: a.Score, Summary: a.Summary}
	i.Topics = a.Topics
}

// Summary returns the analyzer summary or an empty string.
func (i Item) Summary() string {
	if i.Relevance == nil {
		return ""
	}
	return i.Relevance.Summary
}

// Recency is the timestamp used for ordering and date filters.
func (i Item) Recency() time.Time {
	if i.PublishedAt != nil && !i.PublishedAt.IsZero() {
		return *i.PublishedAt
	}
	return i.IngestedAt
}

// EmbeddingText is the text handed to the embedding provider.
func (i Item) EmbeddingText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{i.Title, i.Summary(), i.NormalizedText} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// NewItemID returns a fresh surrogate key.
func NewItemID() string {
	return uuid.New().String()
}

// ContentHash derives the identity of content that has no URL.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Analysis is the structured judgment returned by the relevance analyzer.
type Analysis struct {
	IsRelevant bool
	Score      float64
	Summary    string
	Topics     TopicSet
}

// Accepted applies the gate. The threshold is inclusive.
func (a Analysis) Accepted(threshold float64) bool {
	return a.IsRelevant && a.Score >= threshold
}

// Settings is the immutable per-run snapshot of user configuration.
type Settings struct {
	Topics     []string
	Threshold  float64
	WindowDays int
}

// TopicSet is a case-insensitive set of topic names that keeps the first spelling seen.
type TopicSet struct {
	items map[string]string
}

// NewTopicSet builds a set, ignoring blanks and duplicates.
func NewTopicSet(topics ...string) TopicSet {
	var s TopicSet
	for _, t := range topics {
		s.Add(t)
	}
	return s
}

// Add inserts a topic.
func (s *TopicSet) Add(topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	if s.items == nil {
		s.items = map[string]string{}
	}
	key := strings.ToLower(topic)
	if _, ok := s.items[key]; !ok {
		s.items[key] = topic
	}
}

// Contains reports membership ignoring case.
func (s TopicSet) Contains(topic string) bool {
	_, ok := s.items[strings.ToLower(strings.TrimSpace(topic))]
	return ok
}

// ContainsAny reports whether at least one of topics is a member.
func (s TopicSet) ContainsAny(topics []string) bool {
	for _, t := range topics {
		if s.Contains(t) {
			return true
		}
	}
	return false
}

// Len returns the number of topics.
func (s TopicSet) Len() int {
	return len(s.items)
}

// Values returns the topics sorted case-insensitively.
func (s TopicSet) Values() []string {
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.items[k])
	}
	return out
}
