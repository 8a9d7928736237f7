package domain

import (
	"strings"
	"time"
)

// VectorMetadata is the subset of item attributes the index filters on.
type VectorMetadata struct {
	SourceName  string
	PublishedAt *time.Time
	IngestedAt  time.Time
	Topics      TopicSet
}

// Recency mirrors Item.Recency for indexed records.
func (m VectorMetadata) Recency() time.Time {
	if m.PublishedAt != nil && !m.PublishedAt.IsZero() {
		return *m.PublishedAt
	}
	return m.IngestedAt
}

// MetadataFor extracts index metadata from an item.
func MetadataFor(item Item) VectorMetadata {
	return VectorMetadata{
		SourceName:  item.SourceName,
		PublishedAt: item.PublishedAt,
		IngestedAt:  item.IngestedAt,
		Topics:      item.Topics,
	}
}

// VectorRecord is the index view of an indexed item. The record store owns the item itself.
type VectorRecord struct {
	ItemID    string
	Embedding []float32
	Metadata  VectorMetadata
}

// Filter restricts search candidates before ranking. Zero value matches everything.
type Filter struct {
	// Sources matches any of the listed source names.
	Sources []string
	// Topics matches records tagged with any of the listed topics.
	Topics []string
	Since  *time.Time
	Until  *time.Time
}

// Match applies the filter to record metadata.
func (f Filter) Match(m VectorMetadata) bool {
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if strings.EqualFold(s, m.SourceName) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Topics) > 0 && !m.Topics.ContainsAny(f.Topics) {
		return false
	}
	at := m.Recency()
	if f.Since != nil && at.Before(*f.Since) {
		return false
	}
	if f.Until != nil && at.After(*f.Until) {
		return false
	}
	return true
}

// SearchHit is a raw index match.
type SearchHit struct {
	ItemID string
	Score  float64
}

// SearchResult is a hit hydrated from the record store.
type SearchResult struct {
	Item  Item
	Score float64
}
