package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stats counts stored items for the dashboard.
type Stats struct {
	Today      int
	Window     int
	WindowDays int
	BySource   map[string]int
	ByTopic    map[string]int
}

// DailySummary is the digest of the items accepted on one UTC day.
type DailySummary struct {
	Date      time.Time
	Digest    string
	ItemCount int
	Topics    []string
}

// NewDailySummary renders the digest of one run's accepted items, dated by day.
func NewDailySummary(day time.Time, items []Item) DailySummary {
	var topics TopicSet
	for _, item := range items {
		for _, t := range item.Topics.Values() {
			topics.Add(t)
		}
	}
	return DailySummary{
		Date:      day.UTC().Truncate(24 * time.Hour),
		Digest:    Digest(items),
		ItemCount: len(items),
		Topics:    topics.Values(),
	}
}

// Digest renders one block per item: title, score, summary and link.
func Digest(items []Item) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- *%s*\n", item.Title)
		if item.Relevance != nil {
			fmt.Fprintf(&b, "Score: %.2f\n", item.Relevance.Score)
			if item.Relevance.Summary != "" {
				b.WriteString(item.Relevance.Summary)
				b.WriteByte('\n')
			}
		}
		if item.SourceURL != "" {
			b.WriteString(item.SourceURL)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
