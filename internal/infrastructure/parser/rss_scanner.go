package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/infrastructure/fetch"
	"KnowledgeScanner/internal/scanner"
)

// RSSScanner reads RSS/Atom feeds.
type RSSScanner struct {
	client   *fetch.Client
	maxItems int
	now      func() time.Time
}

var _ scanner.Scanner = (*RSSScanner)(nil)

// NewRSSScanner builds a feed scanner; maxItems caps entries per feed (default 10).
func NewRSSScanner(client *fetch.Client, maxItems int) *RSSScanner {
	if maxItems <= 0 {
		maxItems = 10
	}
	return &RSSScanner{client: client, maxItems: maxItems, now: time.Now}
}

// Kind identifies the strategy inside the registry.
func (r *RSSScanner) Kind() string {
	return scanner.KindRSS
}

// Scan downloads the feed and converts its newest entries into drafts.
func (r *RSSScanner) Scan(ctx context.Context, src scanner.Source) ([]domain.Item, error) {
	body, err := r.client.Session().Get(ctx, src.Endpoint)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	limit := src.IntOption("max_items", r.maxItems)
	ingested := r.now().UTC()
	items := make([]domain.Item, 0, min(limit, len(feed.Items)))

	for _, entry := range feed.Items {
		if len(items) >= limit {
			break
		}
		if entry == nil || strings.TrimSpace(entry.Link) == "" {
			continue
		}

		raw := entry.Content
		if strings.TrimSpace(raw) == "" {
			raw = entry.Description
		}

		items = append(items, domain.Item{
			SourceURL:   strings.TrimSpace(entry.Link),
			SourceName:  src.Name,
			Title:       strings.TrimSpace(entry.Title),
			RawText:     raw,
			RawFormat:   domain.FormatHTML,
			PublishedAt: entryTime(entry),
			IngestedAt:  ingested,
		})
	}
	return items, nil
}

func entryTime(entry *gofeed.Item) *time.Time {
	for _, ts := range []*time.Time{entry.PublishedParsed, entry.UpdatedParsed} {
		if ts != nil && !ts.IsZero() {
			t := ts.UTC()
			return &t
		}
	}
	return nil
}
