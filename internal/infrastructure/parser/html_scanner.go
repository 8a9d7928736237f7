package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/infrastructure/fetch"
	"KnowledgeScanner/internal/scanner"
)

// HTMLScanner crawls a listing page and extracts entries with configurable selectors.
//
// Options: item, title, link, summary, date, date_layout, follow, max_items.
type HTMLScanner struct {
	client   *fetch.Client
	maxItems int
	now      func() time.Time
}

var _ scanner.Scanner = (*HTMLScanner)(nil)

// NewHTMLScanner wires the shared fetch client; maxItems defaults to 10.
func NewHTMLScanner(client *fetch.Client, maxItems int) *HTMLScanner {
	if maxItems <= 0 {
		maxItems = 10
	}
	return &HTMLScanner{client: client, maxItems: maxItems, now: time.Now}
}

// Kind identifies the strategy inside the registry.
func (h *HTMLScanner) Kind() string {
	return scanner.KindHTML
}

type listingSelectors struct {
	item, title, link, summary, date, dateLayout string
}

func selectorsFor(src scanner.Source) listingSelectors {
	return listingSelectors{
		item:       src.Option("item", "article"),
		title:      src.Option("title", "h1, h2, h3"),
		link:       src.Option("link", "a[href]"),
		summary:    src.Option("summary", "p"),
		date:       src.Option("date", "time"),
		dateLayout: src.Option("date_layout", time.RFC3339),
	}
}

// Scan fetches the listing and, when follow=true, every linked article page.
// All requests of one scan share a session, so the politeness delay applies between them.
func (h *HTMLScanner) Scan(ctx context.Context, src scanner.Source) ([]domain.Item, error) {
	base, err := url.Parse(src.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %s: %w", src.Endpoint, err)
	}

	session := h.client.Session()
	body, err := session.Get(ctx, src.Endpoint)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	items := extractEntries(doc, base, selectorsFor(src), src.IntOption("max_items", h.maxItems))
	ingested := h.now().UTC()
	follow, _ := strconv.ParseBool(src.Option("follow", "false"))

	for i := range items {
		items[i].SourceName = src.Name
		items[i].IngestedAt = ingested
		if !follow {
			continue
		}
		page, err := session.Get(ctx, items[i].SourceURL)
		if err != nil {
			return nil, fmt.Errorf("follow %s: %w", items[i].SourceURL, err)
		}
		if content := articleHTML(page); content != "" {
			items[i].RawText = content
		}
	}
	return items, nil
}

func extractEntries(doc *goquery.Document, base *url.URL, sel listingSelectors, limit int) []domain.Item {
	var collected []domain.Item
	seen := map[string]struct{}{}

	doc.Find(sel.item).EachWithBreak(func(_ int, entry *goquery.Selection) bool {
		item, ok := parseEntry(entry, base, sel)
		if !ok {
			return true
		}
		if _, dup := seen[item.SourceURL]; dup {
			return true
		}
		seen[item.SourceURL] = struct{}{}
		collected = append(collected, item)
		return len(collected) < limit
	})
	return collected
}

func parseEntry(entry *goquery.Selection, base *url.URL, sel listingSelectors) (domain.Item, bool) {
	link := entry.Find(sel.link).First()
	if link.Length() == 0 && goquery.NodeName(entry) == "a" {
		link = entry
	}
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return domain.Item{}, false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return domain.Item{}, false
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""

	title := strings.TrimSpace(entry.Find(sel.title).First().Text())
	if title == "" {
		title = strings.TrimSpace(link.Text())
	}

	summary := entry.Find(sel.summary).First()
	raw, _ := goquery.OuterHtml(summary)
	if summary.Length() == 0 {
		raw = ""
	}

	return domain.Item{
		SourceURL:   abs.String(),
		Title:       title,
		RawText:     raw,
		RawFormat:   domain.FormatHTML,
		PublishedAt: parseDate(entry.Find(sel.date).First(), sel.dateLayout),
	}, true
}

func parseDate(sel *goquery.Selection, layout string) *time.Time {
	if sel.Length() == 0 {
		return nil
	}
	candidates := []string{strings.TrimSpace(sel.Text())}
	if attr, ok := sel.Attr("datetime"); ok {
		candidates = append([]string{strings.TrimSpace(attr)}, candidates...)
	}
	for _, value := range candidates {
		for _, l := range []string{layout, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(l, value); err == nil {
				parsed = parsed.UTC()
				return &parsed
			}
		}
	}
	return nil
}

// articleHTML returns the main content block of an article page.
func articleHTML(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	for _, selector := range []string{"article", "main", "body"} {
		if s := doc.Find(selector).First(); s.Length() > 0 {
			html, err := goquery.OuterHtml(s)
			if err == nil {
				return html
			}
		}
	}
	return ""
}
