package parser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/infrastructure/fetch"
	"KnowledgeScanner/internal/logging"
	"KnowledgeScanner/internal/scanner"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Lab blog</title>
<item><title>First</title><link>https://example.com/a</link>
<description>Short description</description><pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate></item>
<item><title>Second</title><link>https://example.com/b</link>
<description>Only teaser</description>
<content:encoded xmlns:content="http://purl.org/rss/1.0/modules/content/"><![CDATA[<p>Full body</p>]]></content:encoded></item>
<item><title>Third</title><link>https://example.com/c</link><description>Third</description></item>
</channel></rss>`

func TestRSSScannerReadsEntries(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	rss := NewRSSScanner(fetch.NewClient(server.Client(), "", 0), 2)
	items, err := rss.Scan(context.Background(), scanner.Source{Name: "lab", Endpoint: server.URL, Kind: scanner.KindRSS})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "https://example.com/a", items[0].SourceURL)
	assert.Equal(t, "First", items[0].Title)
	assert.Equal(t, "Short description", items[0].RawText)
	assert.Equal(t, domain.FormatHTML, items[0].RawFormat)
	require.NotNil(t, items[0].PublishedAt)
	assert.Equal(t, 2025, items[0].PublishedAt.Year())
	assert.Equal(t, "lab", items[0].SourceName)

	assert.Equal(t, "<p>Full body</p>", items[1].RawText)
	assert.Nil(t, items[1].PublishedAt)
}

func TestRSSScannerRejectsMalformedFeed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not xml"))
	}))
	defer server.Close()

	rss := NewRSSScanner(fetch.NewClient(server.Client(), "", 0), 10)
	_, err := rss.Scan(context.Background(), scanner.Source{Name: "bad", Endpoint: server.URL})
	assert.Error(t, err)
}

const listingPage = `<html><body>
<div class="post"><h2>Alpha release</h2><a href="/posts/alpha#top">read</a>
  <p class="teaser">Alpha teaser</p><time datetime="2025-05-01T08:00:00Z">May 1</time></div>
<div class="post"><h2>Beta notes</h2><a href="https://other.example/beta">read</a>
  <p class="teaser">Beta teaser</p><time>2025-05-02</time></div>
<div class="post"><h2>No link here</h2></div>
<div class="post"><h2>Alpha again</h2><a href="/posts/alpha">read</a></div>
</body></html>`

func TestExtractEntries(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingPage))
	require.NoError(t, err)
	base, _ := url.Parse("https://blog.example/list")

	sel := selectorsFor(scanner.Source{Options: map[string]string{"item": "div.post", "summary": "p.teaser"}})
	items := extractEntries(doc, base, sel, 10)
	require.Len(t, items, 2)

	assert.Equal(t, "https://blog.example/posts/alpha", items[0].SourceURL)
	assert.Equal(t, "Alpha release", items[0].Title)
	assert.Contains(t, items[0].RawText, "Alpha teaser")
	require.NotNil(t, items[0].PublishedAt)
	assert.Equal(t, time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC), *items[0].PublishedAt)

	assert.Equal(t, "https://other.example/beta", items[1].SourceURL)
	require.NotNil(t, items[1].PublishedAt)
	assert.Equal(t, 2, items[1].PublishedAt.Day())

	limited := extractEntries(doc, base, sel, 1)
	assert.Len(t, limited, 1)
}

func TestHTMLScannerFollowsArticles(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><article><h2>One</h2><a href="/p/1">x</a></article></body></html>`))
	})
	mux.HandleFunc("/p/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><nav>menu</nav><article><p>Full article body</p></article></body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	hs := NewHTMLScanner(fetch.NewClient(server.Client(), "", 0), 10)
	items, err := hs.Scan(context.Background(), scanner.Source{
		Name:     "site",
		Endpoint: server.URL + "/list",
		Options:  map[string]string{"follow": "true"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, server.URL+"/p/1", items[0].SourceURL)
	assert.Contains(t, items[0].RawText, "Full article body")
	assert.NotContains(t, items[0].RawText, "menu")
	assert.Equal(t, "site", items[0].SourceName)
}

func TestFileScannerHashesContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("beta"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.bin"), []byte("skip"), 0o600))

	fs := NewFileScanner(logging.Discard())
	items, err := fs.Scan(context.Background(), scanner.Source{Name: "inbox", Endpoint: filepath.Join(dir, "*")})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "a.txt", items[0].Title)
	assert.Equal(t, domain.ContentHash([]byte("alpha")), items[0].ContentHash)
	assert.Equal(t, items[0].ContentHash, items[0].Key())
	assert.Empty(t, items[0].SourceURL)
	assert.Equal(t, []byte("alpha"), items[0].RawBytes)
	assert.Equal(t, domain.FormatText, items[1].RawFormat)
}

type stubScanner struct {
	kind  string
	items []domain.Item
	err   error
}

func (s stubScanner) Kind() string { return s.kind }

func (s stubScanner) Scan(context.Context, scanner.Source) ([]domain.Item, error) {
	return s.items, s.err
}

func TestStrategySourceIsolatesFailures(t *testing.T) {
	t.Parallel()

	reg := scanner.NewRegistry()
	reg.Register(stubScanner{kind: "good", items: []domain.Item{
		{SourceURL: "https://x/1", Title: "one"},
		{SourceURL: "https://x/2", Title: "two"},
		{SourceURL: "https://x/1", Title: "dup"},
	}})
	reg.Register(stubScanner{kind: "broken", err: errors.New("connection refused")})

	src := NewStrategySource(reg, []config.SourceConfig{
		{Name: "first", Endpoint: "https://x", Kind: "good"},
		{Name: "down", Endpoint: "https://down", Kind: "broken"},
		{Name: "unknown", Endpoint: "https://y", Kind: "ftp"},
	}, 2, logging.Discard())

	items, failures := src.Fetch(context.Background())
	require.Len(t, items, 2)
	assert.Equal(t, "one", items[0].Title)
	assert.Equal(t, "first", items[0].SourceName)

	require.Len(t, failures, 2)
	assert.Equal(t, "down", failures[0].Source)
	assert.ErrorIs(t, failures[0], domain.ErrSourceFetch)
	assert.Equal(t, domain.StateFetching, failures[0].Stage)
	assert.Equal(t, "unknown", failures[1].Source)
}
