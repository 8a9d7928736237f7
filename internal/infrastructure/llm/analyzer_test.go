package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
)

type capture struct {
	mu   sync.Mutex
	body string
}

func (c *capture) set(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = body
}

func (c *capture) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

func completionServer(t *testing.T, status int, content string, seen *capture) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			seen.set(string(body))
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
}

func newTestAnalyzer(url string) *Analyzer {
	return NewAnalyzer(config.AnalyzerConfig{
		BaseURL:       url + "/v1",
		Model:         "test-model",
		APIKey:        "test",
		Timeout:       2 * time.Second,
		MaxInputChars: 20,
	})
}

func TestAnalyzeParsesVerdict(t *testing.T) {
	t.Parallel()

	seen := &capture{}
	server := completionServer(t, http.StatusOK,
		`{"is_relevant": true, "score": 7.5, "summary": " New model released. ", "topics": ["AI", "ai", "Robotics"]}`, seen)
	defer server.Close()

	got, err := newTestAnalyzer(server.URL).Analyze(context.Background(), ports.AnalysisRequest{
		Title:     "Launch",
		URL:       "https://example.com/launch",
		Text:      strings.Repeat("x", 100),
		Topics:    []string{"AI", "Robotics"},
		Threshold: 5,
		Context:   []string{"Earlier summary"},
	})
	require.NoError(t, err)
	assert.True(t, got.IsRelevant)
	assert.InDelta(t, 7.5, got.Score, 1e-9)
	assert.Equal(t, "New model released.", got.Summary)
	assert.Equal(t, []string{"AI", "Robotics"}, got.Topics.Values())

	body := seen.get()
	assert.Contains(t, body, `"model":"test-model"`)
	assert.Contains(t, body, `"json_object"`)
	assert.Contains(t, body, "Earlier summary")
	assert.Contains(t, body, strings.Repeat("x", 20))
	assert.NotContains(t, body, strings.Repeat("x", 21))
}

func TestAnalyzeFailsClosed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":        `I think it is relevant`,
		"missing score":   `{"is_relevant": true, "summary": "s", "topics": []}`,
		"missing flag":    `{"score": 4, "summary": "s"}`,
		"missing summary": `{"is_relevant": false, "score": 1}`,
		"score too high":  `{"is_relevant": true, "score": 11, "summary": "s"}`,
		"negative score":  `{"is_relevant": true, "score": -1, "summary": "s"}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			server := completionServer(t, http.StatusOK, content, nil)
			defer server.Close()

			_, err := newTestAnalyzer(server.URL).Analyze(context.Background(), ports.AnalysisRequest{Title: "t"})
			assert.ErrorIs(t, err, domain.ErrAnalysis)
		})
	}
}

func TestAnalyzeTransportError(t *testing.T) {
	t.Parallel()

	server := completionServer(t, http.StatusInternalServerError, "", nil)
	defer server.Close()

	_, err := newTestAnalyzer(server.URL).Analyze(context.Background(), ports.AnalysisRequest{Title: "t"})
	assert.ErrorIs(t, err, domain.ErrAnalysis)
}

func TestParseVerdictAcceptsFencedJSON(t *testing.T) {
	t.Parallel()

	got, err := parseVerdict("```json\n{\"is_relevant\": false, \"score\": 0, \"summary\": \"\"}\n```")
	require.NoError(t, err)
	assert.False(t, got.IsRelevant)
	assert.Zero(t, got.Topics.Len())
}
