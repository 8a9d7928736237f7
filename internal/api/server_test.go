package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/usecase"
)

type fakeService struct {
	results    []domain.SearchResult
	items      []domain.Item
	err        error
	gotQuery   string
	gotK       int
	gotFilter  domain.Filter
	gotDays    int
	gotFile    string
	gotData    []byte
	settings   domain.Settings
	updatedKey string
	stats      domain.Stats

	runErr      error
	runDeadline bool
}

func (f *fakeService) Search(_ context.Context, q string, k int, filter domain.Filter) ([]domain.SearchResult, error) {
	f.gotQuery, f.gotK, f.gotFilter = q, k, filter
	return f.results, f.err
}

func (f *fakeService) QueryRecent(_ context.Context, days int) ([]domain.Item, error) {
	f.gotDays = days
	return f.items, f.err
}

func (f *fakeService) QueryByText(_ context.Context, q string) ([]domain.Item, error) {
	f.gotQuery = q
	return f.items, f.err
}

func (f *fakeService) IngestDocument(_ context.Context, name string, data []byte) (usecase.IngestResult, error) {
	f.gotFile, f.gotData = name, data
	if f.err != nil {
		return usecase.IngestResult{}, f.err
	}
	return usecase.IngestResult{Item: domain.Item{ID: "u1", Title: name, SourceName: usecase.UploadSource}, Indexed: true}, nil
}

func (f *fakeService) ReindexCatchUp(context.Context) (domain.IndexReport, error) {
	return domain.IndexReport{Attempted: 3, Indexed: 2, Failed: 1}, f.err
}

func (f *fakeService) RunOnce(ctx context.Context) (domain.RunSummary, error) {
	f.runErr = ctx.Err()
	_, f.runDeadline = ctx.Deadline()
	return domain.RunSummary{State: domain.StateDone, Accepted: 2}, f.err
}

func (f *fakeService) Stats(_ context.Context, days int) (domain.Stats, error) {
	f.gotDays = days
	return f.stats, f.err
}

func (f *fakeService) Settings(context.Context) domain.Settings {
	return f.settings
}

func (f *fakeService) UpdateSetting(_ context.Context, key, value string) error {
	if f.err != nil {
		return f.err
	}
	f.updatedKey = key
	f.settings.Topics = strings.Split(value, ",")
	return nil
}

func newTestServer(svc Service) http.Handler {
	return NewServer(context.Background(), config.APIConfig{AllowedOrigins: []string{"https://dash.example"}}, svc, nil).Handler()
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestSearchParsesParameters(t *testing.T) {
	t.Parallel()

	svc := &fakeService{results: []domain.SearchResult{
		{Item: domain.Item{ID: "a", Title: "Alpha", Relevance: &domain.Relevance{Score: 9, Summary: "s"}}, Score: 0.93},
	}}
	req := httptest.NewRequest(http.MethodGet,
		"/api/search?q=vector+db&k=3&source=blog,lab&source=news&topic=AI&since=2026-01-01&until=2026-02-01T00:00:00Z", nil)

	rec, resp := do(t, newTestServer(svc), req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Meta.Total)

	assert.Equal(t, "vector db", svc.gotQuery)
	assert.Equal(t, 3, svc.gotK)
	assert.Equal(t, []string{"blog", "lab", "news"}, svc.gotFilter.Sources)
	assert.Equal(t, []string{"AI"}, svc.gotFilter.Topics)
	require.NotNil(t, svc.gotFilter.Since)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *svc.gotFilter.Since)
	require.NotNil(t, svc.gotFilter.Until)

	data := resp.Data.([]any)
	first := data[0].(map[string]any)
	assert.InDelta(t, 0.93, first["score"], 1e-9)
	assert.Equal(t, "Alpha", first["item"].(map[string]any)["title"])
}

func TestSearchRejectsBadInput(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeService{err: fmt.Errorf("%w: empty query", domain.ErrInvalidQuery)})

	rec, resp := do(t, h, httptest.NewRequest(http.MethodGet, "/api/search?q=", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", resp.Error.Code)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/api/search?q=x&k=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = do(t, h, httptest.NewRequest(http.MethodGet, "/api/search?q=x&since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_filter", resp.Error.Code)
}

func TestErrorTaxonomyMapsToStatus(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		domain.ErrEmbeddingUnavailable: http.StatusServiceUnavailable,
		domain.ErrRunInProgress:        http.StatusConflict,
		fmt.Errorf("boom"):             http.StatusInternalServerError,
	}
	for err, want := range cases {
		h := newTestServer(&fakeService{err: err})
		rec, resp := do(t, h, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
		assert.Equal(t, want, rec.Code, err.Error())
		assert.False(t, resp.Success)
	}
}

func TestRecentAndTextQueries(t *testing.T) {
	t.Parallel()

	svc := &fakeService{items: []domain.Item{{ID: "a", Title: "Alpha"}, {ID: "b", Title: "Beta"}}}
	h := newTestServer(svc)

	rec, resp := do(t, h, httptest.NewRequest(http.MethodGet, "/api/items/recent?days=14", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 14, svc.gotDays)
	assert.Equal(t, 2, resp.Meta.Total)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/api/items/recent", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, svc.gotDays)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/api/items?q=alp", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alp", svc.gotQuery)
}

func TestUploadDocument(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello alpha"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	svc := &fakeService{}
	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec, resp := do(t, newTestServer(svc), req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "notes.txt", svc.gotFile)
	assert.Equal(t, "hello alpha", string(svc.gotData))
	assert.Equal(t, true, resp.Data.(map[string]any)["indexed"])
}

func TestUploadRequiresFile(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader("nope"))
	req.Header.Set("Content-Type", "text/plain")
	rec, resp := do(t, newTestServer(&fakeService{}), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_upload", resp.Error.Code)
}

func TestUploadUnsupportedFormat(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "image.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec, _ := do(t, newTestServer(&fakeService{err: fmt.Errorf("%w: \".png\"", domain.ErrUnsupportedFormat)}), req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestReindexAndSettings(t *testing.T) {
	t.Parallel()

	svc := &fakeService{settings: domain.Settings{Topics: []string{"AI"}, Threshold: 5, WindowDays: 7}}
	h := newTestServer(svc)

	rec, resp := do(t, h, httptest.NewRequest(http.MethodPost, "/api/reindex", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, resp.Data.(map[string]any)["indexed"])

	rec, resp = do(t, h, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, resp.Data.(map[string]any)["relevance_threshold"])

	req := httptest.NewRequest(http.MethodPut, "/api/settings/topics", strings.NewReader(`{"value":"space,robotics"}`))
	rec, _ = do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "topics", svc.updatedKey)
}

func TestHealthAndCORS(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://dash.example")

	rec, resp := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	metrics := httptest.NewRecorder()
	h.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metrics.Code)
}

func TestStats(t *testing.T) {
	t.Parallel()

	svc := &fakeService{stats: domain.Stats{
		Today:      2,
		Window:     5,
		WindowDays: 7,
		BySource:   map[string]int{"lab": 3, "upload": 2},
		ByTopic:    map[string]int{"AI": 4},
	}}
	h := newTestServer(svc)

	rec, resp := do(t, h, httptest.NewRequest(http.MethodGet, "/api/stats?days=7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, svc.gotDays)

	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 2, data["today_count"])
	assert.EqualValues(t, 5, data["window_count"])
	assert.EqualValues(t, 3, data["sources"].(map[string]any)["lab"])
	assert.EqualValues(t, 4, data["topics"].(map[string]any)["AI"])

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/api/stats?days=week", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEmptyStoreRendersEmptyMaps(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sources":{}`)
	assert.Contains(t, rec.Body.String(), `"topics":{}`)
}

func TestRunOutlivesRequest(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/runs", nil).WithContext(reqCtx)

	rec, resp := do(t, newTestServer(svc), req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, svc.runErr)
	assert.True(t, svc.runDeadline)
	assert.EqualValues(t, 2, resp.Data.(map[string]any)["accepted"])
}

func TestRunStopsWithServerLifetime(t *testing.T) {
	t.Parallel()

	lifetime, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &fakeService{}
	h := NewServer(lifetime, config.APIConfig{RunTimeout: time.Minute}, svc, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ErrorIs(t, svc.runErr, context.Canceled)
}
