// Package api serves the stored knowledge base to the dashboard and chatbot over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/usecase"
)

const (
	maxUploadBytes    = 32 << 20
	defaultRunTimeout = 30 * time.Minute
)

// Service is the slice of the pipeline the HTTP surface drives.
type Service interface {
	Search(ctx context.Context, query string, k int, filter domain.Filter) ([]domain.SearchResult, error)
	QueryRecent(ctx context.Context, windowDays int) ([]domain.Item, error)
	QueryByText(ctx context.Context, substring string) ([]domain.Item, error)
	IngestDocument(ctx context.Context, filename string, data []byte) (usecase.IngestResult, error)
	ReindexCatchUp(ctx context.Context) (domain.IndexReport, error)
	RunOnce(ctx context.Context) (domain.RunSummary, error)
	Stats(ctx context.Context, windowDays int) (domain.Stats, error)
	Settings(ctx context.Context) domain.Settings
	UpdateSetting(ctx context.Context, key, value string) error
}

var _ Service = (*usecase.Pipeline)(nil)

// Server owns the router and the listening http.Server.
type Server struct {
	service Service
	router  *mux.Router
	handler http.Handler
	server  *http.Server
	logger  *slog.Logger

	// lifetime bounds ingestion passes started over HTTP; they outlive their request.
	lifetime   context.Context
	runTimeout time.Duration
}

// NewServer registers routes and wraps them in CORS handling. Cancelling ctx aborts
// ingestion passes triggered through the API.
func NewServer(ctx context.Context, cfg config.APIConfig, service Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	s := &Server{
		service:    service,
		router:     mux.NewRouter(),
		logger:     logger,
		lifetime:   ctx,
		runTimeout: runTimeout,
	}
	s.setupRoutes()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/items/recent", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/items", s.handleByText).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/documents", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/reindex", s.handleReindex).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleRun).Methods(http.MethodPost)
	api.HandleFunc("/settings", s.handleSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", s.handleUpdateSetting).Methods(http.MethodPut)
}

// Handler exposes the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("api stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	k, err := intParam(q.Get("k"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_k", err.Error())
		return
	}
	filter, err := parseFilter(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	results, err := s.service.Search(r.Context(), q.Get("q"), k, filter)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	out := make([]SearchResultDTO, 0, len(results))
	for _, res := range results {
		out = append(out, SearchResultDTO{Item: newItemDTO(res.Item), Score: res.Score})
	}
	writeSuccess(w, http.StatusOK, out, &Meta{Total: len(out)})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_days", err.Error())
		return
	}
	items, err := s.service.QueryRecent(r.Context(), days)
	if err != nil {
		s.fail(w, "recent", err)
		return
	}
	writeItems(w, items)
}

func (s *Server) handleByText(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.QueryByText(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, "text query", err)
		return
	}
	writeItems(w, items)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_days", err.Error())
		return
	}
	stats, err := s.service.Stats(r.Context(), days)
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	writeSuccess(w, http.StatusOK, newStatsDTO(stats), nil)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	res, err := s.service.IngestDocument(r.Context(), header.Filename, data)
	if err != nil {
		s.fail(w, "upload", err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeSuccess(w, status, UploadDTO{Item: newItemDTO(res.Item), Duplicate: res.Duplicate, Indexed: res.Indexed}, nil)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.ReindexCatchUp(r.Context())
	if err != nil {
		s.fail(w, "reindex", err)
		return
	}
	writeSuccess(w, http.StatusOK, newReportDTO(report), nil)
}

// handleRun runs the pass on the server lifetime, not the request: a client that
// disconnects does not abort it.
func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	ctx, cancel := context.WithTimeout(s.lifetime, s.runTimeout)
	defer cancel()

	summary, err := s.service.RunOnce(ctx)
	if err != nil {
		s.fail(w, "run", err)
		return
	}
	writeSuccess(w, http.StatusOK, newRunDTO(summary), nil)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, newSettingsDTO(s.service.Settings(r.Context())), nil)
}

func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := s.service.UpdateSetting(r.Context(), mux.Vars(r)["key"], body.Value); err != nil {
		s.fail(w, "update setting", err)
		return
	}
	writeSuccess(w, http.StatusOK, newSettingsDTO(s.service.Settings(r.Context())), nil)
}

// fail maps the error taxonomy onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrInvalidSetting):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrUnsupportedFormat):
		status, code = http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, domain.ErrCorruptDocument):
		status, code = http.StatusUnprocessableEntity, "corrupt_document"
	case errors.Is(err, domain.ErrRunInProgress):
		status, code = http.StatusConflict, "run_in_progress"
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		status, code = http.StatusServiceUnavailable, "embedding_unavailable"
	default:
		status, code = http.StatusInternalServerError, "internal"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "error", err)
	} else {
		s.logger.Debug("request rejected", "op", op, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func intParam(raw string) (int, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func parseFilter(q map[string][]string) (domain.Filter, error) {
	var (
		f   domain.Filter
		err error
	)
	f.Sources = listParam(q["source"])
	f.Topics = listParam(q["topic"])
	if f.Since, err = timeParam(first(q["since"])); err != nil {
		return f, err
	}
	if f.Until, err = timeParam(first(q["until"])); err != nil {
		return f, err
	}
	return f, nil
}

// listParam accepts both repeated parameters and comma lists.
func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func timeParam(raw string) (*time.Time, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("time must be RFC3339 or YYYY-MM-DD: " + raw)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
