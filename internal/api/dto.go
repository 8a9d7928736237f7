package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"KnowledgeScanner/internal/domain"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	Total int `json:"total"`
}

type TableDTO struct {
	Name   string     `json:"name"`
	Header []string   `json:"header,omitempty"`
	Rows   [][]string `json:"rows"`
}

type ItemDTO struct {
	ID          string     `json:"id"`
	SourceURL   string     `json:"source_url,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
	SourceName  string     `json:"source_name"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Score       *float64   `json:"relevance_score,omitempty"`
	Topics      []string   `json:"topics"`
	Tables      []TableDTO `json:"tables,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	IngestedAt  time.Time  `json:"ingested_at"`
	IndexStatus string     `json:"index_status"`
}

type SearchResultDTO struct {
	Item  ItemDTO `json:"item"`
	Score float64 `json:"score"`
}

type UploadDTO struct {
	Item      ItemDTO `json:"item"`
	Duplicate bool    `json:"duplicate"`
	Indexed   bool    `json:"indexed"`
}

type ReportDTO struct {
	Attempted int      `json:"attempted"`
	Indexed   int      `json:"indexed"`
	Failed    int      `json:"failed"`
	Failures  []string `json:"failures,omitempty"`
}

type RunDTO struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	State       string    `json:"state"`
	Fetched     int       `json:"fetched"`
	Known       int       `json:"known"`
	Analyzed    int       `json:"analyzed"`
	Accepted    int       `json:"accepted"`
	Rejected    int       `json:"rejected"`
	Persisted   int       `json:"persisted"`
	Indexed     int       `json:"indexed"`
	IndexFailed int       `json:"index_failed"`
	Notified    bool      `json:"notified"`
	Failures    []string  `json:"failures,omitempty"`
}

type SettingsDTO struct {
	Topics     []string `json:"topics"`
	Threshold  float64  `json:"relevance_threshold"`
	WindowDays int      `json:"dashboard_window_days"`
}

type StatsDTO struct {
	TodayCount  int            `json:"today_count"`
	WindowCount int            `json:"window_count"`
	WindowDays  int            `json:"window_days"`
	Sources     map[string]int `json:"sources"`
	Topics      map[string]int `json:"topics"`
}

func newItemDTO(item domain.Item) ItemDTO {
	dto := ItemDTO{
		ID:          item.ID,
		SourceURL:   item.SourceURL,
		ContentHash: item.ContentHash,
		SourceName:  item.SourceName,
		Title:       item.Title,
		Summary:     item.Summary(),
		Topics:      item.Topics.Values(),
		PublishedAt: item.PublishedAt,
		IngestedAt:  item.IngestedAt,
		IndexStatus: string(item.IndexStatus),
	}
	if item.Relevance != nil {
		score := item.Relevance.Score
		dto.Score = &score
	}
	for _, t := range item.Tables {
		dto.Tables = append(dto.Tables, TableDTO{Name: t.Name, Header: t.Header, Rows: t.Rows})
	}
	return dto
}

func newReportDTO(r domain.IndexReport) ReportDTO {
	return ReportDTO{
		Attempted: r.Attempted,
		Indexed:   r.Indexed,
		Failed:    r.Failed,
		Failures:  failureStrings(r.Failures),
	}
}

func newRunDTO(s domain.RunSummary) RunDTO {
	return RunDTO{
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		State:       string(s.State),
		Fetched:     s.Fetched,
		Known:       s.Known,
		Analyzed:    s.Analyzed,
		Accepted:    s.Accepted,
		Rejected:    s.Rejected,
		Persisted:   s.Persisted,
		Indexed:     s.Indexed,
		IndexFailed: s.IndexFailed,
		Notified:    s.Notified,
		Failures:    failureStrings(s.Failures),
	}
}

func newSettingsDTO(s domain.Settings) SettingsDTO {
	topics := s.Topics
	if topics == nil {
		topics = []string{}
	}
	return SettingsDTO{Topics: topics, Threshold: s.Threshold, WindowDays: s.WindowDays}
}

func newStatsDTO(s domain.Stats) StatsDTO {
	dto := StatsDTO{
		TodayCount:  s.Today,
		WindowCount: s.Window,
		WindowDays:  s.WindowDays,
		Sources:     s.BySource,
		Topics:      s.ByTopic,
	}
	if dto.Sources == nil {
		dto.Sources = map[string]int{}
	}
	if dto.Topics == nil {
		dto.Topics = map[string]int{}
	}
	return dto
}

func failureStrings(failures []domain.ItemFailure) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.Error())
	}
	return out
}

func writeItems(w http.ResponseWriter, items []domain.Item) {
	out := make([]ItemDTO, 0, len(items))
	for _, item := range items {
		out = append(out, newItemDTO(item))
	}
	writeSuccess(w, http.StatusOK, out, &Meta{Total: len(out)})
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Default().Warn("encode response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, data any, meta *Meta) {
	writeJSON(w, status, Response{Success: true, Data: data, Meta: meta})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Response{Success: false, Error: &Error{Code: code, Message: message}})
}
