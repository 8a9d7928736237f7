package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var itemColumns = []string{
	"id", "source_url", "content_hash", "source_name", "title", "raw_text", "full_text", "tables",
	"published_at", "ingested_at", "topics", "relevance_score", "summary", "index_status",
}

// PostgresRepository persists accepted items, uploads and runtime config into Postgres.
type PostgresRepository struct {
	db    *sql.DB
	retry retryPolicy
	now   func() time.Time
}

var _ ports.ItemRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB; contentionRetries bounds retries of a mutation.
func NewPostgresRepository(db *sql.DB, contentionRetries int) *PostgresRepository {
	return &PostgresRepository{db: db, retry: defaultRetryPolicy(contentionRetries), now: time.Now}
}

// UpsertIfAbsent inserts the item unless its identity key already exists.
// It reports whether a row was created.
func (r *PostgresRepository) UpsertIfAbsent(ctx context.Context, item domain.Item) (bool, error) {
	if item.ID == "" {
		return false, fmt.Errorf("upsert item: empty id")
	}
	if item.Key() == "" {
		return false, fmt.Errorf("upsert item %s: no source url or content hash", item.ID)
	}

	topics, err := json.Marshal(topicsOrEmpty(item.Topics))
	if err != nil {
		return false, fmt.Errorf("encode topics: %w", err)
	}
	tables, err := json.Marshal(tablesOrEmpty(item.Tables))
	if err != nil {
		return false, fmt.Errorf("encode tables: %w", err)
	}

	var score sql.NullFloat64
	var summary sql.NullString
	if item.Relevance != nil {
		score = sql.NullFloat64{Float64: item.Relevance.Score, Valid: true}
		summary = sql.NullString{String: item.Relevance.Summary, Valid: true}
	}
	status := item.IndexStatus
	if status == "" {
		status = domain.IndexNotIndexed
	}

	query, args, err := psql.Insert("items").
		Columns(itemColumns...).
		Values(
			item.ID, nullString(item.SourceURL), nullString(item.ContentHash), item.SourceName, item.Title,
			item.RawText, item.NormalizedText, string(tables), nullTime(item.PublishedAt), item.IngestedAt.UTC(),
			string(topics), score, summary, string(status),
		).
		Suffix("ON CONFLICT DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	inserted := false
	err = r.retry.run(ctx, "upsert item", func() error {
		var id string
		err := r.db.QueryRowContext(ctx, query, args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			inserted = false
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert item %s: %w", item.Key(), err)
	}
	return inserted, nil
}

// ExistingKeys returns the subset of identity keys already stored.
func (r *PostgresRepository) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(keys) == 0 {
		return result, nil
	}

	query, args, err := psql.Select("source_url", "content_hash").
		From("items").
		Where(sq.Or{
			sq.Expr("source_url = ANY(?)", pq.StringArray(keys)),
			sq.Expr("content_hash = ANY(?)", pq.StringArray(keys)),
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url, hash sql.NullString
		if err := rows.Scan(&url, &hash); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		if url.Valid {
			result[url.String] = true
		}
		if hash.Valid {
			result[hash.String] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// GetByKey loads the item stored under a source URL or content hash.
func (r *PostgresRepository) GetByKey(ctx context.Context, key string) (domain.Item, error) {
	if key == "" {
		return domain.Item{}, fmt.Errorf("get item: empty key")
	}
	items, err := r.selectItems(ctx, psql.Select(itemColumns...).
		From("items").
		Where(sq.Or{sq.Eq{"source_url": key}, sq.Eq{"content_hash": key}}).
		Limit(1))
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item %s: %w", key, err)
	}
	if len(items) == 0 {
		return domain.Item{}, fmt.Errorf("get item %s: %w", key, domain.ErrNotFound)
	}
	return items[0], nil
}

// GetItems loads items by ID; unknown IDs are absent from the result.
func (r *PostgresRepository) GetItems(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	items, err := r.selectItems(ctx, psql.Select(itemColumns...).
		From("items").
		Where(sq.Expr("id = ANY(?)", pq.StringArray(ids))))
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	for _, item := range items {
		result[item.ID] = item
	}
	return result, nil
}

// QueryRecent returns items ingested within the last windowDays, newest first.
func (r *PostgresRepository) QueryRecent(ctx context.Context, windowDays int) ([]domain.Item, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("query recent: window must be positive, got %d", windowDays)
	}
	since := r.now().UTC().Add(-time.Duration(windowDays) * 24 * time.Hour)

	items, err := r.selectItems(ctx, psql.Select(itemColumns...).
		From("items").
		Where(sq.GtOrEq{"ingested_at": since}).
		OrderBy("ingested_at DESC", "id"))
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	return items, nil
}

// QueryByText is a case-insensitive substring search over title, summary and text.
func (r *PostgresRepository) QueryByText(ctx context.Context, substring string) ([]domain.Item, error) {
	substring = strings.TrimSpace(substring)
	if substring == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(substring) + "%"

	items, err := r.selectItems(ctx, psql.Select(itemColumns...).
		From("items").
		Where(sq.Or{
			sq.Expr(`title ILIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`summary ILIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`full_text ILIKE ? ESCAPE '\'`, pattern),
		}).
		OrderBy("ingested_at DESC", "id"))
	if err != nil {
		return nil, fmt.Errorf("query by text: %w", err)
	}
	return items, nil
}

// ListUnindexed returns items whose status is not indexed, oldest first.
func (r *PostgresRepository) ListUnindexed(ctx context.Context) ([]domain.Item, error) {
	items, err := r.selectItems(ctx, psql.Select(itemColumns...).
		From("items").
		Where(sq.NotEq{"index_status": string(domain.IndexIndexed)}).
		OrderBy("ingested_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list unindexed: %w", err)
	}
	return items, nil
}

// MarkIndexed records the index status of one item.
func (r *PostgresRepository) MarkIndexed(ctx context.Context, itemID string, status domain.IndexStatus) error {
	if _, err := domain.ParseIndexStatus(string(status)); err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	query, args, err := psql.Update("items").
		Set("index_status", string(status)).
		Where(sq.Eq{"id": itemID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	var affected int64
	err = r.retry.run(ctx, "mark indexed", func() error {
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("mark indexed %s: %w", itemID, err)
	}
	if affected == 0 {
		return fmt.Errorf("mark indexed %s: %w", itemID, domain.ErrNotFound)
	}
	return nil
}

// RecentSummaries returns up to limit summaries of the latest accepted items.
func (r *PostgresRepository) RecentSummaries(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	query, args, err := psql.Select("summary").
		From("items").
		Where(sq.And{sq.NotEq{"summary": nil}, sq.NotEq{"summary": ""}}).
		OrderBy("ingested_at DESC", "id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return summaries, nil
}

// Stats counts items ingested today (UTC) and within the last windowDays,
// and breaks the window down by source and by topic.
func (r *PostgresRepository) Stats(ctx context.Context, windowDays int) (domain.Stats, error) {
	if windowDays <= 0 {
		return domain.Stats{}, fmt.Errorf("stats: window must be positive, got %d", windowDays)
	}
	now := r.now().UTC()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)
	today := now.Truncate(24 * time.Hour)
	stats := domain.Stats{WindowDays: windowDays}

	query, args, err := psql.Select().
		Column(sq.Expr("COUNT(*) FILTER (WHERE ingested_at >= ?)", today)).
		Column("COUNT(*)").
		From("items").
		Where(sq.GtOrEq{"ingested_at": since}).
		ToSql()
	if err != nil {
		return domain.Stats{}, fmt.Errorf("build select: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.Today, &stats.Window); err != nil {
		return domain.Stats{}, fmt.Errorf("count items: %w", err)
	}

	if stats.BySource, err = r.countBy(ctx, psql.Select("source_name", "COUNT(*)").
		From("items").
		Where(sq.GtOrEq{"ingested_at": since}).
		GroupBy("source_name")); err != nil {
		return domain.Stats{}, fmt.Errorf("count by source: %w", err)
	}
	if stats.ByTopic, err = r.countBy(ctx, psql.Select("t.topic", "COUNT(*)").
		From("items CROSS JOIN LATERAL jsonb_array_elements_text(items.topics) AS t(topic)").
		Where(sq.GtOrEq{"items.ingested_at": since}).
		GroupBy("t.topic")); err != nil {
		return domain.Stats{}, fmt.Errorf("count by topic: %w", err)
	}
	return stats, nil
}

func (r *PostgresRepository) countBy(ctx context.Context, builder sq.SelectBuilder) (map[string]int, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

// SaveDailySummary stores a run digest under its day. Runs of the same day are
// appended to the existing row.
func (r *PostgresRepository) SaveDailySummary(ctx context.Context, summary domain.DailySummary) error {
	topics := summary.Topics
	if topics == nil {
		topics = []string{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	day := summary.Date.UTC().Format(time.DateOnly)

	query, args, err := psql.Insert("daily_summaries").
		Columns("run_date", "digest", "item_count", "topics", "updated_at").
		Values(day, summary.Digest, summary.ItemCount, string(topicsJSON), r.now().UTC()).
		Suffix(`ON CONFLICT (run_date) DO UPDATE SET
			digest = daily_summaries.digest || E'\n\n' || EXCLUDED.digest,
			item_count = daily_summaries.item_count + EXCLUDED.item_count,
			topics = (SELECT COALESCE(jsonb_agg(DISTINCT t), '[]'::jsonb)
				FROM jsonb_array_elements(daily_summaries.topics || EXCLUDED.topics) AS t),
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	err = r.retry.run(ctx, "save daily summary", func() error {
		_, err := r.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("save daily summary %s: %w", day, err)
	}
	return nil
}

// SaveUploadedDocument records an upload; it reports false when the content was seen before.
func (r *PostgresRepository) SaveUploadedDocument(ctx context.Context, doc domain.UploadedDocument) (bool, error) {
	query, args, err := psql.Insert("uploaded_documents").
		Columns("id", "filename", "content_hash", "format", "extracted_text", "table_extract_count", "uploaded_at").
		Values(doc.ID, doc.Filename, doc.ContentHash, string(doc.Format), doc.ExtractedText, doc.TableExtractCount, doc.UploadedAt.UTC()).
		Suffix("ON CONFLICT (content_hash) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	inserted := false
	err = r.retry.run(ctx, "save upload", func() error {
		var id string
		err := r.db.QueryRowContext(ctx, query, args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			inserted = false
			return nil
		}
		inserted = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("save upload %s: %w", doc.Filename, err)
	}
	return inserted, nil
}

// ConfigValues returns all runtime configuration overrides.
func (r *PostgresRepository) ConfigValues(ctx context.Context) (map[string]string, error) {
	query, args, err := psql.Select("key", "value").From("config").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return values, nil
}

// SetConfig stores one runtime configuration override.
func (r *PostgresRepository) SetConfig(ctx context.Context, key, value string) error {
	query, args, err := psql.Insert("config").
		Columns("key", "value", "updated_at").
		Values(key, value, r.now().UTC()).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	err = r.retry.run(ctx, "set config", func() error {
		_, err := r.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

func (r *PostgresRepository) selectItems(ctx context.Context, builder sq.SelectBuilder) ([]domain.Item, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

func scanItem(rows *sql.Rows) (domain.Item, error) {
	var (
		item                   domain.Item
		sourceURL, hash        sql.NullString
		summary                sql.NullString
		score                  sql.NullFloat64
		published              sql.NullTime
		tablesJSON, topicsJSON []byte
		status                 string
	)
	err := rows.Scan(
		&item.ID, &sourceURL, &hash, &item.SourceName, &item.Title, &item.RawText, &item.NormalizedText,
		&tablesJSON, &published, &item.IngestedAt, &topicsJSON, &score, &summary, &status,
	)
	if err != nil {
		return domain.Item{}, fmt.Errorf("scan item: %w", err)
	}

	item.SourceURL = sourceURL.String
	item.ContentHash = hash.String
	if published.Valid {
		t := published.Time.UTC()
		item.PublishedAt = &t
	}
	item.IngestedAt = item.IngestedAt.UTC()
	if score.Valid {
		item.Relevance = &domain.Relevance{Score: score.Float64, Summary: summary.String}
	}

	if len(tablesJSON) > 0 {
		if err := json.Unmarshal(tablesJSON, &item.Tables); err != nil {
			return domain.Item{}, fmt.Errorf("decode tables of %s: %w", item.ID, err)
		}
	}
	var topics []string
	if len(topicsJSON) > 0 {
		if err := json.Unmarshal(topicsJSON, &topics); err != nil {
			return domain.Item{}, fmt.Errorf("decode topics of %s: %w", item.ID, err)
		}
	}
	item.Topics = domain.NewTopicSet(topics...)

	if item.IndexStatus, err = domain.ParseIndexStatus(status); err != nil {
		return domain.Item{}, fmt.Errorf("item %s: %w", item.ID, err)
	}
	return item, nil
}

func topicsOrEmpty(s domain.TopicSet) []string {
	if v := s.Values(); len(v) > 0 {
		return v
	}
	return []string{}
}

func tablesOrEmpty(t []domain.TableExtract) []domain.TableExtract {
	if t == nil {
		return []domain.TableExtract{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// escapeLike neutralizes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
