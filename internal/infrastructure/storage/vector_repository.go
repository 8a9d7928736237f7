package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
)

// VectorRepository persists index records in a pgvector column.
type VectorRepository struct {
	db    *sql.DB
	retry retryPolicy
	now   func() time.Time
}

var _ ports.VectorPersistence = (*VectorRepository)(nil)

// NewVectorRepository wires a sql.DB.
func NewVectorRepository(db *sql.DB, contentionRetries int) *VectorRepository {
	return &VectorRepository{db: db, retry: defaultRetryPolicy(contentionRetries), now: time.Now}
}

// SaveVector replaces the stored record of rec.ItemID.
func (r *VectorRepository) SaveVector(ctx context.Context, rec domain.VectorRecord) error {
	topics, err := json.Marshal(topicsOrEmpty(rec.Metadata.Topics))
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	query, args, err := psql.Insert("item_embeddings").
		Columns("item_id", "embedding", "source_name", "published_at", "ingested_at", "topics", "updated_at").
		Values(rec.ItemID, pgvector.NewVector(rec.Embedding), rec.Metadata.SourceName,
			nullTime(rec.Metadata.PublishedAt), rec.Metadata.IngestedAt.UTC(), string(topics), r.now().UTC()).
		Suffix(`ON CONFLICT (item_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			source_name = EXCLUDED.source_name,
			published_at = EXCLUDED.published_at,
			ingested_at = EXCLUDED.ingested_at,
			topics = EXCLUDED.topics,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	err = r.retry.run(ctx, "save vector", func() error {
		_, err := r.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("save vector %s: %w", rec.ItemID, err)
	}
	return nil
}

// LoadVectors reads every stored record.
func (r *VectorRepository) LoadVectors(ctx context.Context) ([]domain.VectorRecord, error) {
	query, args, err := psql.Select("item_id", "embedding", "source_name", "published_at", "ingested_at", "topics").
		From("item_embeddings").
		OrderBy("item_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var records []domain.VectorRecord
	for rows.Next() {
		var (
			rec        domain.VectorRecord
			vec        pgvector.Vector
			published  sql.NullTime
			topicsJSON []byte
		)
		if err := rows.Scan(&rec.ItemID, &vec, &rec.Metadata.SourceName, &published, &rec.Metadata.IngestedAt, &topicsJSON); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		rec.Embedding = vec.Slice()
		if published.Valid {
			t := published.Time.UTC()
			rec.Metadata.PublishedAt = &t
		}
		rec.Metadata.IngestedAt = rec.Metadata.IngestedAt.UTC()

		var topics []string
		if len(topicsJSON) > 0 {
			if err := json.Unmarshal(topicsJSON, &topics); err != nil {
				return nil, fmt.Errorf("decode topics of %s: %w", rec.ItemID, err)
			}
		}
		rec.Metadata.Topics = domain.NewTopicSet(topics...)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

