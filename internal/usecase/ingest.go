package usecase

import (
	"context"
	"fmt"
	"path/filepath"

	"KnowledgeScanner/internal/domain"
)

// UploadSource is the source name recorded for user uploads.
const UploadSource = "upload"

// IngestResult describes the outcome of one upload.
type IngestResult struct {
	Item      domain.Item
	Duplicate bool
	Indexed   bool
}

// IngestDocument processes an uploaded file, stores it under its content hash and indexes
// it immediately. Uploads are user-curated and skip relevance gating. Content that is
// already stored yields the stored item with Duplicate set.
func (p *Pipeline) IngestDocument(ctx context.Context, filename string, data []byte) (IngestResult, error) {
	filename = filepath.Base(filename)
	format, err := p.processor.Detect(filename)
	if err != nil {
		return IngestResult{}, err
	}
	doc, err := p.processor.Process(data, format)
	if err != nil {
		return IngestResult{}, fmt.Errorf("process %s: %w", filename, err)
	}

	now := p.now().UTC()
	hash := domain.ContentHash(data)

	if _, err := p.repository.SaveUploadedDocument(ctx, domain.UploadedDocument{
		ID:                domain.NewItemID(),
		Filename:          filename,
		ContentHash:       hash,
		Format:            format,
		ExtractedText:     doc.Text,
		TableExtractCount: len(doc.Tables),
		UploadedAt:        now,
	}); err != nil {
		return IngestResult{}, fmt.Errorf("record upload: %w", err)
	}

	item := domain.Item{
		ID:             domain.NewItemID(),
		ContentHash:    hash,
		SourceName:     UploadSource,
		Title:          filename,
		RawText:        doc.Text,
		RawFormat:      format,
		NormalizedText: doc.Text,
		Tables:         doc.Tables,
		IngestedAt:     now,
		IndexStatus:    domain.IndexNotIndexed,
	}
	if title := doc.Meta["title"]; title != "" {
		item.Title = title
	}

	inserted, err := p.repository.UpsertIfAbsent(ctx, item)
	if err != nil {
		return IngestResult{}, fmt.Errorf("store upload: %w", err)
	}
	if !inserted {
		stored, err := p.repository.GetByKey(ctx, item.Key())
		if err != nil {
			return IngestResult{}, fmt.Errorf("load stored upload: %w", err)
		}
		p.logger.Info("upload already stored", "file", filename, "hash", hash, "item", stored.ID)
		return IngestResult{Item: stored, Duplicate: true, Indexed: stored.IndexStatus == domain.IndexIndexed}, nil
	}

	report := p.indexer.IndexItems(ctx, []domain.Item{item})
	result := IngestResult{Item: item, Indexed: report.Indexed == 1}
	switch {
	case result.Indexed:
		result.Item.IndexStatus = domain.IndexIndexed
	case report.Failed > 0:
		result.Item.IndexStatus = domain.IndexFailed
		fallthrough
	default:
		p.logger.Warn("upload stored but not indexed", "file", filename, "failures", len(report.Failures))
	}
	p.logger.Info("upload ingested", "file", filename, "format", format, "tables", len(doc.Tables), "indexed", result.Indexed)
	return result, nil
}
