package parser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/infrastructure/docproc"
	"KnowledgeScanner/internal/scanner"
)

// FileScanner turns local files matched by a glob into drafts identified by content hash.
type FileScanner struct {
	logger *slog.Logger
	now    func() time.Time
}

var _ scanner.Scanner = (*FileScanner)(nil)

// NewFileScanner builds a file scanner.
func NewFileScanner(log *slog.Logger) *FileScanner {
	return &FileScanner{logger: log, now: time.Now}
}

// Kind identifies the strategy inside the registry.
func (f *FileScanner) Kind() string {
	return scanner.KindFile
}

// Scan reads every matching file; files with unknown extensions are skipped.
func (f *FileScanner) Scan(ctx context.Context, src scanner.Source) ([]domain.Item, error) {
	matches, err := filepath.Glob(src.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", src.Endpoint, err)
	}
	sort.Strings(matches)

	ingested := f.now().UTC()
	items := make([]domain.Item, 0, len(matches))
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		format, err := docproc.DetectFormat(path)
		if err != nil {
			f.warn("skip file", "path", path, "error", err)
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		modified := info.ModTime().UTC()
		items = append(items, domain.Item{
			ContentHash: domain.ContentHash(data),
			SourceName:  src.Name,
			Title:       filepath.Base(path),
			RawFormat:   format,
			RawBytes:    data,
			PublishedAt: &modified,
			IngestedAt:  ingested,
		})
	}
	return items, nil
}

func (f *FileScanner) warn(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}
