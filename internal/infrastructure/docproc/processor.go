// Package docproc converts raw payloads (plain text, HTML, spreadsheets, word-processor
// documents and PDFs) into normalized text plus structured table extracts.
//
// Parsing failures surface as domain.ErrCorruptDocument and unknown formats as
// domain.ErrUnsupportedFormat; callers decide whether to drop the document.
package docproc

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
	"KnowledgeScanner/internal/textutil"
)

var extensions = map[string]domain.Format{
	".txt":  domain.FormatText,
	".md":   domain.FormatText,
	".html": domain.FormatHTML,
	".htm":  domain.FormatHTML,
	".xlsx": domain.FormatSpreadsheet,
	".xlsm": domain.FormatSpreadsheet,
	".docx": domain.FormatWord,
	".pdf":  domain.FormatPDF,
}

// DetectFormat maps a filename extension to a format.
func DetectFormat(filename string) (domain.Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, ext)
}

// Processor dispatches raw bytes to the matching extractor.
type Processor struct {
	previewRows int
}

var _ ports.DocumentProcessor = (*Processor)(nil)

// NewProcessor returns a processor that renders the first 10 spreadsheet rows into text.
func NewProcessor() *Processor {
	return &Processor{previewRows: 10}
}

// Detect implements ports.DocumentProcessor via DetectFormat.
func (p *Processor) Detect(filename string) (domain.Format, error) {
	return DetectFormat(filename)
}

// Process extracts text and tables from raw according to format.
func (p *Processor) Process(raw []byte, format domain.Format) (domain.Document, error) {
	var (
		doc domain.Document
		err error
	)

	switch format {
	case domain.FormatText:
		doc = domain.Document{Text: textutil.CollapseWhitespace(string(raw))}
	case domain.FormatHTML:
		doc, err = processHTML(raw)
	case domain.FormatSpreadsheet:
		doc, err = processSpreadsheet(raw, p.previewRows)
	case domain.FormatWord:
		doc, err = processWord(raw)
	case domain.FormatPDF:
		doc, err = processPDF(raw)
	default:
		return domain.Document{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return domain.Document{}, err
	}

	if doc.Meta == nil {
		doc.Meta = map[string]string{}
	}
	doc.Meta["format"] = string(format)
	doc.Meta["table_count"] = strconv.Itoa(len(doc.Tables))
	return doc, nil
}

func corrupt(format domain.Format, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrCorruptDocument, format, err)
}

// newTable splits off a header row when one is detectable.
func newTable(name string, rows [][]string) domain.TableExtract {
	if hasHeader(rows) {
		return domain.TableExtract{Name: name, Header: rows[0], Rows: rows[1:]}
	}
	return domain.TableExtract{Name: name, Rows: rows}
}

// hasHeader: first row non-empty, non-numeric and distinct, followed by data.
func hasHeader(rows [][]string) bool {
	if len(rows) < 2 || len(rows[0]) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(rows[0]))
	for _, cell := range rows[0] {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			return false
		}
		if _, err := strconv.ParseFloat(cell, 64); err == nil {
			return false
		}
		key := strings.ToLower(cell)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}
