package domain

import "time"

// TableExtract is one structured table pulled out of a document.
type TableExtract struct {
	Name   string
	Header []string
	Rows   [][]string
}

// RowCount excludes the header row.
func (t TableExtract) RowCount() int {
	return len(t.Rows)
}

// Document is the processor output for a raw payload.
type Document struct {
	Text   string
	Tables []TableExtract
	Meta   map[string]string
}

// UploadedDocument records a user-supplied file.
type UploadedDocument struct {
	ID                string
	Filename          string
	ContentHash       string
	Format            Format
	ExtractedText     string
	TableExtractCount int
	UploadedAt        time.Time
}
