package docproc

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/ledongthuc/pdf"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/textutil"
)

func processPDF(raw []byte) (doc domain.Document, err error) {
	// the reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			doc = domain.Document{}
			err = corrupt(domain.FormatPDF, fmt.Errorf("panic: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.Document{}, corrupt(domain.FormatPDF, err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return domain.Document{}, corrupt(domain.FormatPDF, err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return domain.Document{}, corrupt(domain.FormatPDF, err)
	}

	return domain.Document{
		Text: textutil.CollapseWhitespace(string(text)),
		Meta: map[string]string{"page_count": strconv.Itoa(r.NumPage())},
	}, nil
}
