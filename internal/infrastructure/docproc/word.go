package docproc

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/textutil"
)

const wordBody = "word/document.xml"

// wordState walks document.xml; only the outermost table level produces extracts.
type wordState struct {
	paragraphs []string
	tables     [][][]string

	para     strings.Builder
	tblDepth int
	rows     [][]string
	row      []string
	cell     strings.Builder
	inText   bool
}

func processWord(raw []byte) (domain.Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.Document{}, corrupt(domain.FormatWord, err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == wordBody {
			body = f
			break
		}
	}
	if body == nil {
		return domain.Document{}, corrupt(domain.FormatWord, errors.New("missing "+wordBody))
	}

	rc, err := body.Open()
	if err != nil {
		return domain.Document{}, corrupt(domain.FormatWord, err)
	}
	defer rc.Close()

	st, err := walkWordXML(rc)
	if err != nil {
		return domain.Document{}, corrupt(domain.FormatWord, err)
	}

	tables := make([]domain.TableExtract, 0, len(st.tables))
	for i, rows := range st.tables {
		tables = append(tables, newTable("table_"+strconv.Itoa(i+1), rows))
	}

	var text strings.Builder
	text.WriteString(strings.Join(st.paragraphs, "\n\n"))
	if len(tables) > 0 {
		text.WriteString("\n\nTables:\n")
		for _, t := range tables {
			fmt.Fprintf(&text, "%s (%d rows)\n", t.Name, t.RowCount())
			if len(t.Header) > 0 {
				text.WriteString(strings.Join(t.Header, " | "))
				text.WriteByte('\n')
			}
			for _, row := range t.Rows {
				text.WriteString(strings.Join(row, " | "))
				text.WriteByte('\n')
			}
		}
	}

	return domain.Document{
		Text:   strings.TrimSpace(text.String()),
		Tables: tables,
		Meta:   map[string]string{"paragraph_count": strconv.Itoa(len(st.paragraphs))},
	}, nil
}

func walkWordXML(r io.Reader) (*wordState, error) {
	dec := xml.NewDecoder(r)
	st := &wordState{}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				st.tblDepth++
				if st.tblDepth == 1 {
					st.rows = nil
				}
			case "tr":
				if st.tblDepth == 1 {
					st.row = nil
				}
			case "tc":
				if st.tblDepth == 1 {
					st.cell.Reset()
				}
			case "t":
				st.inText = true
			case "tab", "br", "cr":
				st.write(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				st.inText = false
			case "p":
				st.endParagraph()
			case "tc":
				if st.tblDepth == 1 {
					st.row = append(st.row, textutil.CollapseWhitespace(st.cell.String()))
				}
			case "tr":
				if st.tblDepth == 1 && len(st.row) > 0 {
					st.rows = append(st.rows, st.row)
				}
			case "tbl":
				if st.tblDepth == 1 && len(st.rows) > 0 {
					st.tables = append(st.tables, st.rows)
				}
				if st.tblDepth > 0 {
					st.tblDepth--
				}
			}
		case xml.CharData:
			if st.inText {
				st.write(string(t))
			}
		}
	}
}

func (st *wordState) write(s string) {
	if st.tblDepth > 0 {
		st.cell.WriteString(s)
		return
	}
	st.para.WriteString(s)
}

func (st *wordState) endParagraph() {
	if st.tblDepth > 0 {
		st.cell.WriteByte(' ')
		return
	}
	if p := textutil.CollapseWhitespace(st.para.String()); p != "" {
		st.paragraphs = append(st.paragraphs, p)
	}
	st.para.Reset()
}
