package docproc

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"KnowledgeScanner/internal/domain"
)

func processSpreadsheet(raw []byte, previewRows int) (domain.Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return domain.Document{}, corrupt(domain.FormatSpreadsheet, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	tables := make([]domain.TableExtract, 0, len(sheets))
	var text strings.Builder

	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return domain.Document{}, corrupt(domain.FormatSpreadsheet, fmt.Errorf("sheet %s: %w", sheet, err))
		}
		table := newTable(sheet, dropEmptyRows(rows))
		tables = append(tables, table)
		writeSheetSummary(&text, table, previewRows)
	}

	return domain.Document{
		Text:   strings.TrimSpace(text.String()),
		Tables: tables,
		Meta: map[string]string{
			"sheet_count": strconv.Itoa(len(sheets)),
			"sheet_names": strings.Join(sheets, ","),
		},
	}, nil
}

func dropEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func writeSheetSummary(b *strings.Builder, table domain.TableExtract, previewRows int) {
	fmt.Fprintf(b, "Sheet: %s\n", table.Name)
	if len(table.Header) > 0 {
		fmt.Fprintf(b, "Columns: %s\n", strings.Join(table.Header, ", "))
	}
	fmt.Fprintf(b, "Rows: %d\n", table.RowCount())

	for i, row := range table.Rows {
		if i >= previewRows {
			fmt.Fprintf(b, "... and %d more rows\n", table.RowCount()-previewRows)
			break
		}
		b.WriteString(renderRow(table.Header, row))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

func renderRow(header, row []string) string {
	cells := make([]string, 0, len(row))
	for i, cell := range row {
		if i < len(header) {
			cells = append(cells, header[i]+": "+cell)
			continue
		}
		cells = append(cells, cell)
	}
	return strings.Join(cells, " | ")
}
