// Package spreadsheet reads tabular uploads (XLSX or CSV) into header/row
// form and resolves logical columns against free-form headers.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for extensions other than .xlsx and .csv.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format, expected .xlsx or .csv")

// ErrEmptySheet is returned when the file has no header row.
var ErrEmptySheet = errors.New("spreadsheet has no header row")

// Row is one data row. Number is the 1-based sheet row, so the first data row is 2.
type Row struct {
	Number int
	Cells  []string
}

// Table is a header row plus data rows, every row padded to the header width.
type Table struct {
	Headers []string
	Rows    []Row
}

// Cell returns the trimmed value at idx, or "" when the row is short.
func (r Row) Cell(idx int) string {
	if idx < 0 || idx >= len(r.Cells) {
		return ""
	}
	return strings.TrimSpace(r.Cells[idx])
}

// Read parses the first sheet of an .xlsx file or a .csv file. The format is chosen by filename extension.
func Read(filename string, r io.Reader) (*Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return readXLSX(r)
	case ".csv":
		return readCSV(r)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func readXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return buildTable(records)
}

func readCSV(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.Comma = detectDelimiter(raw)

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return buildTable(records)
}

// detectDelimiter picks ';' when the header line has more semicolons than commas (Excel in es-* locales).
func detectDelimiter(raw []byte) rune {
	header := raw
	if idx := bytes.IndexByte(raw, '\n'); idx >= 0 {
		header = raw[:idx]
	}
	if bytes.Count(header, []byte(";")) > bytes.Count(header, []byte(",")) {
		return ';'
	}
	return ','
}

func buildTable(records [][]string) (*Table, error) {
	headerIdx := -1
	for i, rec := range records {
		if !blank(rec) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrEmptySheet
	}

	headers := make([]string, len(records[headerIdx]))
	for i, h := range records[headerIdx] {
		headers[i] = strings.TrimSpace(h)
	}

	table := &Table{Headers: headers}
	for i := headerIdx + 1; i < len(records); i++ {
		rec := records[i]
		if blank(rec) {
			continue
		}
		cells := make([]string, len(headers))
		copy(cells, rec)
		table.Rows = append(table.Rows, Row{Number: i + 1, Cells: cells})
	}
	return table, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
