// Package input reads URL lists from uploaded spreadsheets. The first row
// holds column headers; each following row yields one capture.URLPair.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/pagecapture/internal/capture"
)

var (
	// ErrMissingColumn is returned when a configured header is absent.
	ErrMissingColumn = errors.New("missing required column")
	// ErrUnsupportedFormat is returned for file types other than xlsx and csv.
	ErrUnsupportedFormat = errors.New("unsupported input format")
	// ErrEmptyWorkbook is returned when the file has no header row.
	ErrEmptyWorkbook = errors.New("input has no header row")
)

// Column maps a header cell to the locale its URLs belong to.
type Column struct {
	Locale string `mapstructure:"locale"`
	Header string `mapstructure:"header"`
}

// DefaultColumns reads EN_URL and ES_URL.
func DefaultColumns() []Column {
	return []Column{
		{Locale: "EN", Header: "EN_URL"},
		{Locale: "ES", Header: "ES_URL"},
	}
}

// Parser extracts URL pairs using a fixed column mapping.
type Parser struct {
	Columns []Column
}

// NewParser returns a Parser for columns, or the defaults when empty.
func NewParser(columns []Column) *Parser {
	if len(columns) == 0 {
		columns = DefaultColumns()
	}
	return &Parser{Columns: columns}
}

// Locales returns the configured locales in column order.
func (p *Parser) Locales() []string {
	out := make([]string, 0, len(p.Columns))
	for _, c := range p.Columns {
		out = append(out, c.Locale)
	}
	return out
}

// Parse reads r, picking the format from name's extension.
func (p *Parser) Parse(name string, r io.Reader) ([]capture.URLPair, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(r)
	case ".csv":
		rows, err = readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	if err != nil {
		return nil, err
	}
	return p.pairs(rows)
}

func (p *Parser) pairs(rows [][]string) ([]capture.URLPair, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyWorkbook
	}
	index := make(map[string]int, len(rows[0]))
	for i, cell := range rows[0] {
		header := strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff"))
		if _, dup := index[header]; !dup {
			index[header] = i
		}
	}
	positions := make([]int, len(p.Columns))
	for i, col := range p.Columns {
		pos, ok := index[col.Header]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col.Header)
		}
		positions[i] = pos
	}

	pairs := make([]capture.URLPair, 0, len(rows)-1)
	for _, row := range rows[1:] {
		pair := capture.URLPair{URLs: make([]capture.LocaleURL, len(p.Columns))}
		blank := true
		for i, col := range p.Columns {
			var cell string
			if positions[i] < len(row) {
				cell = strings.TrimSpace(row[positions[i]])
			}
			if cell != "" {
				blank = false
			}
			pair.URLs[i] = capture.LocaleURL{Locale: col.Locale, URL: cell}
		}
		if blank {
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func readWorkbook(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}
