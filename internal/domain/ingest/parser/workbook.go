package parser

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Workbook is the row-level view of a spreadsheet that the sniffer and the
// format parsers consume.
type Workbook interface {
	Sheets() []string
	Rows(sheet string) ([][]string, error)
}

// XLSXWorkbook adapts an excelize file to the Workbook interface.
type XLSXWorkbook struct {
	f   *excelize.File
	raw bool
}

// WorkbookOption configures how cells are read.
type WorkbookOption func(*XLSXWorkbook)

// WithRawCells disables cell formatting, so date-typed cells come back as
// serial day numbers instead of locale-formatted text.
func WithRawCells() WorkbookOption {
	return func(w *XLSXWorkbook) { w.raw = true }
}

// OpenWorkbook opens a workbook from a reader.
func OpenWorkbook(r io.Reader, opts ...WorkbookOption) (*XLSXWorkbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	w := &XLSXWorkbook{f: f}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Sheets returns the sheet names in workbook order.
func (w *XLSXWorkbook) Sheets() []string {
	return w.f.GetSheetList()
}

// Rows returns all rows of a sheet as raw cell values.
func (w *XLSXWorkbook) Rows(sheet string) ([][]string, error) {
	rows, err := w.f.GetRows(sheet, excelize.Options{RawCellValue: w.raw})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

// Close releases the underlying file.
func (w *XLSXWorkbook) Close() error {
	return w.f.Close()
}

// MemWorkbook is an in-memory Workbook used by tests.
type MemWorkbook struct {
	order  []string
	sheets map[string][][]string
}

// NewMemWorkbook creates an empty in-memory workbook.
func NewMemWorkbook() *MemWorkbook {
	return &MemWorkbook{sheets: make(map[string][][]string)}
}

// AddSheet appends a sheet and returns the workbook for chaining.
func (m *MemWorkbook) AddSheet(name string, rows [][]string) *MemWorkbook {
	if _, ok := m.sheets[name]; !ok {
		m.order = append(m.order, name)
	}
	m.sheets[name] = rows
	return m
}

func (m *MemWorkbook) Sheets() []string {
	return m.order
}

func (m *MemWorkbook) Rows(sheet string) ([][]string, error) {
	rows, ok := m.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("no such sheet: %s", sheet)
	}
	return rows, nil
}
