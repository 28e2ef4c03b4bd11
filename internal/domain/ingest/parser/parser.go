// Package parser turns raw worksheet rows from known statement layouts into
// format-specific parsed records. Header rows are located by matching a
// normalized form of the cell text against per-format alias tables, and all
// dates are coerced through the date resolver.
package parser

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/shaybc/finance-tracker/internal/domain/ingest/sniffer"
)

// Field is a canonical logical column a format parser can extract.
type Field string

const (
	FieldDate           Field = "date"
	FieldChargeDate     Field = "charge_date"
	FieldMerchant       Field = "merchant"
	FieldDescription    Field = "description"
	FieldAmount         Field = "amount"
	FieldOriginalAmount Field = "original_amount"
	FieldType           Field = "type"
	FieldCategory       Field = "category"
	FieldCurrency       Field = "currency"
	FieldReference      Field = "reference"
)

// HeaderMap maps canonical fields to column indices for one header block.
type HeaderMap map[Field]int

// AliasTable lists the accepted header titles per canonical field.
type AliasTable map[Field][]string

// Installment identifies a "payment N of M" transaction.
type Installment struct {
	Number int
	Total  int
}

// Record is a format-specific pre-normalization record. Raw holds the
// positional cells, retained downstream as the audit payload.
type Record struct {
	Date         string `json:"date"`          // ISO effective transaction date
	OriginalDate string `json:"original_date"` // row date before a charge-date rewrite
	ChargeDate   string `json:"charge_date"`   // ISO posting/charge date, "" when absent

	Merchant    string `json:"merchant"`
	Description string `json:"description"`
	AccountRef  string `json:"account_ref"`

	RawDate           string `json:"raw_date"`
	RawAmount         string `json:"raw_amount"`
	RawOriginalAmount string `json:"raw_original_amount,omitempty"`
	RawType           string `json:"raw_type,omitempty"`
	RawCategory       string `json:"raw_category,omitempty"`
	RawCurrency       string `json:"raw_currency,omitempty"`

	Installment *Installment `json:"installment,omitempty"`
	Row         int          `json:"row"`
	Raw         []string     `json:"raw"`
}

// Result is the outcome of parsing one workbook.
type Result struct {
	Records   []Record
	RowsTotal int // data rows seen, excluding banners, headers and blanks
}

// Parser extracts records for one known statement source.
type Parser interface {
	Source() sniffer.Source
	Parse(wb Workbook) (*Result, error)
}

// ForSource returns the parser for a detected source, or nil for unknown.
func ForSource(src sniffer.Source) Parser {
	switch src {
	case sniffer.SourceBank:
		return BankParser{}
	case sniffer.SourceCardIsracard:
		return IsracardParser{}
	case sniffer.SourceCardMax:
		return MaxParser{}
	default:
		return nil
	}
}

var installmentRe = regexp.MustCompile(`(?i)(?:תשלום|payment)\s*(\d+)\s*(?:מתוך|of)\s*(\d+)`)

// ParseInstallment recognizes "payment N of M" type text in Hebrew or
// English and returns nil when the text is not an installment.
func ParseInstallment(typeText string) *Installment {
	m := installmentRe.FindStringSubmatch(typeText)
	if m == nil {
		return nil
	}
	n, _ := strconv.Atoi(m[1])
	total, _ := strconv.Atoi(m[2])
	if n < 1 || total < 1 {
		return nil
	}
	return &Installment{Number: n, Total: total}
}

// NormalizeHeader strips whitespace, punctuation and symbols from header
// text and case-folds it, so alias matching survives cosmetic differences.
func NormalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// BuildHeaderMap resolves one candidate header row against an alias table.
// The first column matching an alias wins for each field.
func BuildHeaderMap(row []string, aliases AliasTable) HeaderMap {
	hm := HeaderMap{}
	for i, cell := range row {
		n := NormalizeHeader(cell)
		if n == "" {
			continue
		}
		for field, names := range aliases {
			if _, done := hm[field]; done {
				continue
			}
			for _, alias := range names {
				if n == NormalizeHeader(alias) {
					hm[field] = i
					break
				}
			}
		}
	}
	return hm
}

// HasAll reports whether every given field resolved to a column.
func (hm HeaderMap) HasAll(fields ...Field) bool {
	for _, f := range fields {
		if _, ok := hm[f]; !ok {
			return false
		}
	}
	return true
}

// Cell returns the trimmed cell value for a field, or "" when the field or
// column is absent.
func (hm HeaderMap) Cell(row []string, f Field) string {
	idx, ok := hm[f]
	if !ok || idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func cloneRow(row []string) []string {
	return slices.Clone(row)
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
