package parser

import (
	"regexp"
	"strings"

	"github.com/shaybc/finance-tracker/internal/domain/ingest/sniffer"
)

// IsracardParser parses the sectioned credit-card statement layout: one sheet
// per card, free-text banner rows carrying the card's last digits and the
// statement charge date, and a header block repeated per statement section.
type IsracardParser struct{}

var isracardAliases = AliasTable{
	FieldDate:           {"תאריך רכישה", "תאריך העסקה", "purchase date"},
	FieldMerchant:       {"שם בית עסק", "בית עסק", "merchant"},
	FieldAmount:         {"סכום חיוב", "סכום חיוב בשח", "charge amount"},
	FieldOriginalAmount: {"סכום עסקה מקורי", "סכום מקורי"},
	FieldCurrency:       {"מטבע מקור", "מטבע"},
	FieldType:           {"סוג עסקה", "transaction type"},
	FieldCategory:       {"ענף", "category"},
}

var (
	isracardCardRe   = regexp.MustCompile(`(?:המסתיים בספרות|מסתיים בספרות|כרטיס)\s*:?\s*(\d{4})`)
	isracardChargeRe = regexp.MustCompile(`מועד חיוב\s*:?\s*(\d[\d./-]{5,9})`)
)

// isracardSection is the accumulator threaded through the row fold: the
// active header block plus the banner state that applies to rows under it.
type isracardSection struct {
	header     HeaderMap
	cardRef    string
	chargeDate string // ISO statement charge date for the current section
}

func (IsracardParser) Source() sniffer.Source { return sniffer.SourceCardIsracard }

func (IsracardParser) Parse(wb Workbook) (*Result, error) {
	res := &Result{}
	for _, sheet := range wb.Sheets() {
		rows, err := wb.Rows(sheet)
		if err != nil {
			return nil, err
		}
		sec := isracardSection{}
		for i, row := range rows {
			sec = foldIsracardRow(res, sec, row, i)
		}
	}
	return res, nil
}

// foldIsracardRow advances the section state by one row, appending a record
// when the row is tabular data under the active header block.
func foldIsracardRow(res *Result, sec isracardSection, row []string, i int) isracardSection {
	if isBlankRow(row) {
		// Section ended; banner state carries over to the next block.
		sec.header = nil
		return sec
	}

	// A repeated header block re-derives the map mid-sheet.
	if cand := BuildHeaderMap(row, isracardAliases); cand.HasAll(FieldDate, FieldMerchant, FieldAmount) {
		sec.header = cand
		return sec
	}

	if sec.header == nil {
		// Banner territory: card references and the statement charge date
		// live in free text, independent of the tabular data.
		joined := strings.Join(row, " ")
		if m := isracardCardRe.FindStringSubmatch(joined); m != nil {
			sec.cardRef = m[1]
		}
		if m := isracardChargeRe.FindStringSubmatch(joined); m != nil {
			if d, ok := ResolveDate(m[1]); ok {
				sec.chargeDate = d
			}
		}
		return sec
	}

	res.RowsTotal++
	rec := Record{
		Row:               i + 1,
		Raw:               cloneRow(row),
		AccountRef:        sec.cardRef,
		ChargeDate:        sec.chargeDate,
		RawDate:           sec.header.Cell(row, FieldDate),
		RawAmount:         sec.header.Cell(row, FieldAmount),
		RawOriginalAmount: sec.header.Cell(row, FieldOriginalAmount),
		RawType:           sec.header.Cell(row, FieldType),
		RawCategory:       sec.header.Cell(row, FieldCategory),
		RawCurrency:       sec.header.Cell(row, FieldCurrency),
		Merchant:          sec.header.Cell(row, FieldMerchant),
	}
	rec.Date, _ = ResolveDate(rec.RawDate)

	if inst := ParseInstallment(rec.RawType); inst != nil {
		rec.Installment = inst
		// Installments are billed on the statement charge date; keep the
		// per-row purchase date for audit.
		if sec.chargeDate != "" && rec.Date != sec.chargeDate {
			rec.OriginalDate = rec.Date
			rec.Date = sec.chargeDate
		}
	}

	res.Records = append(res.Records, rec)
	return sec
}
