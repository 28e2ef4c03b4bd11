package parser

import (
	"regexp"
	"strings"

	"github.com/shaybc/finance-tracker/internal/domain/ingest/sniffer"
)

// BankParser parses the checking-account export layout: a single sheet with
// one header row, a signed amount column and an optional value-date column.
type BankParser struct{}

var bankAliases = AliasTable{
	FieldDate:        {"תאריך", "תאריך פעולה", "date", "transaction date"},
	FieldChargeDate:  {"תאריך ערך", "value date"},
	FieldDescription: {"תיאור הפעולה", "תיאור פעולה", "פרטים", "description", "transaction description"},
	FieldAmount:      {"סכום", "סכום בשח", "amount"},
	FieldReference:   {"אסמכתא", "reference"},
}

// Account numbers appear in free-text banner rows above the table.
var bankAccountRe = regexp.MustCompile(`(?i)(?:חשבון|account)\s*:?\s*(\d[\d-]{4,})`)

// headerScanLimit bounds the search for a header row at the top of a sheet.
const headerScanLimit = 50

func (BankParser) Source() sniffer.Source { return sniffer.SourceBank }

// Parse extracts rows from the first sheet. A sheet without a recognizable
// header yields zero records and no error.
func (BankParser) Parse(wb Workbook) (*Result, error) {
	res := &Result{}
	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return res, nil
	}
	rows, err := wb.Rows(sheets[0])
	if err != nil {
		return nil, err
	}

	accountRef := ""
	var hm HeaderMap
	for i, row := range rows {
		if hm == nil {
			if i >= headerScanLimit {
				break
			}
			joined := strings.Join(row, " ")
			if accountRef == "" {
				if m := bankAccountRe.FindStringSubmatch(joined); m != nil {
					accountRef = m[1]
				}
			}
			if cand := BuildHeaderMap(row, bankAliases); cand.HasAll(FieldDate, FieldDescription, FieldAmount) {
				hm = cand
			}
			continue
		}

		if isBlankRow(row) {
			break
		}

		res.RowsTotal++
		rec := Record{
			Row:        i + 1,
			Raw:        cloneRow(row),
			AccountRef: accountRef,
			RawDate:    hm.Cell(row, FieldDate),
			RawAmount:  hm.Cell(row, FieldAmount),
		}
		rec.Date, _ = ResolveDate(rec.RawDate)
		rec.ChargeDate, _ = ResolveDate(hm.Cell(row, FieldChargeDate))
		rec.Description = hm.Cell(row, FieldDescription)
		res.Records = append(res.Records, rec)
	}

	return res, nil
}
