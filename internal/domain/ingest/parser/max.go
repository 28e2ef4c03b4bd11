package parser

import (
	"regexp"
	"strings"

	"github.com/shaybc/finance-tracker/internal/domain/ingest/sniffer"
)

// MaxParser parses the single-table credit-card statement layout: one sheet,
// a per-row charge-date column, original amount/currency columns and a
// source-provided category column.
type MaxParser struct{}

var maxAliases = AliasTable{
	FieldDate:           {"תאריך עסקה", "transaction date"},
	FieldMerchant:       {"שם בית העסק", "merchant name"},
	FieldAmount:         {"סכום חיוב", "charge amount"},
	FieldChargeDate:     {"תאריך חיוב", "charge date"},
	FieldOriginalAmount: {"סכום עסקה מקורי", "original amount"},
	FieldCurrency:       {"מטבע עסקה מקורי", "מטבע חיוב", "currency"},
	FieldType:           {"סוג עסקה", "transaction type"},
	FieldCategory:       {"קטגוריה", "category"},
	FieldReference:      {"4 ספרות אחרונות של כרטיס האשראי", "מספר כרטיס"},
}

var maxCardRe = regexp.MustCompile(`כרטיס\s*:?\s*(\d{4})`)

var trailingDigitsRe = regexp.MustCompile(`(\d{4})\s*$`)

func (MaxParser) Source() sniffer.Source { return sniffer.SourceCardMax }

func (MaxParser) Parse(wb Workbook) (*Result, error) {
	res := &Result{}
	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return res, nil
	}
	rows, err := wb.Rows(sheets[0])
	if err != nil {
		return nil, err
	}

	bannerRef := ""
	var hm HeaderMap
	for i, row := range rows {
		if hm == nil {
			if i >= headerScanLimit {
				break
			}
			if bannerRef == "" {
				if m := maxCardRe.FindStringSubmatch(strings.Join(row, " ")); m != nil {
					bannerRef = m[1]
				}
			}
			if cand := BuildHeaderMap(row, maxAliases); cand.HasAll(FieldDate, FieldMerchant, FieldAmount) {
				hm = cand
			}
			continue
		}

		if isBlankRow(row) {
			break
		}

		res.RowsTotal++
		rec := Record{
			Row:               i + 1,
			Raw:               cloneRow(row),
			RawDate:           hm.Cell(row, FieldDate),
			RawAmount:         hm.Cell(row, FieldAmount),
			RawOriginalAmount: hm.Cell(row, FieldOriginalAmount),
			RawType:           hm.Cell(row, FieldType),
			RawCategory:       hm.Cell(row, FieldCategory),
			RawCurrency:       hm.Cell(row, FieldCurrency),
			Merchant:          hm.Cell(row, FieldMerchant),
		}
		rec.Date, _ = ResolveDate(rec.RawDate)
		rec.ChargeDate, _ = ResolveDate(hm.Cell(row, FieldChargeDate))

		rec.AccountRef = cardRefFromCell(hm.Cell(row, FieldReference))
		if rec.AccountRef == "" {
			rec.AccountRef = bannerRef
		}

		if inst := ParseInstallment(rec.RawType); inst != nil {
			rec.Installment = inst
			if rec.ChargeDate != "" && rec.Date != rec.ChargeDate {
				rec.OriginalDate = rec.Date
				rec.Date = rec.ChargeDate
			}
		}

		res.Records = append(res.Records, rec)
	}

	return res, nil
}

// cardRefFromCell extracts the trailing four digits from a card reference
// cell such as "xxxx-1234".
func cardRefFromCell(cell string) string {
	if m := trailingDigitsRe.FindStringSubmatch(cell); m != nil {
		return m[1]
	}
	return ""
}
