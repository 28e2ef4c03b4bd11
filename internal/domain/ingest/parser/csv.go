package parser

import (
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// bankCSVRow is the CSV variant of the checking-account export. gocsv
// matches by header name, so both Hebrew and English title variants carry
// their own tagged field.
type bankCSVRow struct {
	Date          string `csv:"תאריך"`
	DateEn        string `csv:"date"`
	ValueDate     string `csv:"תאריך ערך"`
	ValueDateEn   string `csv:"value date"`
	Description   string `csv:"תיאור הפעולה"`
	DescriptionEn string `csv:"description"`
	Amount        string `csv:"סכום"`
	AmountEn      string `csv:"amount"`
	Reference     string `csv:"אסמכתא"`
}

// IsBankCSV reports whether the first line of the data looks like the bank
// export's header row.
func IsBankCSV(data []byte) bool {
	line, _, _ := strings.Cut(string(stripBOM(data)), "\n")
	n := NormalizeHeader(line)
	hasDate := strings.Contains(n, NormalizeHeader("תאריך")) || strings.Contains(n, "date")
	hasDesc := strings.Contains(n, NormalizeHeader("תיאור הפעולה")) || strings.Contains(n, "description")
	hasAmount := strings.Contains(n, NormalizeHeader("סכום")) || strings.Contains(n, "amount")
	return hasDate && hasDesc && hasAmount
}

// ParseBankCSV parses the CSV variant of the bank export into the same
// records the worksheet path produces.
func ParseBankCSV(data []byte) (*Result, error) {
	var rows []bankCSVRow
	if err := gocsv.UnmarshalBytes(stripBOM(data), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	res := &Result{}
	for i, row := range rows {
		rawDate := coalesce(row.Date, row.DateEn)
		desc := coalesce(row.Description, row.DescriptionEn)
		amount := coalesce(row.Amount, row.AmountEn)
		if rawDate == "" && desc == "" && amount == "" {
			continue
		}

		res.RowsTotal++
		rec := Record{
			Row:         i + 2, // 1-indexed, after the header line
			Raw:         []string{rawDate, desc, amount, row.Reference},
			RawDate:     rawDate,
			RawAmount:   amount,
			Description: desc,
		}
		rec.Date, _ = ResolveDate(rawDate)
		rec.ChargeDate, _ = ResolveDate(coalesce(row.ValueDate, row.ValueDateEn))
		res.Records = append(res.Records, rec)
	}

	return res, nil
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
