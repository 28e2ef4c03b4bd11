// Package money provides amount coercion for statement imports: parsing raw
// amount text into exact decimal values and resolving ISO-4217 currency codes.
package money

import (
	"fmt"
	"strings"
	"unicode"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	ILS = "ILS" // Israeli New Shekel
	USD = "USD" // US Dollar
	EUR = "EUR" // Euro
	GBP = "GBP" // British Pound
)

// currency glyphs that may decorate statement amount cells
var symbolCurrencies = []struct {
	symbol string
	code   string
}{
	{"₪", ILS}, // ₪
	{"€", EUR}, // €
	{"£", GBP}, // £
	{"$", USD},
}

// ParseAmount parses raw statement amount text into an exact decimal value.
// It strips thousands separators, currency glyphs and whitespace, and honors
// a leading minus or accounting-style parentheses. The returned currency is
// the glyph-derived hint, or "" when the cell carried none.
func ParseAmount(raw string) (decimal.Decimal, string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, "", fmt.Errorf("empty amount")
	}

	currency := ""
	for _, sc := range symbolCurrencies {
		if strings.Contains(s, sc.symbol) {
			currency = sc.code
			s = strings.ReplaceAll(s, sc.symbol, "")
			break
		}
	}

	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.Trim(s, "()")
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	}

	// Thousands separators; statement exports here use the US convention.
	s = strings.ReplaceAll(s, ",", "")

	s = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' {
			return r
		}
		return -1
	}, s)
	if s == "" {
		return decimal.Zero, currency, fmt.Errorf("no digits in amount %q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, currency, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}

	return d, currency, nil
}

// Round normalizes an amount to two decimal places using standard
// (half away from zero) rounding.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// NormalizeCurrency validates a currency code or symbol and returns the
// ISO-4217 code, falling back to the given default.
func NormalizeCurrency(raw, fallback string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return fallback
	}
	for _, sc := range symbolCurrencies {
		if s == sc.symbol {
			return sc.code
		}
	}
	code := strings.ToUpper(s)
	if gomoney.GetCurrency(code) != nil {
		return code
	}
	return fallback
}
