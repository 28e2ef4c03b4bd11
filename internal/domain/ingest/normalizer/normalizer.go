// Package normalizer maps parsed statement records to the canonical
// transaction schema and computes the content-addressed deduplication key.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shaybc/finance-tracker/internal/domain/ingest/parser"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/repository"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/sniffer"
	"github.com/shaybc/finance-tracker/pkg/money"
)

// Refund/credit terminology in card type text flips a charge to income.
var refundRe = regexp.MustCompile(`(?i)זיכוי|החזר|refund|credit`)

// Config tunes normalization.
type Config struct {
	// DateGapDays is the txn/posting gap beyond which the posting date
	// replaces the transaction date. The 31-day default mirrors observed
	// statement behavior but is not documented by any issuer; keep it
	// configurable.
	DateGapDays     int
	DefaultCurrency string
}

// Normalizer converts parsed records into canonical transactions.
type Normalizer struct {
	cfg Config
}

// New creates a normalizer, applying defaults for zero config values.
func New(cfg Config) *Normalizer {
	if cfg.DateGapDays <= 0 {
		cfg.DateGapDays = 31
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = money.ILS
	}
	return &Normalizer{cfg: cfg}
}

// Normalize maps one parsed record to a canonical transaction.
func (n *Normalizer) Normalize(src sniffer.Source, rec parser.Record) (*repository.Transaction, error) {
	if rec.Date == "" {
		return nil, fmt.Errorf("row %d: unresolvable transaction date %q", rec.Row, rec.RawDate)
	}

	amount, currencyHint, err := money.ParseAmount(rec.RawAmount)
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", rec.Row, err)
	}

	signed, direction := resolveDirection(src, amount, rec.RawType)
	signed = money.Round(signed)

	txnDate := rec.Date
	postingDate := rec.ChargeDate
	originalDate := rec.OriginalDate
	if originalDate == "" && postingDate != "" && gapDays(txnDate, postingDate) > n.cfg.DateGapDays {
		// The nominal transaction-date column is sometimes a far-future
		// scheduling date; the posting date is the trustworthy one.
		originalDate = txnDate
		txnDate = postingDate
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("row %d: failed to encode audit payload: %w", rec.Row, err)
	}

	t := &repository.Transaction{
		ID:              uuid.New(),
		Source:          string(src),
		AccountRef:      rec.AccountRef,
		TxnDate:         txnDate,
		PostingDate:     postingDate,
		OriginalTxnDate: originalDate,
		Merchant:        rec.Merchant,
		Description:     rec.Description,
		RawCategory:     rec.RawCategory,
		Amount:          signed,
		Currency:        money.NormalizeCurrency(currencyHint, n.cfg.DefaultCurrency),
		Direction:       direction,
		RawPayload:      payload,
	}
	t.DedupeKey = DedupeKey(t)
	return t, nil
}

// resolveDirection applies the source family's sign convention. Bank rows
// carry a signed amount directly; card rows are charges (expense) unless the
// raw amount was negative or the type text names a refund.
func resolveDirection(src sniffer.Source, amount decimal.Decimal, rawType string) (decimal.Decimal, string) {
	if !src.IsCard() {
		if amount.IsNegative() {
			return amount, repository.DirectionExpense
		}
		return amount, repository.DirectionIncome
	}

	abs := amount.Abs()
	if amount.IsNegative() || refundRe.MatchString(rawType) {
		return abs, repository.DirectionIncome
	}
	return abs.Neg(), repository.DirectionExpense
}

// DedupeKey hashes the canonical identity tuple. Two imports of the same
// logical transaction hash identically regardless of file or row position.
func DedupeKey(t *repository.Transaction) string {
	h := sha256.New()
	for _, part := range []string{
		t.Source,
		t.AccountRef,
		t.TxnDate,
		t.PostingDate,
		t.Merchant,
		t.Description,
		t.Amount.StringFixed(2),
		t.Currency,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func gapDays(a, b string) int {
	ta, errA := time.Parse(parser.ISODate, a)
	tb, errB := time.Parse(parser.ISODate, b)
	if errA != nil || errB != nil {
		return 0
	}
	days := int(tb.Sub(ta).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
