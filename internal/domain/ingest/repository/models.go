package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction directions. The sign of Amount and the direction always agree:
// expenses are stored negative, income positive.
const (
	DirectionExpense = "expense"
	DirectionIncome  = "income"
)

// Import job statuses.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Transaction is the canonical normalized transaction row.
type Transaction struct {
	ID              uuid.UUID
	Source          string
	AccountRef      string
	TxnDate         string // ISO yyyy-mm-dd
	PostingDate     string // "" when the source carries none
	OriginalTxnDate string // pre-rewrite date kept for audit, "" when unused
	Merchant        string
	Description     string
	RawCategory     string
	Amount          decimal.Decimal // signed, two decimal places
	Currency        string
	Direction       string
	CategoryID      *uuid.UUID
	TagIDs          []int64
	DedupeKey       string
	RawPayload      []byte // audit blob of the parsed record
	CreatedAt       time.Time
}

// Uncategorized reports whether no category has been assigned yet.
func (t *Transaction) Uncategorized() bool {
	return t.CategoryID == nil
}

// RowCounts are the per-file outcome counters kept on an import job.
type RowCounts struct {
	Total      int
	Inserted   int
	Duplicates int
	Failed     int
}

// ImportJob records one file import attempt.
type ImportJob struct {
	ID         uuid.UUID
	FileName   string
	Source     string
	FileHash   string
	Status     string
	Counts     RowCounts
	ErrorText  *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RowOutcome is the tagged result of inserting one transaction row.
type RowOutcome int

const (
	RowInserted RowOutcome = iota
	RowDuplicate
)
