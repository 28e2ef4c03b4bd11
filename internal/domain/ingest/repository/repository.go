// Package repository persists transactions and import jobs. Row-level
// duplicate detection rides on the dedupe-key uniqueness constraint; other
// per-row failures are isolated with savepoints so they never poison the
// file's transaction.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RowStore is the transaction-scoped store handed to the per-row import
// loop and to the categorization engine's mutations.
type RowStore interface {
	InsertTransaction(ctx context.Context, t *Transaction) (RowOutcome, error)
	SetTransactionCategory(ctx context.Context, id uuid.UUID, categoryID uuid.UUID) error
	AddTransactionTags(ctx context.Context, id uuid.UUID, tagIDs []int64) (int, error)
	IncrementRuleApplied(ctx context.Context, ruleID int64) error
}

// Repository is the pgx-backed import store.
type Repository struct {
	db DB
}

// New creates a repository over a pgx pool.
func New(db DB) *Repository {
	return &Repository{db: db}
}

// FindJobByFileHash returns the prior job that imported the exact same file
// bytes, or nil when the hash is new. Failed jobs are skipped so re-dropping
// the file retries the import instead of short-circuiting as a duplicate.
func (r *Repository) FindJobByFileHash(ctx context.Context, hash string) (*ImportJob, error) {
	query := `
		SELECT id, file_name, source, file_hash, status,
		       rows_total, rows_inserted, rows_duplicates, rows_failed,
		       error_text, started_at, finished_at
		FROM import_jobs
		WHERE file_hash = $1 AND status <> 'failed'
		ORDER BY started_at ASC
		LIMIT 1
	`

	var job ImportJob
	err := r.db.QueryRow(ctx, query, hash).Scan(
		&job.ID,
		&job.FileName,
		&job.Source,
		&job.FileHash,
		&job.Status,
		&job.Counts.Total,
		&job.Counts.Inserted,
		&job.Counts.Duplicates,
		&job.Counts.Failed,
		&job.ErrorText,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up file hash: %w", err)
	}
	return &job, nil
}

// CreateJob inserts a running import job.
func (r *Repository) CreateJob(ctx context.Context, job *ImportJob) error {
	query := `
		INSERT INTO import_jobs (id, file_name, source, file_hash, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	_, err := r.db.Exec(ctx, query,
		job.ID, job.FileName, job.Source, job.FileHash, job.Status, job.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

// FinishJob records the terminal status and final counters of a job.
func (r *Repository) FinishJob(ctx context.Context, id uuid.UUID, status string, counts RowCounts, errText *string) error {
	query := `
		UPDATE import_jobs
		SET status = $2,
		    rows_total = $3, rows_inserted = $4, rows_duplicates = $5, rows_failed = $6,
		    error_text = $7,
		    finished_at = now()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query,
		id, status, counts.Total, counts.Inserted, counts.Duplicates, counts.Failed, errText,
	)
	if err != nil {
		return fmt.Errorf("failed to finish import job: %w", err)
	}
	return nil
}

// RunImportTx runs fn inside one atomic transaction. All row insertions and
// their categorization for a single file go through exactly one call.
func (r *Repository) RunImportTx(ctx context.Context, fn func(store RowStore) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(NewRowStore(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit import transaction: %w", err)
	}
	return nil
}

// NewRowStore wraps an open transaction. Exposed so the bulk
// re-categorization path can reuse the same mutations inside its own
// transaction.
func NewRowStore(tx pgx.Tx) RowStore {
	return &rowStore{tx: tx}
}

type rowStore struct {
	tx pgx.Tx
}

// InsertTransaction inserts one row inside a savepoint. A dedupe-key
// conflict reports RowDuplicate; any other error rolls back only this row.
func (s *rowStore) InsertTransaction(ctx context.Context, t *Transaction) (RowOutcome, error) {
	query := `
		INSERT INTO transactions (
			id, source, account_ref, txn_date, posting_date, original_txn_date,
			merchant, description, raw_category, amount, currency, direction,
			category_id, dedupe_key, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (dedupe_key) DO NOTHING
	`

	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return RowInserted, fmt.Errorf("failed to open row savepoint: %w", err)
	}

	tag, err := sp.Exec(ctx, query,
		t.ID, t.Source, t.AccountRef,
		t.TxnDate, nullable(t.PostingDate), nullable(t.OriginalTxnDate),
		t.Merchant, t.Description, t.RawCategory,
		t.Amount, t.Currency, t.Direction,
		t.CategoryID, t.DedupeKey, t.RawPayload,
	)
	if err != nil {
		_ = sp.Rollback(ctx)
		return RowInserted, err
	}
	if err := sp.Commit(ctx); err != nil {
		return RowInserted, fmt.Errorf("failed to release row savepoint: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return RowDuplicate, nil
	}
	return RowInserted, nil
}

func (s *rowStore) SetTransactionCategory(ctx context.Context, id uuid.UUID, categoryID uuid.UUID) error {
	_, err := s.tx.Exec(ctx,
		`UPDATE transactions SET category_id = $2 WHERE id = $1`,
		id, categoryID,
	)
	if err != nil {
		return fmt.Errorf("failed to set category: %w", err)
	}
	return nil
}

// AddTransactionTags unions tag ids into the transaction's tag set and
// returns how many were actually added; re-applying is a no-op.
func (s *rowStore) AddTransactionTags(ctx context.Context, id uuid.UUID, tagIDs []int64) (int, error) {
	if len(tagIDs) == 0 {
		return 0, nil
	}
	tag, err := s.tx.Exec(ctx, `
		INSERT INTO transaction_tags (transaction_id, tag_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING
	`, id, tagIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to add tags: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *rowStore) IncrementRuleApplied(ctx context.Context, ruleID int64) error {
	_, err := s.tx.Exec(ctx,
		`UPDATE rules SET applied_count = applied_count + 1 WHERE id = $1`,
		ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment rule counter: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
