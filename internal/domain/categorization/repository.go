package categorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaybc/finance-tracker/internal/domain/ingest/repository"
)

// Repository loads rules and transactions for the categorization engine.
type Repository struct {
	db repository.DB
}

// NewRepository creates a repository over a pgx pool.
func NewRepository(db repository.DB) *Repository {
	return &Repository{db: db}
}

// ListActiveRules returns all active rules with their tag sets, ordered by
// ascending ID.
func (r *Repository) ListActiveRules(ctx context.Context) ([]Rule, error) {
	query := `
		SELECT r.id, r.name, r.field, r.match_type, r.pattern,
		       r.source_filter, r.direction_filter, r.min_amount, r.max_amount,
		       r.category_id, r.recategorize_existing, r.active, r.applied_count,
		       COALESCE(array_agg(rt.tag_id) FILTER (WHERE rt.tag_id IS NOT NULL), '{}')
		FROM rules r
		LEFT JOIN rule_tags rt ON rt.rule_id = r.id
		WHERE r.active
		GROUP BY r.id
		ORDER BY r.id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Field, &rule.MatchType, &rule.Pattern,
			&rule.SourceFilter, &rule.DirectionFilter, &rule.MinAmount, &rule.MaxAmount,
			&rule.CategoryID, &rule.RecategorizeExisting, &rule.Active, &rule.AppliedCount,
			&rule.TagIDs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

const transactionColumns = `
	t.id, t.source, t.account_ref, t.txn_date::text,
	COALESCE(t.posting_date::text, ''), COALESCE(t.original_txn_date::text, ''),
	t.merchant, COALESCE(t.description, ''),
	COALESCE(t.raw_category, ''), t.amount, t.currency, t.direction,
	t.category_id, t.dedupe_key, t.created_at,
	COALESCE(array_agg(tt.tag_id) FILTER (WHERE tt.tag_id IS NOT NULL), '{}')`

// GetTransaction loads one transaction with its tags.
func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (*repository.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions t
		LEFT JOIN transaction_tags tt ON tt.transaction_id = t.id
		WHERE t.id = $1
		GROUP BY t.id`, transactionColumns)

	t, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s not found", id)
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return t, nil
}

// ListUncategorized returns every transaction without a category, oldest
// first so earlier imports are recategorized first.
func (r *Repository) ListUncategorized(ctx context.Context) ([]*repository.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions t
		LEFT JOIN transaction_tags tt ON tt.transaction_id = t.id
		WHERE t.category_id IS NULL
		GROUP BY t.id
		ORDER BY t.txn_date ASC, t.created_at ASC`, transactionColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncategorized transactions: %w", err)
	}
	defer rows.Close()

	var txns []*repository.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// RunTx runs fn inside one transaction, exposing the same row store the
// import path uses for its mutations.
func (r *Repository) RunTx(ctx context.Context, fn func(store repository.RowStore) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(repository.NewRowStore(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanTransaction(row pgx.Row) (*repository.Transaction, error) {
	var t repository.Transaction
	err := row.Scan(
		&t.ID, &t.Source, &t.AccountRef, &t.TxnDate, &t.PostingDate,
		&t.OriginalTxnDate, &t.Merchant, &t.Description,
		&t.RawCategory, &t.Amount, &t.Currency, &t.Direction,
		&t.CategoryID, &t.DedupeKey, &t.CreatedAt,
		&t.TagIDs,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
