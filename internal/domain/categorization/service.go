package categorization

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaybc/finance-tracker/internal/domain/ingest/repository"
	"github.com/shaybc/finance-tracker/internal/metrics"
)

// RuleStore is what the service needs from persistence.
type RuleStore interface {
	ListActiveRules(ctx context.Context) ([]Rule, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*repository.Transaction, error)
	ListUncategorized(ctx context.Context) ([]*repository.Transaction, error)
	RunTx(ctx context.Context, fn func(store repository.RowStore) error) error
}

// Service wires the rule engine to storage.
type Service struct {
	store  RuleStore
	logger *slog.Logger
}

// NewService creates the categorization service.
func NewService(store RuleStore, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// LoadEngine snapshots the active rules into an engine. Imports load one
// engine per file so every row of a file sees the same rule set.
func (s *Service) LoadEngine(ctx context.Context) (*Engine, error) {
	rules, err := s.store.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("loaded categorization rules", "count", len(rules))

	eng := NewEngine(rules)
	eng.OnEvaluation = func(ev EvalEvent) {
		s.logger.Debug("rule evaluated",
			"rule_id", ev.RuleID,
			"rule_name", ev.RuleName,
			"transaction_id", ev.TransactionID,
			"matched", ev.Matched,
			"fired", ev.Fired,
		)
	}
	return eng, nil
}

// ApplyTx evaluates txn against eng and persists the outcome through store.
// It reports whether a rule fired. The in-memory transaction is updated to
// match what was written.
func (s *Service) ApplyTx(ctx context.Context, store repository.RowStore, txn *repository.Transaction, eng *Engine) (bool, error) {
	m := eng.Evaluate(txn)
	if m == nil {
		return false, nil
	}

	if m.CategoryID != nil {
		if err := store.SetTransactionCategory(ctx, txn.ID, *m.CategoryID); err != nil {
			return false, fmt.Errorf("rule %d: failed to set category: %w", m.Rule.ID, err)
		}
		txn.CategoryID = m.CategoryID
	}
	if len(m.TagsToAdd) > 0 {
		if _, err := store.AddTransactionTags(ctx, txn.ID, m.TagsToAdd); err != nil {
			return false, fmt.Errorf("rule %d: failed to add tags: %w", m.Rule.ID, err)
		}
		txn.TagIDs = append(txn.TagIDs, m.TagsToAdd...)
	}
	if err := store.IncrementRuleApplied(ctx, m.Rule.ID); err != nil {
		return false, fmt.Errorf("rule %d: failed to bump applied count: %w", m.Rule.ID, err)
	}

	metrics.RuleApplied()
	s.logger.Debug("rule fired",
		"rule_id", m.Rule.ID,
		"rule_name", m.Rule.Name,
		"transaction_id", txn.ID,
		"tags_added", len(m.TagsToAdd),
	)
	return true, nil
}

// ApplyToTransaction re-evaluates a single stored transaction against the
// current rules.
func (s *Service) ApplyToTransaction(ctx context.Context, id uuid.UUID) error {
	eng, err := s.LoadEngine(ctx)
	if err != nil {
		return err
	}
	txn, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	return s.store.RunTx(ctx, func(store repository.RowStore) error {
		_, err := s.ApplyTx(ctx, store, txn, eng)
		return err
	})
}

// ApplyToAllUncategorized runs the current rules over every transaction that
// has no category yet, in one transaction. It returns how many were
// categorized.
func (s *Service) ApplyToAllUncategorized(ctx context.Context) (int, error) {
	eng, err := s.LoadEngine(ctx)
	if err != nil {
		return 0, err
	}
	txns, err := s.store.ListUncategorized(ctx)
	if err != nil {
		return 0, err
	}

	var fired int
	err = s.store.RunTx(ctx, func(store repository.RowStore) error {
		for _, txn := range txns {
			ok, err := s.ApplyTx(ctx, store, txn, eng)
			if err != nil {
				return err
			}
			if ok {
				fired++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("recategorization pass finished",
		"candidates", len(txns),
		"categorized", fired,
	)
	return fired, nil
}
