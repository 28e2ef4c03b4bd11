package categorization

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/shaybc/finance-tracker/internal/domain/ingest/repository"
)

var foldCaser = cases.Fold()

// Match is the outcome of evaluating a transaction against the rule list.
type Match struct {
	Rule       *Rule
	CategoryID *uuid.UUID
	TagsToAdd  []int64
}

// EvalEvent describes the outcome of evaluating one rule against one
// transaction. Matched means the rule's predicate held; Fired means applying
// it would actually change the transaction.
type EvalEvent struct {
	RuleID        int64
	RuleName      string
	TransactionID uuid.UUID
	Matched       bool
	Fired         bool
}

// Engine evaluates a fixed, ordered snapshot of active rules. The matching
// itself is a pure predicate; observability flows through the optional
// OnEvaluation hook. Safe for concurrent use once OnEvaluation is set.
type Engine struct {
	rules []Rule

	// OnEvaluation receives one event per rule evaluated.
	OnEvaluation func(EvalEvent)
}

// NewEngine builds an engine over the given rules, ordered by ascending ID.
func NewEngine(rules []Rule) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Engine{rules: sorted}
}

// Rules returns the engine's rule snapshot.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate returns the first rule whose application would actually change
// the transaction, or nil. Plain rules are tried first in ID order; rules
// allowed to recategorize are consulted only when no plain rule had effect.
func (e *Engine) Evaluate(t *repository.Transaction) *Match {
	if m := e.pass(t, false); m != nil {
		return m
	}
	return e.pass(t, true)
}

func (e *Engine) pass(t *repository.Transaction, recategorize bool) *Match {
	for i := range e.rules {
		r := &e.rules[i]
		if !r.Active || r.RecategorizeExisting != recategorize {
			continue
		}
		matched := ruleMatches(r, t)
		var m *Match
		if matched {
			m = effect(r, t)
		}
		if e.OnEvaluation != nil {
			e.OnEvaluation(EvalEvent{
				RuleID:        r.ID,
				RuleName:      r.Name,
				TransactionID: t.ID,
				Matched:       matched,
				Fired:         m != nil,
			})
		}
		if m != nil {
			return m
		}
	}
	return nil
}

// effect computes what applying r to t would change. A match with no effect
// does not fire, so re-running the engine is idempotent.
func effect(r *Rule, t *repository.Transaction) *Match {
	m := &Match{Rule: r}

	if r.CategoryID != nil {
		switch {
		case t.CategoryID == nil:
			m.CategoryID = r.CategoryID
		case r.RecategorizeExisting && *t.CategoryID != *r.CategoryID:
			m.CategoryID = r.CategoryID
		}
	}

	have := make(map[int64]struct{}, len(t.TagIDs))
	for _, id := range t.TagIDs {
		have[id] = struct{}{}
	}
	for _, id := range r.TagIDs {
		if _, ok := have[id]; !ok {
			m.TagsToAdd = append(m.TagsToAdd, id)
		}
	}

	if m.CategoryID == nil && len(m.TagsToAdd) == 0 {
		return nil
	}
	return m
}

func ruleMatches(r *Rule, t *repository.Transaction) bool {
	if r.SourceFilter != nil {
		switch *r.SourceFilter {
		case t.Source:
		case SourceAnyCard:
			if !strings.HasPrefix(t.Source, SourceAnyCard) {
				return false
			}
		default:
			return false
		}
	}
	if r.DirectionFilter != nil && *r.DirectionFilter != t.Direction {
		return false
	}

	abs := t.Amount.Abs()
	if r.MinAmount != nil && abs.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && abs.GreaterThan(*r.MaxAmount) {
		return false
	}

	for _, candidate := range candidates(r.Field, t) {
		if matchText(r.MatchType, r.Pattern, candidate) {
			return true
		}
	}
	return false
}

// candidates returns the text values a rule field is matched against. The
// merchant field falls back to the description because bank rows have no
// separate merchant column.
func candidates(field string, t *repository.Transaction) []string {
	switch field {
	case FieldRawCategory:
		if t.RawCategory == "" {
			return nil
		}
		return []string{t.RawCategory}
	default:
		primary := t.Merchant
		if primary == "" {
			primary = t.Description
		}
		if primary == "" {
			return nil
		}
		if t.Description != "" && t.Description != primary {
			return []string{primary, t.Description}
		}
		return []string{primary}
	}
}

func matchText(matchType, pattern, candidate string) bool {
	candidate = norm.NFC.String(candidate)
	pattern = norm.NFC.String(pattern)

	switch matchType {
	case MatchEquals:
		return foldCaser.String(candidate) == foldCaser.String(pattern)
	case MatchRegex:
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return false
		}
		return re.MatchString(candidate)
	case MatchFuzzy:
		return fuzzy.MatchNormalizedFold(pattern, candidate)
	default:
		return strings.Contains(foldCaser.String(candidate), foldCaser.String(pattern))
	}
}
