// Package categorization assigns categories and tags to transactions by
// evaluating an ordered list of user-defined rules.
package categorization

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rule fields the engine can match against.
const (
	FieldMerchant    = "merchant"
	FieldRawCategory = "raw_category"
)

// Match types.
const (
	MatchContains = "contains"
	MatchEquals   = "equals"
	MatchRegex    = "regex"
	MatchFuzzy    = "fuzzy"
)

// SourceAnyCard matches every credit-card source without naming the issuer.
const SourceAnyCard = "card"

// Rule is a user-defined categorization rule. Rules are evaluated in
// ascending ID order, so older rules take precedence over newer ones.
type Rule struct {
	ID        int64
	Name      string
	Field     string
	MatchType string
	Pattern   string

	SourceFilter    *string
	DirectionFilter *string
	MinAmount       *decimal.Decimal
	MaxAmount       *decimal.Decimal

	CategoryID *uuid.UUID
	TagIDs     []int64

	// RecategorizeExisting lets the rule overwrite a category assigned
	// earlier, by another rule or by hand. Plain rules only fill blanks.
	RecategorizeExisting bool
	Active               bool
	AppliedCount         int64
}
