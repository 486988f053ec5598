package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Predicate reports whether a rule's condition holds for tx. Predicates read
// feature fields and configuration only and must not modify tx.
type Predicate func(tx *domain.EnrichedTransaction, cfg *domain.RuleConfig) bool

// Rule pairs a condition with its minimum-history guard.
type Rule struct {
	ID domain.RuleID

	// MinHistory is the user transaction count below which the rule never fires.
	MinHistory int

	Condition Predicate
}

// Guarded reports whether the user has enough history for the rule to apply.
func (r *Rule) Guarded(tx *domain.EnrichedTransaction) bool {
	return tx.Profile.Count >= r.MinHistory
}

// Triggered applies the guard, then the condition.
func (r *Rule) Triggered(tx *domain.EnrichedTransaction, cfg *domain.RuleConfig) bool {
	return r.Guarded(tx) && r.Condition(tx, cfg)
}
