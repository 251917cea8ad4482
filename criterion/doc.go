// Package criterion compiles declarative selections into the predicates used
// by the snapshot builder and the rule engine.
//
// A Criterion is immutable. It exposes five derived predicates:
//
//	LocationFilter       raw provider location, cheapest, applied first
//	ProviderFilter       provider name and model
//	ServiceFilter        service name
//	ResourceFilter       resource name and owning service
//	ResourceValueFilter  whole provider with all its surviving resources
//
// A nil predicate means the criterion places no constraint at that level.
// The value filter sees sibling resources together so a criterion such as
// "unit == C and temperature >= 5" can be expressed.
//
// Negation never wraps. Leaves flip their own negate flag and And/Or are
// rewritten to their dual with every child negated, so Negate(Negate(c))
// has the same shape as c.
//
// Value comparisons fall back to string comparison whenever either side is
// not numeric. Construction fails only for invalid patterns.
package criterion
