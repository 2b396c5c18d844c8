// Package constraint implements C9, the effective-constraint resolver:
// for a promise and an l-value, pick the one constraint among possibly
// several same-lval entries whose class_guard currently evaluates
// true, and expose typed accessors over its value.
//
// Grounded on original_source/libpromises/constraints.c's
// EffectiveConstraint (walk the candidates, return the first whose
// context classexpr is defined) generalized to report a *MultipleMatch
// error instead of silently returning the first true match, per
// spec.md §4.9: "Multiple true-guarded constraints with the same
// l-value are a user error reported once with both origins."
package constraint

import (
	"fmt"

	"github.com/cfengine-go/promise-engine/internal/classexpr"
	"github.com/cfengine-go/promise-engine/internal/domain"
)

// MultipleMatchError reports two or more constraints for the same
// l-value whose guards were simultaneously true.
type MultipleMatchError struct {
	Lval    string
	Origins []domain.Origin
}

func (e *MultipleMatchError) Error() string {
	return fmt.Sprintf("constraint %q matched by %d guards simultaneously", e.Lval, len(e.Origins))
}

// Resolve picks the effective constraint for lval among candidates,
// skipping any candidate whose Lval differs. resolver answers
// class-guard lookups (normally the current internal/classes.Store,
// which satisfies classexpr.Resolver directly).
func Resolve(candidates []domain.Constraint, lval string, resolver classexpr.Resolver) (*domain.Constraint, error) {
	var matched []domain.Constraint
	for _, c := range candidates {
		if c.Lval != lval {
			continue
		}
		if c.ClassGuard == "" {
			matched = append(matched, c)
			continue
		}
		expr, err := classexpr.Parse(c.ClassGuard)
		if err != nil {
			return nil, fmt.Errorf("constraint %q: invalid class_guard %q: %w", lval, c.ClassGuard, err)
		}
		if expr.Eval(resolver) {
			matched = append(matched, c)
		}
	}
	switch len(matched) {
	case 0:
		return nil, nil
	case 1:
		return &matched[0], nil
	default:
		origins := make([]domain.Origin, len(matched))
		for i, c := range matched {
			origins[i] = c.Origin
		}
		return nil, &MultipleMatchError{Lval: lval, Origins: origins}
	}
}

// ResolveAll computes the effective constraint set for every distinct
// l-value present in candidates, collapsing duplicates per-lval. This
// is the operation C6 step 4d calls "the effective constraint
// resolver" over an iteration's full constraint list.
func ResolveAll(candidates []domain.Constraint, resolver classexpr.Resolver) (map[string]domain.Constraint, error) {
	lvals := make([]string, 0)
	seen := make(map[string]bool)
	for _, c := range candidates {
		if !seen[c.Lval] {
			seen[c.Lval] = true
			lvals = append(lvals, c.Lval)
		}
	}
	out := make(map[string]domain.Constraint, len(lvals))
	for _, lval := range lvals {
		eff, err := Resolve(candidates, lval, resolver)
		if err != nil {
			return nil, err
		}
		if eff != nil {
			out[lval] = *eff
		}
	}
	return out, nil
}
