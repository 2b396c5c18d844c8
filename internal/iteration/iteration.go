// Package iteration implements C6, the promise expansion and
// iteration engine: deref-copy, reference scan, Cartesian-product
// iterator construction, and per-iteration frame binding/dispatch.
//
// Grounded on original_source/src/verify_processes.c's promiser-list
// expansion loop for the Cartesian-product-over-list-refs idea, and on
// oriys-nova/internal/workflow/engine.go's frame push/pop bookkeeping
// around a single unit of work (there: a DAG node attempt; here: one
// promise iteration) for the push-bind-run-pop shape.
package iteration

import (
	"fmt"
	"sort"

	"github.com/cfengine-go/promise-engine/internal/classexpr"
	"github.com/cfengine-go/promise-engine/internal/constraint"
	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/vars"
)

// SkipError marks a promise skipped outright rather than failed: an
// empty or unresolved list reference in the iteration space (spec.md
// §4.6 step 3).
type SkipError struct {
	Promiser string
	Ref      string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("promise %q skipped: list reference %q is unresolved or empty", e.Promiser, e.Ref)
}

// Engine holds the shared evaluation services C6 needs per iteration:
// the variable store for $()/@() resolution and the class resolver
// for per-constraint guards.
type Engine struct {
	Vars     *vars.Store
	Resolver classexpr.Resolver
}

func New(v *vars.Store, r classexpr.Resolver) *Engine {
	return &Engine{Vars: v, Resolver: r}
}

// Dispatch is the actuator callback signature: receives one fully
// concrete promise and returns its outcome.
type Dispatch func(domain.ConcretePromise) (domain.Outcome, error)

// listRef is a list-valued reference resolved once per promise, ahead
// of Cartesian-product iteration over its elements.
type listRef struct {
	name string
	vals []domain.Value
}

// referenceScan walks s looking for $(name)/@(name) forms (step 2 of
// §4.6), returning each referenced name in first-appearance order
// without resolving type yet — classification into scalar-ref vs
// list-ref happens in classifyRefs, since it depends on what the
// variable store currently holds for that name.
func referenceScan(s string) []string {
	var names []string
	for i := 0; i < len(s); i++ {
		if s[i] != '$' && s[i] != '@' {
			continue
		}
		if i+1 >= len(s) {
			continue
		}
		open, close := s[i+1], byte(0)
		switch open {
		case '(':
			close = ')'
		case '{':
			close = '}'
		default:
			continue
		}
		depth := 1
		j := i + 2
		for ; j < len(s); j++ {
			switch s[j] {
			case open:
				depth++
			case close:
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if j >= len(s) {
			break
		}
		names = append(names, s[i+2:j])
		i = j
	}
	return names
}

// classifyRefs resolves each referenced name against the engine's var
// store, bucketing it as a list-ref (current value is a list) or a
// scalar-ref. A name that does not resolve, or whose value is a
// function-call node, is classified as a scalar-ref: function calls
// are not evaluated here and are never promoted to list-refs.
func (e *Engine) classifyRefs(scope string, names []string) (scalars []string, lists []string) {
	seen := make(map[string]bool)
	for _, name := range names {
		ref := domain.ParseVarRef(name)
		if ref.Scope == "" {
			ref.Scope = scope
		}
		key := ref.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		val, ok := e.Vars.Get(ref)
		if ok && val.IsList() {
			lists = append(lists, name)
		} else {
			scalars = append(scalars, name)
		}
	}
	return scalars, lists
}

// product computes the Cartesian product of n lists, returning
// selected-index tuples in order of first appearance of each list
// (spec.md §4.6 step 3: "Cartesian product ... in the source order of
// first appearance"). Ordering is list order, not hash order.
func product(sizes []int) [][]int {
	if len(sizes) == 0 {
		return [][]int{{}}
	}
	total := 1
	for _, n := range sizes {
		total *= n
	}
	out := make([][]int, 0, total)
	idx := make([]int, len(sizes))
	for {
		tuple := make([]int, len(idx))
		copy(tuple, idx)
		out = append(out, tuple)

		pos := len(sizes) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < sizes[pos] {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return out
}

// Expand runs the full C6 algorithm over one guard-passed promise:
// deref-copy is the caller's responsibility (body inlining happens
// before Expand sees the promise, since it needs Policy-arena lookups
// the iteration engine itself has no reason to hold); Expand performs
// reference scan, iterator construction, and the per-iteration
// frame/bind/guard/resolve/dispatch/pop loop, returning every outcome
// and any per-iteration errors (skips, danglers — vars.Expand itself
// bounds its fixed-point recursion) alongside.
func (e *Engine) Expand(p domain.Promise, bundle, namespace string, dispatch Dispatch) ([]domain.Outcome, []error) {
	scope := bundle
	names := referenceScan(p.Promiser)
	for _, c := range p.Constraints {
		if s, ok := c.Rval.AsScalar(); ok {
			names = append(names, referenceScan(s)...)
		}
	}
	_, listRefs := e.classifyRefs(scope, names)

	var resolvedLists []listRef
	for _, name := range listRefs {
		ref := domain.ParseVarRef(name)
		if ref.Scope == "" {
			ref.Scope = scope
		}
		val, ok := e.Vars.Get(ref)
		if !ok {
			return nil, []error{&SkipError{Promiser: p.Promiser, Ref: name}}
		}
		list, _ := val.AsList()
		if len(list) == 0 {
			return nil, []error{&SkipError{Promiser: p.Promiser, Ref: name}}
		}
		resolvedLists = append(resolvedLists, listRef{name: name, vals: list})
	}

	sizes := make([]int, len(resolvedLists))
	for i, l := range resolvedLists {
		sizes[i] = len(l.vals)
	}
	tuples := product(sizes)

	var outcomes []domain.Outcome
	var errs []error

	for iterIdx, tuple := range tuples {
		outcome, err := e.runIteration(p, bundle, namespace, iterIdx, tuple, resolvedLists, scope, dispatch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, errs
}

// runIteration executes steps 4a-4f of §4.6 for one Cartesian-product
// tuple: push a frame, bind list elements, re-expand scalars, evaluate
// guards, resolve effective constraints, dispatch, then pop the frame
// (always, via defer, regardless of which step failed).
func (e *Engine) runIteration(p domain.Promise, bundle, namespace string, iterIdx int, tuple []int, resolvedLists []listRef, scope string, dispatch Dispatch) (outcome domain.Outcome, err error) {
	frameScope := fmt.Sprintf("%s#iter%d", scope, iterIdx)
	e.Vars.CopyScope(frameScope, scope) // push
	defer e.Vars.DeleteScope(frameScope) // pop

	promiserIdx := make(map[string]int, len(resolvedLists))
	for i, l := range resolvedLists {
		ref := domain.ParseVarRef(l.name)
		elemRef := domain.VarRef{Scope: frameScope, Lval: ref.Lval}
		e.Vars.Put(elemRef, l.vals[tuple[i]], vars.PolicyFree)
		promiserIdx[l.name] = tuple[i]
	}

	e.Vars.Put(domain.VarRef{Scope: "this", Lval: "promiser"}, domain.Scalar(p.Promiser), vars.PolicyFree)

	promiser, err := e.Vars.Expand(p.Promiser, frameScope)
	if err != nil {
		return domain.OutcomeNone, err
	}

	var effectiveCands []domain.Constraint
	for _, c := range p.Constraints {
		cc := c
		if s, ok := c.Rval.AsScalar(); ok {
			expanded, err := e.Vars.Expand(s, frameScope)
			if err != nil {
				return domain.OutcomeNone, err
			}
			cc.Rval = domain.Scalar(expanded)
		}
		if cc.ClassGuard != "" {
			guardExpr, err := classexpr.Parse(cc.ClassGuard)
			if err != nil {
				return domain.OutcomeNone, err
			}
			if !guardExpr.Eval(e.Resolver) {
				continue
			}
		}
		effectiveCands = append(effectiveCands, cc)
	}

	effective, err := constraint.ResolveAll(effectiveCands, e.Resolver)
	if err != nil {
		return domain.OutcomeNone, err
	}

	concrete := domain.ConcretePromise{
		Type:              p.Type,
		Promiser:          promiser,
		Promisee:          p.Promisee,
		Bundle:            bundle,
		Namespace:         namespace,
		Handle:            p.Handle,
		Constraints:       effective,
		Origin:            p.Origin,
		IterationIndex:    iterIdx,
		PromiserIndexVars: promiserIdx,
	}

	return dispatch(concrete)
}

// SortedKeys returns m's keys in sorted order, for listing
// promiser-index variables deterministically.
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
