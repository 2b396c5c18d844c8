// Package vars implements C5, the variable store and reference
// resolver: scoped variable storage, $()/@() expansion to a fixed
// point, and formal/actual argument binding on bundle entry.
//
// Grounded on original_source/libpromises/var_expressions.h (VarRef,
// reused directly from internal/domain) and src/scope.c/src/vars.c's
// scope-table model, replacing their VSCOPE linked list with an
// explicit Store value holding ordered scope frames (spec.md §9).
package vars

import (
	"fmt"

	"github.com/cfengine-go/promise-engine/internal/domain"
)

// Policy controls whether Put may redefine an existing binding.
type Policy int

const (
	PolicyFree        Policy = iota // last write wins, no warning
	PolicyOverridable               // redefinition allowed, but only across a genuine new assignment
	PolicyConstant                  // first write wins; later writes are a policy error
	PolicyIfDefined                 // write only takes effect if the variable is not already defined
)

type binding struct {
	value  domain.Value
	policy Policy
}

// Scope is one named variable scope (a bundle name, or one of the
// process-wide scopes: sys, mon, const, edit, match, this).
type Scope struct {
	name string
	vars map[string]binding
}

func newScope(name string) *Scope {
	return &Scope{name: name, vars: make(map[string]binding)}
}

// Store holds every scope live in the current run.
type Store struct {
	scopes map[string]*Scope
	// order preserves scope creation order for deterministic listing;
	// not load-bearing for lookup, only for report rendering (C11).
	order []string
}

func NewStore() *Store {
	return &Store{scopes: make(map[string]*Scope)}
}

// NewScope creates scope name if absent; a no-op if it already exists.
func (s *Store) NewScope(name string) *Scope {
	if sc, ok := s.scopes[name]; ok {
		return sc
	}
	sc := newScope(name)
	s.scopes[name] = sc
	s.order = append(s.order, name)
	return sc
}

// CopyScope duplicates src's bindings into a freshly created (or
// cleared) scope dst.
func (s *Store) CopyScope(dst, src string) {
	source, ok := s.scopes[src]
	if !ok {
		s.NewScope(dst)
		return
	}
	target := newScope(dst)
	for k, v := range source.vars {
		target.vars[k] = v
	}
	if _, exists := s.scopes[dst]; !exists {
		s.order = append(s.order, dst)
	}
	s.scopes[dst] = target
}

// RedefinitionError is returned by Put when policy forbids the write.
type RedefinitionError struct {
	Ref    domain.VarRef
	Policy Policy
}

func (e *RedefinitionError) Error() string {
	return fmt.Sprintf("variable %s already defined, redefinition forbidden by policy", e.Ref.String())
}

// Put stores value under ref's scope.lval, honoring the redefinition
// policy of the *existing* binding (if any) — a constant, once set,
// rejects all further writes regardless of the new write's own policy.
func (s *Store) Put(ref domain.VarRef, value domain.Value, policy Policy) error {
	sc := s.NewScope(ref.Scope)
	key := varKey(ref)
	if existing, ok := sc.vars[key]; ok {
		switch existing.policy {
		case PolicyConstant:
			return &RedefinitionError{Ref: ref, Policy: existing.policy}
		case PolicyIfDefined:
			return nil // silently ignored: already defined
		}
	}
	sc.vars[key] = binding{value: value, policy: policy}
	return nil
}

// Get resolves ref within its own scope. If the lval contains further
// variable references ("$(x)_suffix" as an index, for example) the
// caller is expected to have already expanded it via Expand — Get
// itself does no expansion.
func (s *Store) Get(ref domain.VarRef) (domain.Value, bool) {
	sc, ok := s.scopes[ref.Scope]
	if !ok {
		return domain.Value{}, false
	}
	b, ok := sc.vars[varKey(ref)]
	if !ok {
		return domain.Value{}, false
	}
	return b.value, true
}

// Has reports whether ref resolves to anything, indices included.
func (s *Store) Has(ref domain.VarRef) bool {
	_, ok := s.Get(ref)
	return ok
}

func varKey(ref domain.VarRef) string {
	key := ref.Lval
	for _, idx := range ref.Indices {
		key += "[" + idx + "]"
	}
	if ref.Namespace != "" {
		key = ref.Namespace + ":" + key
	}
	return key
}

// DeleteScope discards a scope entirely, used by C6 to pop an
// iteration frame once its promise has been dispatched.
func (s *Store) DeleteScope(name string) {
	delete(s.scopes, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ScopeNames returns every live scope, in creation order.
func (s *Store) ScopeNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// List returns every lval bound directly in scope, unqualified.
func (s *Store) List(scope string) []string {
	sc, ok := s.scopes[scope]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(sc.vars))
	for k := range sc.vars {
		out = append(out, k)
	}
	return out
}
