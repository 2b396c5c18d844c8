package domain

import "strings"

// VarRef is a variable reference, grounded on
// _examples/original_source/libpromises/var_expressions.h's VarRef:
// namespace, scope, lval and an ordered index sequence.
type VarRef struct {
	Namespace string
	Scope     string
	Lval      string
	Indices   []string
	// Meta marks bookkeeping variables (cf. VarRefSetMeta in the
	// original source) that internal/report should omit from
	// human-facing output.
	Meta bool
}

// String renders the canonical form from spec.md §3:
// "scope.lval[i1][i2]…", or "ns:scope.lval…" when qualified.
func (r VarRef) String() string {
	var b strings.Builder
	if r.Namespace != "" {
		b.WriteString(r.Namespace)
		b.WriteByte(':')
	}
	if r.Scope != "" {
		b.WriteString(r.Scope)
		b.WriteByte('.')
	}
	b.WriteString(r.Lval)
	for _, idx := range r.Indices {
		b.WriteByte('[')
		b.WriteString(idx)
		b.WriteByte(']')
	}
	return b.String()
}

// Indexless returns a copy with indices stripped, used when resolving
// the base list a reference iterates over.
func (r VarRef) Indexless() VarRef {
	r2 := r
	r2.Indices = nil
	return r2
}

// Qualify fills in namespace/scope from the given defaults only if the
// reference does not already carry them — the "inherit scope and
// namespace of the bundle" behavior of VarRefParseFromBundle.
func (r VarRef) Qualify(ns, scope string) VarRef {
	r2 := r
	if r2.Namespace == "" {
		r2.Namespace = ns
	}
	if r2.Scope == "" {
		r2.Scope = scope
	}
	return r2
}

// ParseVarRef parses "[ns:]scope.lval[idx]..." into a VarRef. Indices
// must already be de-nested scalars (no recursive $() inside brackets);
// internal/vars.Expand is responsible for resolving those before
// calling ParseVarRef on the result.
func ParseVarRef(s string) VarRef {
	var ref VarRef
	rest := s
	if i := strings.Index(rest, ":"); i >= 0 && !strings.Contains(rest[:i], "[") {
		ref.Namespace = rest[:i]
		rest = rest[i+1:]
	}
	// split off bracketed indices
	base := rest
	var indices []string
	if i := strings.IndexByte(rest, '['); i >= 0 {
		base = rest[:i]
		tail := rest[i:]
		for len(tail) > 0 && tail[0] == '[' {
			end := strings.IndexByte(tail, ']')
			if end < 0 {
				break
			}
			indices = append(indices, tail[1:end])
			tail = tail[end+1:]
		}
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		ref.Scope = base[:i]
		ref.Lval = base[i+1:]
	} else {
		ref.Lval = base
	}
	ref.Indices = indices
	return ref
}
