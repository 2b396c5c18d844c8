package domain

// Origin locates a promise/constraint in its source policy file.
type Origin struct {
	File string
	Line int
}

// Constraint is an l-value/r-value pair guarded by its own class
// expression, per spec.md §3.
type Constraint struct {
	Lval       string
	Rval       Value
	ClassGuard string // raw class-expression text; "" means always-true
	Origin     Origin
}

// Body is a named, parameterised group of constraints reusable by
// reference as an r-value (spec.md §3, GLOSSARY).
type Body struct {
	Name        string
	Type        string // e.g. "perms", "edit_line" — the body's subtype
	Formals     []string
	Constraints []Constraint
}

// BodyRef is declared in value.go.

// Promise is the AST input described in spec.md §3.
type Promise struct {
	Type        string // files, processes, classes, reports, ...
	Promiser    string
	Promisee    string
	ClassGuard  string
	Constraints []Constraint
	Origin      Origin
	Bundle      string
	Namespace   string
	Handle      string
	DependsOn   []string
}

// SubtypeBlock groups promises of one subtype within a bundle, in
// source order.
type SubtypeBlock struct {
	Subtype  string
	Promises []Promise
}

// Bundle is a named, parameterised collection of promises grouped by
// subtype, per spec.md GLOSSARY.
type Bundle struct {
	Name      string
	Type      string // agent, common, edit_line, ...
	Formals   []string
	Namespace string
	Subtypes  []SubtypeBlock
}

// BundleSequenceEntry is one (name, args) entry of the bundlesequence.
type BundleSequenceEntry struct {
	Bundle string
	Args   []Value
}

// Policy is the arena holding every bundle and body discovered during
// load, plus the configured run order. Body r-values carry a BodyRef
// index into Bodies and FindBody looks a body up by name and type,
// which keeps the AST free of back-pointers per spec.md §9.
type Policy struct {
	Bundles        []Bundle
	Bodies         []Body
	BundleSequence []BundleSequenceEntry
}

// FindBundle returns the bundle by (name, namespace) or ok=false.
func (p *Policy) FindBundle(name, namespace string) (*Bundle, bool) {
	for i := range p.Bundles {
		if p.Bundles[i].Name == name && p.Bundles[i].Namespace == namespace {
			return &p.Bundles[i], true
		}
	}
	// unqualified fallback
	for i := range p.Bundles {
		if p.Bundles[i].Name == name {
			return &p.Bundles[i], true
		}
	}
	return nil, false
}

// FindBody returns the body by (name, type) — a body reference always
// specifies which subtype's body it expects.
func (p *Policy) FindBody(name, typ string) (*Body, bool) {
	for i := range p.Bodies {
		if p.Bodies[i].Name == name && (typ == "" || p.Bodies[i].Type == typ) {
			return &p.Bodies[i], true
		}
	}
	return nil, false
}
