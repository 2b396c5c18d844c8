// Package report implements C11, the report/knowledge generator: a
// pure function of the post-load evaluation context (the parsed
// policy plus the class and variable stores) into text, HTML, or
// structured (JSON/YAML) renderings, with stable per-bundle/body/
// promise anchors (spec.md §4.11). It performs no writes back into
// C3 or C5.
//
// Grounded on internal/output/output.go's Printer: a Format enum
// selecting between table/wide/JSON/YAML rendering of the same
// underlying row data. Here the row data is a Document built once by
// Build, and HTML replaces "wide" as the fourth rendering alongside
// text/JSON/YAML, since a knowledge report's natural human-facing
// form is linked HTML rather than a terminal table.
package report

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cfengine-go/promise-engine/internal/classes"
	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/vars"
)

// Format selects a rendering of a Document.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format string, defaulting to text.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "html":
		return FormatHTML
	case "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	default:
		return FormatText
	}
}

// ConstraintEntry is one rendered l-value/r-value pair of a promise.
type ConstraintEntry struct {
	Lval       string `json:"lval" yaml:"lval"`
	Rval       string `json:"rval" yaml:"rval"`
	ClassGuard string `json:"class_guard,omitempty" yaml:"class_guard,omitempty"`
}

// PromiseEntry is one promise within a subtype block.
type PromiseEntry struct {
	Anchor      string            `json:"anchor" yaml:"anchor"`
	Promiser    string            `json:"promiser" yaml:"promiser"`
	Promisee    string            `json:"promisee,omitempty" yaml:"promisee,omitempty"`
	ClassGuard  string            `json:"class_guard,omitempty" yaml:"class_guard,omitempty"`
	Handle      string            `json:"handle,omitempty" yaml:"handle,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Constraints []ConstraintEntry `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// SubtypeEntry groups promises of one subtype within a bundle.
type SubtypeEntry struct {
	Anchor   string         `json:"anchor" yaml:"anchor"`
	Subtype  string         `json:"subtype" yaml:"subtype"`
	Promises []PromiseEntry `json:"promises" yaml:"promises"`
}

// BundleEntry is one bundle, with its subtype blocks in source order
// (C11 renders source order; C8's canonical-order walk is an
// execution detail, not a reporting one).
type BundleEntry struct {
	Anchor    string         `json:"anchor" yaml:"anchor"`
	Name      string         `json:"name" yaml:"name"`
	Type      string         `json:"type" yaml:"type"`
	Namespace string         `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Formals   []string       `json:"formals,omitempty" yaml:"formals,omitempty"`
	Subtypes  []SubtypeEntry `json:"subtypes" yaml:"subtypes"`
}

// BodyEntry is one body definition.
type BodyEntry struct {
	Anchor      string            `json:"anchor" yaml:"anchor"`
	Name        string            `json:"name" yaml:"name"`
	Type        string            `json:"type" yaml:"type"`
	Formals     []string          `json:"formals,omitempty" yaml:"formals,omitempty"`
	Constraints []ConstraintEntry `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// ClassesSummary is the flat classes listing (spec.md §4.11).
type ClassesSummary struct {
	Hard    []string `json:"hard" yaml:"hard"`
	Soft    []string `json:"soft" yaml:"soft"`
	Negated []string `json:"negated" yaml:"negated"`
}

// VariableEntry is one scoped variable binding.
type VariableEntry struct {
	Scope string `json:"scope" yaml:"scope"`
	Lval  string `json:"lval" yaml:"lval"`
	Value string `json:"value" yaml:"value"`
	Kind  string `json:"kind" yaml:"kind"`
}

// Document is the full rendered snapshot: policy structure plus
// evaluation-state summaries, the input every Format renders from.
type Document struct {
	Bundles   []BundleEntry   `json:"bundles" yaml:"bundles"`
	Bodies    []BodyEntry     `json:"bodies" yaml:"bodies"`
	Classes   ClassesSummary  `json:"classes" yaml:"classes"`
	Variables []VariableEntry `json:"variables" yaml:"variables"`
}

func anchor(parts ...string) string {
	return strings.ToLower(strings.Join(parts, "-"))
}

func renderConstraints(cs []domain.Constraint) []ConstraintEntry {
	out := make([]ConstraintEntry, 0, len(cs))
	for _, c := range cs {
		out = append(out, ConstraintEntry{
			Lval:       c.Lval,
			Rval:       c.Rval.String(),
			ClassGuard: c.ClassGuard,
		})
	}
	return out
}

// Build walks policy and the post-evaluation class/variable stores
// into a Document. It is a pure function: nothing here mutates policy,
// cs, or vs.
func Build(policy *domain.Policy, cs *classes.Store, vs *vars.Store) *Document {
	doc := &Document{}

	for _, b := range policy.Bundles {
		be := BundleEntry{
			Anchor:    anchor("bundle", b.Namespace, b.Name),
			Name:      b.Name,
			Type:      b.Type,
			Namespace: b.Namespace,
			Formals:   b.Formals,
		}
		for _, sub := range b.Subtypes {
			se := SubtypeEntry{
				Anchor:  anchor("bundle", b.Name, sub.Subtype),
				Subtype: sub.Subtype,
			}
			for i, p := range sub.Promises {
				se.Promises = append(se.Promises, PromiseEntry{
					Anchor:      anchor("bundle", b.Name, sub.Subtype, strconv.Itoa(i)),
					Promiser:    p.Promiser,
					Promisee:    p.Promisee,
					ClassGuard:  p.ClassGuard,
					Handle:      p.Handle,
					DependsOn:   p.DependsOn,
					Constraints: renderConstraints(p.Constraints),
				})
			}
			be.Subtypes = append(be.Subtypes, se)
		}
		doc.Bundles = append(doc.Bundles, be)
	}

	for _, b := range policy.Bodies {
		doc.Bodies = append(doc.Bodies, BodyEntry{
			Anchor:      anchor("body", b.Type, b.Name),
			Name:        b.Name,
			Type:        b.Type,
			Formals:     b.Formals,
			Constraints: renderConstraints(b.Constraints),
		})
	}

	if cs != nil {
		doc.Classes = ClassesSummary{
			Hard:    sortedCopy(cs.Iter("hard")),
			Soft:    sortedCopy(cs.Iter("global")),
			Negated: sortedCopy(cs.Negated()),
		}
	}

	if vs != nil {
		for _, scope := range vs.ScopeNames() {
			// "this" holds per-iteration bookkeeping bound fresh by C6
			// for every promise (e.g. this.promiser); it is never
			// stable across iterations, so it is meta and omitted
			// (domain.VarRef.Meta's documented purpose).
			if scope == "this" {
				continue
			}
			lvals := sortedCopy(vs.List(scope))
			for _, lval := range lvals {
				val, ok := vs.Get(domain.VarRef{Scope: scope, Lval: lval})
				if !ok {
					continue
				}
				doc.Variables = append(doc.Variables, VariableEntry{
					Scope: scope,
					Lval:  lval,
					Value: val.String(),
					Kind:  val.Kind().String(),
				})
			}
		}
	}

	return doc
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
