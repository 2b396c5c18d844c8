// Package fixture loads a domain.Policy arena from a YAML document.
// It is explicitly not a surface-syntax parser for the policy
// language: it defines its own YAML schema for bundles/bodies/
// constraints and fills in the AST's arena-based body references
// (domain.BodyRef) by a two-pass name resolution, the way a test
// fixture format would, not the way a compiler front end would.
// Grounded on oriys-nova/internal/spec/function.go's pattern of a
// dedicated YAML schema (its own doc types, not a reused wire format)
// unmarshalled with gopkg.in/yaml.v3 into the package's domain types.
package fixture

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cfengine-go/promise-engine/internal/domain"
)

type valueDoc struct {
	Scalar *string    `yaml:"scalar,omitempty"`
	Int    *int64     `yaml:"int,omitempty"`
	Real   *float64   `yaml:"real,omitempty"`
	List   []valueDoc `yaml:"list,omitempty"`
	Call   *callDoc   `yaml:"call,omitempty"`
	Body   string     `yaml:"body,omitempty"` // body name, resolved against bodyIndex
}

type callDoc struct {
	Name string     `yaml:"name"`
	Args []valueDoc `yaml:"args"`
}

type constraintDoc struct {
	Lval       string   `yaml:"lval"`
	Rval       valueDoc `yaml:"rval"`
	ClassGuard string   `yaml:"class_guard"`
	Line       int      `yaml:"line"`
}

type promiseDoc struct {
	Type        string          `yaml:"type"`
	Promiser    string          `yaml:"promiser"`
	Promisee    string          `yaml:"promisee"`
	ClassGuard  string          `yaml:"class_guard"`
	Constraints []constraintDoc `yaml:"constraints"`
	Handle      string          `yaml:"handle"`
	DependsOn   []string        `yaml:"depends_on"`
	Line        int             `yaml:"line"`
}

type subtypeDoc struct {
	Subtype  string       `yaml:"subtype"`
	Promises []promiseDoc `yaml:"promises"`
}

type bundleDoc struct {
	Name      string       `yaml:"name"`
	Type      string       `yaml:"type"`
	Namespace string       `yaml:"namespace"`
	Formals   []string     `yaml:"formals"`
	Subtypes  []subtypeDoc `yaml:"subtypes"`
}

type bodyDoc struct {
	Name        string          `yaml:"name"`
	Type        string          `yaml:"type"`
	Formals     []string        `yaml:"formals"`
	Constraints []constraintDoc `yaml:"constraints"`
}

type bundleSequenceDoc struct {
	Bundle string     `yaml:"bundle"`
	Args   []valueDoc `yaml:"args"`
}

type policyDoc struct {
	Bundles        []bundleDoc         `yaml:"bundles"`
	Bodies         []bodyDoc           `yaml:"bodies"`
	BundleSequence []bundleSequenceDoc `yaml:"bundle_sequence"`
}

// Load reads a single YAML fixture file into a domain.Policy. Multiple
// files (e.g. the output of internal/policysource) should be loaded
// with LoadAll instead, which merges their bundles/bodies/sequence.
func Load(path string) (*domain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: read %s: %w", path, err)
	}
	return parse(path, data)
}

// LoadAll reads and merges several YAML fixture files in the given
// order, as a CLI entry point does for WORKDIR/inputs/*.yaml. Body
// names must be unique across the whole merged set.
func LoadAll(paths []string) (*domain.Policy, error) {
	merged := &domain.Policy{}
	for _, path := range paths {
		p, err := Load(path)
		if err != nil {
			return nil, err
		}
		merged.Bundles = append(merged.Bundles, p.Bundles...)
		merged.Bodies = append(merged.Bodies, p.Bodies...)
		merged.BundleSequence = append(merged.BundleSequence, p.BundleSequence...)
	}
	return merged, nil
}

func parse(path string, data []byte) (*domain.Policy, error) {
	var doc policyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("fixture: parse %s: %w", path, err)
	}

	bodyIndex := make(map[string]domain.BodyRef, len(doc.Bodies))
	for i, b := range doc.Bodies {
		if _, dup := bodyIndex[b.Name]; dup {
			return nil, fmt.Errorf("fixture: %s: duplicate body name %q", path, b.Name)
		}
		bodyIndex[b.Name] = domain.BodyRef(i)
	}

	policy := &domain.Policy{}

	for _, b := range doc.Bodies {
		constraints, err := convertConstraints(path, b.Constraints, bodyIndex)
		if err != nil {
			return nil, err
		}
		policy.Bodies = append(policy.Bodies, domain.Body{
			Name:        b.Name,
			Type:        b.Type,
			Formals:     b.Formals,
			Constraints: constraints,
		})
	}

	for _, bd := range doc.Bundles {
		bundle := domain.Bundle{
			Name:      bd.Name,
			Type:      bd.Type,
			Namespace: bd.Namespace,
			Formals:   bd.Formals,
		}
		for _, st := range bd.Subtypes {
			block := domain.SubtypeBlock{Subtype: st.Subtype}
			for _, pd := range st.Promises {
				constraints, err := convertConstraints(path, pd.Constraints, bodyIndex)
				if err != nil {
					return nil, err
				}
				block.Promises = append(block.Promises, domain.Promise{
					Type:        pd.Type,
					Promiser:    pd.Promiser,
					Promisee:    pd.Promisee,
					ClassGuard:  pd.ClassGuard,
					Constraints: constraints,
					Origin:      domain.Origin{File: path, Line: pd.Line},
					Bundle:      bd.Name,
					Namespace:   bd.Namespace,
					Handle:      pd.Handle,
					DependsOn:   pd.DependsOn,
				})
			}
			bundle.Subtypes = append(bundle.Subtypes, block)
		}
		policy.Bundles = append(policy.Bundles, bundle)
	}

	for _, seq := range doc.BundleSequence {
		args := make([]domain.Value, 0, len(seq.Args))
		for _, a := range seq.Args {
			v, err := convertValue(path, a, bodyIndex)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		policy.BundleSequence = append(policy.BundleSequence, domain.BundleSequenceEntry{
			Bundle: seq.Bundle,
			Args:   args,
		})
	}

	return policy, nil
}

func convertConstraints(path string, docs []constraintDoc, bodyIndex map[string]domain.BodyRef) ([]domain.Constraint, error) {
	out := make([]domain.Constraint, 0, len(docs))
	for _, cd := range docs {
		v, err := convertValue(path, cd.Rval, bodyIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Constraint{
			Lval:       cd.Lval,
			Rval:       v,
			ClassGuard: cd.ClassGuard,
			Origin:     domain.Origin{File: path, Line: cd.Line},
		})
	}
	return out, nil
}

func convertValue(path string, v valueDoc, bodyIndex map[string]domain.BodyRef) (domain.Value, error) {
	switch {
	case v.Body != "":
		ref, ok := bodyIndex[v.Body]
		if !ok {
			return domain.Value{}, fmt.Errorf("fixture: %s: undefined body reference %q", path, v.Body)
		}
		return domain.Body(ref), nil
	case v.Call != nil:
		args := make([]domain.Value, 0, len(v.Call.Args))
		for _, a := range v.Call.Args {
			cv, err := convertValue(path, a, bodyIndex)
			if err != nil {
				return domain.Value{}, err
			}
			args = append(args, cv)
		}
		return domain.Call(&domain.FnCall{Name: v.Call.Name, Args: args}), nil
	case v.List != nil:
		list := make([]domain.Value, 0, len(v.List))
		for _, e := range v.List {
			ev, err := convertValue(path, e, bodyIndex)
			if err != nil {
				return domain.Value{}, err
			}
			list = append(list, ev)
		}
		return domain.List(list), nil
	case v.Int != nil:
		return domain.Int(*v.Int), nil
	case v.Real != nil:
		return domain.Real(*v.Real), nil
	case v.Scalar != nil:
		return domain.Scalar(*v.Scalar), nil
	default:
		return domain.Scalar(""), nil
	}
}
