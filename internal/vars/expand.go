package vars

import (
	"strings"

	"github.com/cfengine-go/promise-engine/internal/domain"
)

// DanglerError marks an unresolved $()/@() reference after expansion
// reached a fixed point. Per spec.md §4.5, a dangler aborts only the
// current promise iteration, not the whole run — callers (C6) catch
// this distinctly from a hard EvalError.
type DanglerError struct {
	Ref string
}

func (e *DanglerError) Error() string {
	return "unresolved variable reference: " + e.Ref
}

// maxExpansionPasses bounds the fixed-point loop so a reference cycle
// ("$(a)" stored inside "a" itself) fails fast instead of looping
// forever.
const maxExpansionPasses = 50

// Expand performs recursive $(name)/${name}/@(name)/@{name} scalar
// expansion against scope (the "current" scope for unqualified
// names), iterating to a fixed point. A name with no remaining
// references to expand, that still cannot be resolved, returns
// *DanglerError.
func (s *Store) Expand(str, scope string) (string, error) {
	cur := str
	for i := 0; i < maxExpansionPasses; i++ {
		next, expanded, err := s.expandOnePass(cur, scope)
		if err != nil {
			return "", err
		}
		if !expanded {
			return next, nil
		}
		cur = next
	}
	return "", &DanglerError{Ref: cur}
}

// expandOnePass finds the first $()/@() reference in str and resolves
// it, returning the substituted string and whether anything changed.
func (s *Store) expandOnePass(str, scope string) (string, bool, error) {
	for i := 0; i < len(str); i++ {
		if str[i] != '$' && str[i] != '@' {
			continue
		}
		if i+1 >= len(str) {
			continue
		}
		open, close := str[i+1], byte(0)
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
		for ; j < len(str); j++ {
			switch str[j] {
			case open:
				depth++
			case close:
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if j >= len(str) {
			// unterminated reference: treat the rest of the string as a
			// dangler rather than looping forever
			return "", false, &DanglerError{Ref: str[i:]}
		}
		name := str[i+2 : j]
		isList := str[i] == '@'

		ref := domain.ParseVarRef(name)
		if ref.Scope == "" {
			ref.Scope = scope
		}
		val, ok := s.Get(ref)
		if !ok {
			return "", false, &DanglerError{Ref: str[i : j+1]}
		}

		var repl string
		if isList {
			list, ok := val.AsList()
			if !ok {
				return "", false, &DanglerError{Ref: str[i : j+1]}
			}
			parts := make([]string, 0, len(list))
			for _, v := range list {
				parts = append(parts, v.String())
			}
			repl = strings.Join(parts, ",")
		} else {
			repl = val.String()
		}

		return str[:i] + repl + str[j+1:], true, nil
	}
	return str, false, nil
}
