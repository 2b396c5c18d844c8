package vars

import (
	"fmt"

	"github.com/cfengine-go/promise-engine/internal/domain"
)

// Augment binds actuals to formals inside scope on bundle entry
// (spec.md §4.5): a list actual into a list-typed formal retains
// list-ness; a scalar actual is bound by value. Passing a scalar where
// the bundle's body treats the formal as a list parameter is a fatal
// policy error, not a soft dangler, since it can only result from a
// policy authoring mistake rather than a runtime data gap.
func (s *Store) Augment(scope string, formals []string, actuals []domain.Value, listFormals map[string]bool) error {
	if len(actuals) > len(formals) {
		return fmt.Errorf("vars: bundle %s called with %d arguments, expected at most %d", scope, len(actuals), len(formals))
	}
	for i, formal := range formals {
		if i >= len(actuals) {
			break
		}
		actual := actuals[i]
		if listFormals[formal] && !actual.IsList() {
			return fmt.Errorf("vars: formal parameter %q expects a list, got %s", formal, actual.Kind())
		}
		ref := domain.VarRef{Scope: scope, Lval: formal}
		if err := s.Put(ref, actual, PolicyFree); err != nil {
			return err
		}
	}
	return nil
}
