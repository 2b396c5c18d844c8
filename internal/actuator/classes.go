package actuator

import (
	"context"
	"fmt"

	"github.com/cfengine-go/promise-engine/internal/classes"
	"github.com/cfengine-go/promise-engine/internal/classexpr"
	"github.com/cfengine-go/promise-engine/internal/domain"
)

// ClassesActuator implements the "classes" promise type in-core
// (spec.md scenario S5: a class promise with an `expression` attribute
// defines its promiser as a bundle-local soft class when the expression
// evaluates true). This is the one promise type spec.md §1 keeps as a
// core responsibility rather than an external collaborator, since
// defining a class is itself a C3 operation the evaluator already owns.
type ClassesActuator struct {
	Store    *classes.Store
	Resolver classexpr.Resolver
}

func (a *ClassesActuator) Actuate(ctx context.Context, p domain.ConcretePromise) (domain.Outcome, string, error) {
	guard := true
	if c, ok := p.Constraints["expression"]; ok {
		raw, _ := c.Rval.AsScalar()
		expr, err := classexpr.Parse(raw)
		if err != nil {
			return domain.OutcomeNone, "", err
		}
		guard = expr.Eval(a.Resolver)
	}
	if !guard {
		return domain.OutcomeKept, fmt.Sprintf("class %q: expression false, not defined", p.Promiser), nil
	}

	already := a.Store.Contains(p.Promiser, p.Namespace)
	if err := a.Store.AddSoftBundleLocal(p.Promiser); err != nil {
		return domain.OutcomeFailed, err.Error(), err
	}
	if already {
		return domain.OutcomeKept, fmt.Sprintf("class %q already defined", p.Promiser), nil
	}
	return domain.OutcomeRepaired, fmt.Sprintf("class %q defined", p.Promiser), nil
}
