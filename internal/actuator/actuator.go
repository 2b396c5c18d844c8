// Package actuator implements C10, the promise-type dispatch registry.
// spec.md §1 scopes concrete resource actuators (files, processes,
// packages, …) out as external collaborators; this package ships only
// the narrow contract they would implement, a registry that maps a
// concrete promise's type to one, and the one promise type the core
// keeps in-house: "classes" (spec.md scenario S5), which needs nothing
// an external collaborator provides.
//
// Grounded on oriys-nova/internal/executor/executor.go's Invoke
// contract (single call in, single typed result out) generalized here
// to a type-keyed registry.
package actuator

import (
	"context"
	"fmt"
	"sync"

	"github.com/cfengine-go/promise-engine/internal/domain"
)

// Actuator enforces one promise type. Message is a free-form detail
// string folded into the audit record.
type Actuator interface {
	Actuate(ctx context.Context, p domain.ConcretePromise) (outcome domain.Outcome, message string, err error)
}

// ActuatorFunc adapts a plain function to the Actuator interface.
type ActuatorFunc func(ctx context.Context, p domain.ConcretePromise) (domain.Outcome, string, error)

func (f ActuatorFunc) Actuate(ctx context.Context, p domain.ConcretePromise) (domain.Outcome, string, error) {
	return f(ctx, p)
}

// UnregisteredTypeError is returned by Dispatch when no actuator is
// registered for a concrete promise's type — a policy error per
// spec.md §7 ("unknown subtype").
type UnregisteredTypeError struct {
	Type string
}

func (e *UnregisteredTypeError) Error() string {
	return fmt.Sprintf("no actuator registered for promise type %q", e.Type)
}

// Registry maps promise type to its actuator.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Actuator
}

func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Actuator)}
}

// Register installs a into the registry under promiseType, replacing
// any prior registration.
func (r *Registry) Register(promiseType string, a Actuator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[promiseType] = a
}

// Dispatch routes p to its type's actuator. Actuators must not call
// back into the scheduler for the same promise (spec.md §4.10's
// re-entrancy rule); the registry has no means to enforce this, it is
// a contract on Actuator implementations.
func (r *Registry) Dispatch(ctx context.Context, p domain.ConcretePromise) (domain.Outcome, string, error) {
	r.mu.RLock()
	a, ok := r.byType[p.Type]
	r.mu.RUnlock()
	if !ok {
		return domain.OutcomeNone, "", &UnregisteredTypeError{Type: p.Type}
	}
	return a.Actuate(ctx, p)
}
