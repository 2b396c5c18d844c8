package actuator

import (
	"context"
	"testing"

	"github.com/cfengine-go/promise-engine/internal/classes"
	"github.com/cfengine-go/promise-engine/internal/domain"
)

func TestRegistryDispatchesToRegisteredType(t *testing.T) {
	r := NewRegistry()
	r.Register("files", Noop{})

	outcome, msg, err := r.Dispatch(context.Background(), domain.ConcretePromise{Type: "files"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome != domain.OutcomeKept || msg != "noop" {
		t.Fatalf("got %v %q", outcome, msg)
	}
}

func TestRegistryUnregisteredTypeIsPolicyError(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Dispatch(context.Background(), domain.ConcretePromise{Type: "processes"})
	if _, ok := err.(*UnregisteredTypeError); !ok {
		t.Fatalf("expected *UnregisteredTypeError, got %T", err)
	}
}

func TestClassesActuatorDefinesClassWhenExpressionTrue(t *testing.T) {
	store := classes.NewStore()
	store.AddHard("Hr02")
	a := &ClassesActuator{Store: store, Resolver: store}

	p := domain.ConcretePromise{
		Type:     "classes",
		Promiser: "nightly",
		Constraints: map[string]domain.Constraint{
			"expression": {Lval: "expression", Rval: domain.Scalar("Hr02|Hr03")},
		},
	}
	outcome, _, err := a.Actuate(context.Background(), p)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if outcome != domain.OutcomeRepaired {
		t.Fatalf("got %v, want repaired (newly defined)", outcome)
	}
	if !store.Contains("nightly", "") {
		t.Fatalf("expected nightly class defined")
	}
}

func TestClassesActuatorDoesNotDefineWhenExpressionFalse(t *testing.T) {
	store := classes.NewStore()
	a := &ClassesActuator{Store: store, Resolver: store}

	p := domain.ConcretePromise{
		Type:     "classes",
		Promiser: "nightly",
		Constraints: map[string]domain.Constraint{
			"expression": {Lval: "expression", Rval: domain.Scalar("Hr02|Hr03")},
		},
	}
	outcome, _, err := a.Actuate(context.Background(), p)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if outcome != domain.OutcomeKept {
		t.Fatalf("got %v, want kept", outcome)
	}
	if store.Contains("nightly", "") {
		t.Fatalf("class should not have been defined")
	}
}

func TestClassesActuatorReportsKeptWhenAlreadyDefined(t *testing.T) {
	store := classes.NewStore()
	store.AddSoft("nightly", "")
	a := &ClassesActuator{Store: store, Resolver: store}

	p := domain.ConcretePromise{Type: "classes", Promiser: "nightly"}
	outcome, _, err := a.Actuate(context.Background(), p)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if outcome != domain.OutcomeKept {
		t.Fatalf("got %v, want kept (already defined)", outcome)
	}
}

func TestClassesActuatorUnwindsOnFramePop(t *testing.T) {
	store := classes.NewStore()
	store.AddHard("Hr02")
	a := &ClassesActuator{Store: store, Resolver: store}

	store.PushFrame("mybundle", false)
	p := domain.ConcretePromise{
		Type:     "classes",
		Promiser: "nightly",
		Constraints: map[string]domain.Constraint{
			"expression": {Lval: "expression", Rval: domain.Scalar("Hr02")},
		},
	}
	if _, _, err := a.Actuate(context.Background(), p); err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if !store.Contains("nightly", "") {
		t.Fatalf("expected nightly visible within frame")
	}
	store.PopFrame()
	if store.Contains("nightly", "") {
		t.Fatalf("expected nightly gone after popping frame")
	}
}
