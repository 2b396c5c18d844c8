package evalctx

import (
	"context"
	"errors"
	"testing"

	"github.com/cfengine-go/promise-engine/internal/actuator"
	"github.com/cfengine-go/promise-engine/internal/classes"
	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/kv"
	"github.com/cfengine-go/promise-engine/internal/lock"
)

func samplePolicy() *domain.Policy {
	return &domain.Policy{
		Bundles: []domain.Bundle{{
			Name: "main",
			Type: "agent",
			Subtypes: []domain.SubtypeBlock{{
				Subtype: "classes",
				Promises: []domain.Promise{{
					Type:     "classes",
					Promiser: "ran_once",
				}},
			}},
		}},
		BundleSequence: []domain.BundleSequenceEntry{{Bundle: "main"}},
	}
}

func TestNewWithNilStoreRunsFullyInMemory(t *testing.T) {
	ec, err := New(context.Background(), samplePolicy(), nil, nil, Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if ec.Lock != nil {
		t.Fatalf("expected no lock manager without a store")
	}
	// The "classes" actuator defines into the current bundle frame,
	// which the scheduler pops on the way out of runEntry; what
	// outlives the run is whatever the audit sink recorded, not the
	// class itself.
	if err := ec.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ec.Audit.Records()) != 1 || ec.Audit.Records()[0].Outcome != domain.OutcomeRepaired {
		t.Fatalf("expected one repaired audit record for ran_once, got %+v", ec.Audit.Records())
	}
}

func TestNewWithStoreWiresLockManager(t *testing.T) {
	store := kv.NewMemStore()
	ec, err := New(context.Background(), samplePolicy(), store, &lock.MutexCriticalSection{}, Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if ec.Lock == nil {
		t.Fatalf("expected a lock manager when a store is supplied")
	}
	if err := ec.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestNewRespectsDisableLockingAndPersistence(t *testing.T) {
	store := kv.NewMemStore()
	ec, err := New(context.Background(), samplePolicy(), store, nil, Config{
		DisableLocking:     true,
		DisablePersistence: true,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if ec.Lock != nil {
		t.Fatalf("expected no lock manager with DisableLocking")
	}
}

func TestRunRecoversInvariantBreachFromDispatch(t *testing.T) {
	ec, err := New(context.Background(), samplePolicy(), nil, nil, Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ec.Actuators.Register("classes", actuator.ActuatorFunc(
		func(ctx context.Context, p domain.ConcretePromise) (domain.Outcome, string, error) {
			panic(&classes.FrameUnderflowError{})
		}))

	err = ec.Run(context.Background())
	if err == nil {
		t.Fatalf("expected Run to surface the recovered panic as an error")
	}
	var ie *InvariantError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InvariantError, got %T (%v)", err, err)
	}
	var fue *classes.FrameUnderflowError
	if !errors.As(ie, &fue) {
		t.Fatalf("expected InvariantError to unwrap to *classes.FrameUnderflowError, got %v", ie.Cause)
	}
}

func TestReportReflectsCurrentClassState(t *testing.T) {
	ec, err := New(context.Background(), samplePolicy(), nil, nil, Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ec.Classes.AddHard("linux")

	doc := ec.Report()
	found := false
	for _, c := range doc.Classes.Hard {
		if c == "linux" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected linux in report's hard classes, got %v", doc.Classes.Hard)
	}
}
