// Package evalctx finishes the migration spec.md §9 calls for: the
// original tree's global mutable state (open VSCOPE/VHEAP/VADDCLASSES/
// CFLOCK strings, PROMISE_ID_LIST, AUDITPTR) replaced by one explicit
// value owned by the scheduler and threaded through every call site,
// continuing the later source's own partial "EvalContext with Seq
// *stack" migration rather than inventing a new shape from scratch.
//
// Context is that value: it owns C1-backed C3/C7 state, C2's audit
// sink, and C10's actuator registry for a single agent run, and
// assembles a *scheduler.Scheduler (C8) wired to all of them plus the
// loaded policy.
package evalctx

import (
	"context"
	"fmt"

	"github.com/cfengine-go/promise-engine/internal/actuator"
	"github.com/cfengine-go/promise-engine/internal/audit"
	"github.com/cfengine-go/promise-engine/internal/classes"
	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/kv"
	"github.com/cfengine-go/promise-engine/internal/lock"
	"github.com/cfengine-go/promise-engine/internal/report"
	"github.com/cfengine-go/promise-engine/internal/scheduler"
	"github.com/cfengine-go/promise-engine/internal/vars"
)

// Config holds the run-level settings that used to live in scattered
// globals or command-line statics in the original tree.
type Config struct {
	HostIdentity         string
	LogDir               string
	MaxDependsOnPasses   int
	IgnoreMissingBundles bool
	AgentType            string
	AbortAgentClasses    []string
	AbortBundleClasses   []string
	LogPolicy            audit.LogPolicy
	DisableLocking       bool // the `-K` CLI flag
	DisablePersistence   bool // skips the state store; no CLI flag sets it
}

// Context is the single explicit value threaded through one agent
// run, replacing the original's global scope/class/lock state.
type Context struct {
	Policy    *domain.Policy
	Classes   *classes.Store
	Vars      *vars.Store
	Audit     *audit.Sink
	Lock      *lock.Manager // nil when Config.DisableLocking
	Actuators *actuator.Registry

	cfg Config
}

// New assembles a Context for one agent run over policy. store
// supplies C1-backed persistence for classes (DBState) and locking
// (DBLocks); a nil store runs fully in-memory with locking disabled
// regardless of cfg.DisableLocking, matching spec.md §7's
// store-unavailable degrade policy.
func New(ctx context.Context, policy *domain.Policy, store kv.Store, critical lock.CriticalSection, cfg Config) (*Context, error) {
	cs := classes.NewStore()
	cs.SetAbortClasses(cfg.AbortAgentClasses, cfg.AbortBundleClasses)

	logPolicy := cfg.LogPolicy
	if logPolicy == (audit.LogPolicy{}) {
		logPolicy = audit.DefaultLogPolicy()
	}

	ec := &Context{
		Policy:    policy,
		Classes:   cs,
		Vars:      vars.NewStore(),
		Audit:     audit.NewSink(logPolicy),
		Actuators: actuator.NewRegistry(),
		cfg:       cfg,
	}
	ec.Actuators.Register("classes", &actuator.ClassesActuator{Store: cs, Resolver: cs})

	if store == nil {
		return ec, nil
	}

	if !cfg.DisablePersistence {
		classesHandle, err := store.Open(ctx, kv.DBState)
		if err != nil {
			return nil, fmt.Errorf("evalctx: open state store: %w", err)
		}
		cs.WithPersistence(classesHandle)
	}

	if !cfg.DisableLocking {
		locksHandle, err := store.Open(ctx, kv.DBLocks)
		if err != nil {
			return nil, fmt.Errorf("evalctx: open locks store: %w", err)
		}
		if critical == nil {
			critical = &lock.MutexCriticalSection{}
		}
		ec.Lock = lock.NewManager(locksHandle, critical, cfg.LogDir)
	}

	return ec, nil
}

// Scheduler builds C8 wired to this Context: the classes store doubles
// as both the class-expression resolver (C4) and the audit.ClassSink
// C2 applies classes-on-outcome through.
func (ec *Context) Scheduler() *scheduler.Scheduler {
	return &scheduler.Scheduler{
		Policy:               ec.Policy,
		Classes:              ec.Classes,
		Vars:                 ec.Vars,
		Actuators:            ec.Actuators,
		AuditSink:            ec.Audit,
		ClassSink:            classes.ClassSinkAdapter{Store: ec.Classes},
		Lock:                 ec.Lock,
		HostIdentity:         ec.cfg.HostIdentity,
		MaxDependsOnPasses:   ec.cfg.MaxDependsOnPasses,
		IgnoreMissingBundles: ec.cfg.IgnoreMissingBundles,
		AgentType:            ec.cfg.AgentType,
	}
}

// Run drives one full agent pass over the loaded policy. A panic
// raised anywhere in the pass is an evaluator invariant breach (spec.md
// §7: "bugs in the evaluator itself ... are the only conditions that
// abort abnormally") rather than a policy-caused condition, so it is
// recovered here — the scheduler's top-level sink — and reported back
// as an *InvariantError instead of crashing the process.
func (ec *Context) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InvariantError{Cause: r}
		}
	}()
	return ec.Scheduler().Run(ctx)
}

// InvariantError wraps a recovered panic from one agent pass: a bug in
// the evaluator itself, not a policy-caused condition.
type InvariantError struct {
	Cause any
}

func (e *InvariantError) Error() string {
	if err, ok := e.Cause.(error); ok {
		return fmt.Sprintf("evalctx: invariant breach: %v", err)
	}
	return fmt.Sprintf("evalctx: invariant breach: %v", e.Cause)
}

// Unwrap exposes the recovered error, if the panic value was one, so
// callers can errors.As/errors.Is against it (e.g. *classes.FrameUnderflowError).
func (e *InvariantError) Unwrap() error {
	err, _ := e.Cause.(error)
	return err
}

// Report builds C11's document over this Context's current policy,
// classes, and variable state. Safe to call before, during (between
// bundles), or after Run.
func (ec *Context) Report() *report.Document {
	return report.Build(ec.Policy, ec.Classes, ec.Vars)
}
