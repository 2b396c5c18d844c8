// Package scheduler implements C8, the bundle scheduler: runs the
// configured bundlesequence, pushes/pops bundle-local class and
// variable frames, resolves depends_on across fixed-point passes, and
// detects abort/abortbundle conditions raised by C3.
//
// Grounded on oriys-nova/internal/workflow/engine.go's advanceDAG /
// dependency-decrement / re-poll loop, which is the direct analogue of
// "re-tried in a later pass ... up to N passes or until a fixed point"
// (spec.md §4.8).
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/cfengine-go/promise-engine/internal/actuator"
	"github.com/cfengine-go/promise-engine/internal/audit"
	"github.com/cfengine-go/promise-engine/internal/classes"
	"github.com/cfengine-go/promise-engine/internal/classexpr"
	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/iteration"
	"github.com/cfengine-go/promise-engine/internal/lock"
	"github.com/cfengine-go/promise-engine/internal/logging"
	"github.com/cfengine-go/promise-engine/internal/vars"
)

// MissingBundleError is a policy error unless IgnoreMissingBundles is set.
type MissingBundleError struct {
	Name string
}

func (e *MissingBundleError) Error() string {
	return fmt.Sprintf("bundlesequence: bundle %q not found", e.Name)
}

// Scheduler is C8, wired to every component it drives per the data-flow
// sketch of spec.md §2: C9 (via iteration.Engine), C4/C5 (guards and
// expansion), C6 (iteration), C7 (locking, optional), C10 (dispatch),
// C2 (audit), C3 (classes).
type Scheduler struct {
	Policy    *domain.Policy
	Classes   *classes.Store
	Vars      *vars.Store
	Actuators *actuator.Registry
	AuditSink *audit.Sink
	ClassSink audit.ClassSink // nil disables classes-on-outcome wiring

	// Lock is C7; nil bypasses locking entirely (the `-K` CLI flag).
	Lock *lock.Manager

	HostIdentity         string
	MaxDependsOnPasses   int // default 5 if <= 0
	IgnoreMissingBundles bool
	AgentType            string // "agent", "common", ... gates bundle-type matching
}

func (s *Scheduler) maxPasses() int {
	if s.MaxDependsOnPasses <= 0 {
		return 5
	}
	return s.MaxDependsOnPasses
}

// Run executes the full bundlesequence (spec.md §4.8).
func (s *Scheduler) Run(ctx context.Context) error {
	for _, entry := range s.Policy.BundleSequence {
		if err := s.runEntry(ctx, entry); err != nil {
			if ae, ok := err.(*classes.AbortError); ok && ae.Kind == domain.ErrAbort {
				logging.Op().Error("agent aborted", "class", ae.Class)
				return err
			}
			return err
		}
	}
	return nil
}

func (s *Scheduler) runEntry(ctx context.Context, entry domain.BundleSequenceEntry) error {
	bundle, ok := s.Policy.FindBundle(entry.Bundle, "")
	if !ok {
		if s.IgnoreMissingBundles {
			logging.Op().Warn("bundlesequence: ignoring missing bundle", "bundle", entry.Bundle)
			return nil
		}
		return &MissingBundleError{Name: entry.Bundle}
	}
	if bundle.Type != s.AgentType && bundle.Type != "common" && s.AgentType != "" {
		logging.Op().Debug("bundlesequence: skipping bundle of non-matching type", "bundle", bundle.Name, "type", bundle.Type)
		return nil
	}

	s.Classes.PushFrame(bundle.Name, false)
	defer s.Classes.PopFrame()

	s.Vars.NewScope(bundle.Name)
	if err := s.augmentArgs(bundle, entry.Args); err != nil {
		return err
	}

	return s.runBundle(ctx, bundle)
}

func (s *Scheduler) augmentArgs(bundle *domain.Bundle, actuals []domain.Value) error {
	if len(bundle.Formals) == 0 {
		return nil
	}
	listFormals := make(map[string]bool)
	for i, v := range actuals {
		if i < len(bundle.Formals) && v.IsList() {
			listFormals[bundle.Formals[i]] = true
		}
	}
	return s.Vars.Augment(bundle.Name, bundle.Formals, actuals, listFormals)
}

// runBundle walks subtypes in canonical order, running up to
// maxPasses() fixed-point passes to resolve depends_on chains
// (spec.md §4.8 step 4).
func (s *Scheduler) runBundle(ctx context.Context, bundle *domain.Bundle) error {
	blocks := orderedSubtypes(bundle)
	attempted := make(map[*domain.Promise]bool) // every promise is attempted at most once per bundle run
	done := make(map[string]bool)               // handles that have completed, for depends_on

	iterEngine := iteration.New(s.Vars, s.classResolver())
	dispatch := s.buildDispatch(ctx)

	for pass := 0; pass < s.maxPasses(); pass++ {
		progressed := false

		for _, block := range blocks {
			for i := range block.Promises {
				p := block.Promises[i]
				key := &block.Promises[i]

				if attempted[key] || (p.Handle != "" && done[p.Handle]) {
					continue
				}
				if !s.guardTrue(p.ClassGuard) {
					if p.Handle != "" {
						done[p.Handle] = true
					}
					continue
				}
				if !depsSatisfied(p.DependsOn, done) {
					continue // retry in a later pass
				}

				_, errs := iterEngine.Expand(p, bundle.Name, bundle.Namespace, dispatch)
				for _, err := range errs {
					logging.Op().Warn("promise iteration error", "bundle", bundle.Name, "promiser", p.Promiser, "error", err)
					if ae, ok := err.(*classes.AbortError); ok && ae.Kind == domain.ErrAbort {
						return ae
					}
				}

				attempted[key] = true
				if p.Handle != "" {
					done[p.Handle] = true
				}
				progressed = true

				if s.Classes.BundleAborted() {
					logging.Op().Warn("bundle aborted", "bundle", bundle.Name)
					return nil
				}
			}
		}

		if !progressed {
			break
		}
	}
	return nil
}

func (s *Scheduler) guardTrue(guard string) bool {
	if guard == "" {
		return true
	}
	expr, err := classexpr.Parse(guard)
	if err != nil {
		logging.Op().Warn("class guard parse error", "expression", guard, "error", err)
		return false
	}
	return expr.Eval(s.classResolver())
}

func (s *Scheduler) classResolver() classexpr.Resolver {
	return s.Classes
}

func depsSatisfied(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

// orderedSubtypes stable-sorts bundle.Subtypes by CanonicalOrder(bundle.Type),
// leaving unrecognized subtypes in their original relative order,
// after every recognized one.
func orderedSubtypes(bundle *domain.Bundle) []domain.SubtypeBlock {
	idx := orderIndex(CanonicalOrder(bundle.Type))
	blocks := make([]domain.SubtypeBlock, len(bundle.Subtypes))
	copy(blocks, bundle.Subtypes)
	sort.SliceStable(blocks, func(i, j int) bool {
		oi, oki := idx[blocks[i].Subtype]
		oj, okj := idx[blocks[j].Subtype]
		if oki && okj {
			return oi < oj
		}
		return oki && !okj
	})
	return blocks
}
