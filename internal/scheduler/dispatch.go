package scheduler

import (
	"context"
	"sort"
	"strings"

	"github.com/cfengine-go/promise-engine/internal/audit"
	"github.com/cfengine-go/promise-engine/internal/constraint"
	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/iteration"
	"github.com/cfengine-go/promise-engine/internal/lock"
	"github.com/cfengine-go/promise-engine/internal/logging"
)

// defaultIfElapsed/defaultExpireAfter apply when a promise's transaction
// body omits them; these are this package's own conservative choice
// (spec.md names the two attributes but never states a default), picked
// so a bare promise never rate-limits and seizes a stale lock reasonably
// quickly rather than waiting indefinitely.
const (
	defaultIfElapsed   = 0
	defaultExpireAfter = 10
)

// buildDispatch wires C7 (lock), C10 (actuator registry), C2 (audit),
// and C3 (classes-on-outcome) around the actuator call, matching the
// data-flow sketch of spec.md §2: "C7 acquires a lock → C10 dispatches
// to an actuator → results flow to C2 and set classes in C3".
func (s *Scheduler) buildDispatch(ctx context.Context) iteration.Dispatch {
	return func(p domain.ConcretePromise) (domain.Outcome, error) {
		fp := lock.Fingerprint(s.fingerprintInput(p))

		var h *lock.Handle
		if s.Lock != nil {
			ifElapsed, expireAfter := transactionTiming(p)
			acquired, err := s.Lock.Acquire(ctx, fp, ifElapsed, expireAfter)
			if err != nil {
				switch err.(type) {
				case *lock.DuplicateError, *lock.RateLimitedError, *lock.BusyError:
					// spec.md §7: neither kept nor repaired, returns silently.
					return domain.OutcomeNone, nil
				case *lock.CouldNotExpireError:
					rec := s.AuditSink.Record(fp, p, domain.OutcomeFailed, err.Error())
					s.applyClassesOnOutcome(p, rec)
					return domain.OutcomeFailed, nil
				default:
					return domain.OutcomeNone, err
				}
			}
			h = acquired
		}

		outcome, msg, actErr := s.Actuators.Dispatch(ctx, p)
		if actErr != nil {
			logging.Op().Warn("actuator error", "type", p.Type, "promiser", p.Promiser, "error", actErr)
			if outcome == domain.OutcomeNone {
				outcome = domain.OutcomeFailed
			}
			msg = actErr.Error()
		}

		rec := s.AuditSink.Record(fp, p, outcome, msg)
		s.applyClassesOnOutcome(p, rec)

		if h != nil {
			if err := s.Lock.Release(ctx, h, outcome); err != nil {
				logging.Op().Warn("lock release failed", "fingerprint", fp, "error", err)
			}
		}

		return outcome, actErr
	}
}

func (s *Scheduler) applyClassesOnOutcome(p domain.ConcretePromise, rec *audit.Record) {
	if s.ClassSink == nil {
		return
	}
	audit.ApplyOutcomeClasses(s.ClassSink, rec, outcomeClassesFromConstraints(p))
}

// fingerprintInput builds C7's fingerprint input from a concrete
// promise. Every constraint l-value is treated as lock-relevant (a
// conservative superset of the "subset ... declared lock-relevant"
// spec.md §4.7 describes) since nothing in this promise-type-agnostic
// core declares, per type, which l-values matter for lock identity; the
// sort before hashing still gives fingerprint-stability under
// constraint reordering regardless.
func (s *Scheduler) fingerprintInput(p domain.ConcretePromise) domain.FingerprintInput {
	lvals := make([]string, 0, len(p.Constraints))
	for k := range p.Constraints {
		lvals = append(lvals, k)
	}
	sort.Strings(lvals)

	parts := make([]string, 0, len(lvals))
	for _, k := range lvals {
		parts = append(parts, k+"="+p.Constraints[k].Rval.String())
	}

	return domain.FingerprintInput{
		Bundle:           p.Bundle,
		Type:             p.Type,
		LockRelevantLval: lvals,
		Promiser:         p.Promiser,
		RemainingText:    strings.Join(parts, ";"),
		HostIdentity:     s.HostIdentity,
	}
}

func transactionTiming(p domain.ConcretePromise) (ifElapsed, expireAfter int) {
	ifElapsed, expireAfter = defaultIfElapsed, defaultExpireAfter
	if c, ok := p.Constraints["ifelapsed"]; ok {
		if v, err := constraint.GetInt(c); err == nil {
			ifElapsed = int(v)
		}
	}
	if c, ok := p.Constraints["expireafter"]; ok {
		if v, err := constraint.GetInt(c); err == nil {
			expireAfter = int(v)
		}
	}
	return
}

// outcomeClassesFromConstraints extracts the `classes` promise-common
// attributes (spec.md §6) from a concrete promise's flattened
// constraint set.
func outcomeClassesFromConstraints(p domain.ConcretePromise) audit.OutcomeClasses {
	list := func(lval string) []string {
		c, ok := p.Constraints[lval]
		if !ok {
			return nil
		}
		if vals, err := constraint.GetList(c); err == nil {
			out := make([]string, 0, len(vals))
			for _, v := range vals {
				if sc, ok := v.AsScalar(); ok {
					out = append(out, sc)
				}
			}
			return out
		}
		if sc, ok := c.Rval.AsScalar(); ok && sc != "" {
			return []string{sc}
		}
		return nil
	}

	oc := audit.OutcomeClasses{
		Kept:           list("promise_kept"),
		Repaired:       list("promise_repaired"),
		RepairFailed:   list("repair_failed"),
		RepairDenied:   list("repair_denied"),
		RepairTimeout:  list("repair_timeout"),
		CancelKept:     list("cancel_kept"),
		CancelRepaired: list("cancel_repaired"),
		CancelNotKept:  list("cancel_notkept"),
	}
	if c, ok := p.Constraints["persist_time"]; ok {
		if v, err := constraint.GetInt(c); err == nil {
			oc.PersistMinutes = int(v)
		}
	}
	if c, ok := p.Constraints["timer_policy"]; ok {
		if sc, ok := c.Rval.AsScalar(); ok && sc == "reset" {
			oc.TimerReset = true
		}
	}
	return oc
}
