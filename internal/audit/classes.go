package audit

import "github.com/cfengine-go/promise-engine/internal/domain"

// ClassSink is the narrow slice of internal/classes.Store that the
// audit sink needs to apply a promise's `classes` constraint body
// (spec.md §4.2: "classes to add on that outcome") without importing
// internal/classes directly; internal/classes.ClassSinkAdapter
// implements it.
type ClassSink interface {
	AddSoft(name string, persistMinutes int, timerReset bool)
	Remove(name string)
}

// OutcomeClasses is the parsed `classes` constraint body, matching
// CF_DEFINECLASS_BODY's attribute names (original_source/src/mod_common.c):
// promise_kept/promise_repaired/repair_failed/repair_denied/repair_timeout
// to define, and cancel_kept/cancel_repaired/cancel_notkept to cancel —
// a single consolidated cancel_notkept covers every not-kept outcome
// (failed, denied, timeout, interrupted), it is not split per outcome.
type OutcomeClasses struct {
	Kept, Repaired, RepairFailed, RepairDenied, RepairTimeout []string
	CancelKept, CancelRepaired, CancelNotKept                 []string
	PersistMinutes                                            int
	TimerReset                                                bool // timer_policy == "reset"; false means "absolute"
}

func (oc OutcomeClasses) forOutcome(o domain.Outcome) (add, cancel []string) {
	switch o {
	case domain.OutcomeKept:
		return oc.Kept, oc.CancelKept
	case domain.OutcomeRepaired:
		return oc.Repaired, oc.CancelRepaired
	case domain.OutcomeFailed:
		return oc.RepairFailed, oc.CancelNotKept
	case domain.OutcomeDenied:
		return oc.RepairDenied, oc.CancelNotKept
	case domain.OutcomeTimeout, domain.OutcomeInterrupted:
		return oc.RepairTimeout, oc.CancelNotKept
	default:
		return nil, nil
	}
}

// ApplyOutcomeClasses defines/cancels classes for the record's final
// outcome against sink. Call once per folded terminal record, not per
// intermediate fold step, since classes.promise_kept et al. describe
// the promise's end state for this run.
func ApplyOutcomeClasses(sink ClassSink, r *Record, oc OutcomeClasses) {
	add, cancel := oc.forOutcome(r.Outcome)
	for _, name := range add {
		sink.AddSoft(name, oc.PersistMinutes, oc.TimerReset)
	}
	for _, name := range cancel {
		sink.Remove(name)
	}
}
