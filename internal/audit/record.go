// Package audit is the C2 promise-result sink: it turns a promise
// evaluation into an audit record, folds repeated outcomes for the same
// promise within one agent run, and decides what gets logged at which
// verbosity (spec.md §4.2, §6). Record shape is grounded on
// oriys-nova/internal/domain/workflow.go's NodeAttempt, and the
// fold/suppress bookkeeping is grounded on internal/workflow/engine.go's
// attempt lifecycle (create attempt, run, update attempt with the
// terminal status).
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/logging"
)

// Record is one promise-iteration result.
type Record struct {
	ID         string
	Fingerprint string
	Bundle     string
	Namespace  string
	Type       string
	Promiser   string
	Handle     string
	Outcome    domain.Outcome
	Message    string
	Origin     domain.Origin
	StartedAt  time.Time
	FinishedAt time.Time
}

// LogPolicy controls which outcomes actually produce a log line,
// mirroring the agent's log_kept/log_repaired/log_failed/log_string
// attributes (spec.md §4.2).
type LogPolicy struct {
	LogKept     bool
	LogRepaired bool
	LogFailed   bool
	LogString   string // carried from configuration; the sink's own logging does not consult it
}

func DefaultLogPolicy() LogPolicy {
	return LogPolicy{LogRepaired: true, LogFailed: true}
}

// Sink accumulates records for one agent run, folding outcomes of
// repeated evaluations of the same promise fingerprint (e.g. across
// iteration re-tries within a bundle pass) into a single terminal
// outcome per spec.md §8's Audit fold property.
type Sink struct {
	policy  LogPolicy
	byFP    map[string]*Record
	order   []string
	classes []string // classes queued to be added once the run's records are folded
}

func NewSink(policy LogPolicy) *Sink {
	return &Sink{policy: policy, byFP: make(map[string]*Record)}
}

// Record folds a new outcome into the sink. If a record for this
// fingerprint already exists, its Outcome is folded per domain.Fold and
// its FinishedAt/Message are updated; otherwise a new record is created.
func (s *Sink) Record(fp string, promise domain.ConcretePromise, outcome domain.Outcome, message string) *Record {
	if existing, ok := s.byFP[fp]; ok {
		existing.Outcome = domain.Fold(existing.Outcome, outcome)
		existing.Message = message
		existing.FinishedAt = now()
		s.log(existing)
		return existing
	}

	r := &Record{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		Bundle:      promise.Bundle,
		Namespace:   promise.Namespace,
		Type:        promise.Type,
		Promiser:    promise.Promiser,
		Handle:      promise.Handle,
		Outcome:     outcome,
		Message:     message,
		Origin:      promise.Origin,
		StartedAt:   now(),
		FinishedAt:  now(),
	}
	s.byFP[fp] = r
	s.order = append(s.order, fp)
	s.log(r)
	return r
}

// now is a seam over time.Now so tests can stub determinism; production
// code always calls it unwrapped.
var now = time.Now

func (s *Sink) log(r *Record) {
	lvl := s.shouldLog(r)
	if lvl == "" {
		return
	}
	attrs := []any{
		"bundle", r.Bundle, "type", r.Type, "promiser", r.Promiser,
		"outcome", r.Outcome.String(), "fingerprint", r.Fingerprint,
	}
	if r.Message != "" {
		attrs = append(attrs, "message", r.Message)
	}
	switch lvl {
	case "error":
		logging.Op().Error("promise "+r.Outcome.String(), attrs...)
	case "warn":
		logging.Op().Warn("promise "+r.Outcome.String(), attrs...)
	default:
		logging.Op().Info("promise "+r.Outcome.String(), attrs...)
	}
}

func (s *Sink) shouldLog(r *Record) string {
	switch r.Outcome {
	case domain.OutcomeKept:
		if s.policy.LogKept {
			return "info"
		}
	case domain.OutcomeRepaired:
		if s.policy.LogRepaired {
			return "info"
		}
	case domain.OutcomeFailed, domain.OutcomeDenied:
		if s.policy.LogFailed {
			return "warn"
		}
	case domain.OutcomeTimeout, domain.OutcomeInterrupted:
		return "error"
	case domain.OutcomeWarn:
		return "warn"
	}
	return ""
}

// Records returns all folded records in insertion order.
func (s *Sink) Records() []*Record {
	out := make([]*Record, 0, len(s.order))
	for _, fp := range s.order {
		out = append(out, s.byFP[fp])
	}
	return out
}

// Summary folds every record's outcome into one run-level outcome,
// starting from kept. cmd/cfagent does not derive its exit code from
// it; the exit code comes from the run's error alone.
func (s *Sink) Summary() domain.Outcome {
	acc := domain.OutcomeKept
	for _, fp := range s.order {
		acc = domain.Fold(acc, s.byFP[fp].Outcome)
	}
	return acc
}
