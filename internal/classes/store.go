// Package classes implements C3, the class (context) store: hard,
// soft-global, soft-bundle-local and negated partitions, abort-class
// matching, and persistent classes backed by C1's state store.
//
// Grounded on original_source/libpromises/env_context.c: NewClass,
// HardClass, DeleteClass, DeleteHardClass, NewPersistentContext,
// LoadPersistentContext, PushPrivateClassContext/PopPrivateClassContext.
// The C implementation keeps these as global AlphaLists (VHEAP,
// VHARDHEAP, VADDCLASSES, VNEGHEAP) and a linked-list scope stack
// (PRIVCLASSHEAP); per spec.md §9 this is replaced by an explicit Store
// value with ordered maps and a frame slice instead of global state and
// a linked list.
package classes

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/kv"
	"github.com/cfengine-go/promise-engine/internal/logging"
)

// AbortError signals that adding a class triggered an abort policy.
// C3 returns it only with Kind ErrAbort (agent-wide); an abort-bundle
// match sets the BundleAborted flag instead of returning an error.
type AbortError struct {
	Kind  domain.ErrorKind
	Class string
}

func (e *AbortError) Error() string {
	return e.Kind.String() + ": triggered by class " + e.Class
}

// FrameUnderflowError marks the evaluator invariant breach of popping a
// bundle-local class frame with none pushed. PopFrame panics with this
// rather than silently no-opping: every PushFrame/PopFrame pair is
// scheduler-owned (spec.md §4.8's defer-paired push/pop), so an
// underflow here can only mean a bug in the evaluator itself, the one
// condition spec.md §7 allows to abort abnormally.
type FrameUnderflowError struct{}

func (e *FrameUnderflowError) Error() string {
	return "classes: PopFrame called with no frame pushed"
}

// frame is one bundle-local scope of the soft partition. Replaces the
// C implementation's PRIVCLASSHEAP linked list (spec.md §9: "linked
// list scopes -> ordered map stack").
type frame struct {
	bundle string
	soft   map[string]bool
}

// Store is the class store for one agent run. Not safe for concurrent
// use without external synchronization; spec.md §5 puts class-store
// access inside the same critical section that guards evaluation.
type Store struct {
	hard    map[string]bool
	global  map[string]bool // soft, bundle-independent (namespace-qualified key)
	negated map[string]bool
	frames  []frame

	abortAgent  []*regexp.Regexp
	abortBundle []*regexp.Regexp

	bundleAborted bool

	persist kv.Handle // nil disables persistence
}

func NewStore() *Store {
	return &Store{
		hard:    make(map[string]bool),
		global:  make(map[string]bool),
		negated: make(map[string]bool),
	}
}

// WithPersistence attaches the `state` KV handle used by
// persistent-class load/save (spec.md §4.3's last paragraph).
func (s *Store) WithPersistence(h kv.Handle) *Store {
	s.persist = h
	return s
}

// Canonicalize maps non-alphanumeric characters (including '.') to
// '_', the storage-key normalization every add/remove/contains funnels
// through (spec.md §4.3: "Names are canonicalised ... before storage").
func Canonicalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func qualify(ns, name string) string {
	if ns == "" || ns == "default" {
		return name
	}
	return ns + ":" + name
}

// SetAbortClasses configures the regexes that terminate the agent or
// the current bundle when a matching class is defined.
func (s *Store) SetAbortClasses(agent, bundle []string) {
	s.abortAgent = compileAll(agent)
	s.abortBundle = compileAll(bundle)
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		} else {
			logging.Op().Warn("classes: invalid abort pattern, ignoring", "pattern", p, "error", err)
		}
	}
	return out
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// checkAbort applies the abort-agent/abort-bundle policy for a
// newly-defined class, mirroring NewClass/HardClass's IsRegexItemIn
// checks against ABORTHEAP/ABORTBUNDLEHEAP.
func (s *Store) checkAbort(canon string) error {
	if anyMatch(s.abortAgent, canon) {
		return &AbortError{Kind: domain.ErrAbort, Class: canon}
	}
	if anyMatch(s.abortBundle, canon) {
		s.bundleAborted = true
	}
	return nil
}

// BundleAborted reports whether an abort-bundle class has fired since
// the last PushFrame, queried by C8 after every promise.
func (s *Store) BundleAborted() bool {
	return s.bundleAborted
}

// AddHard adds to the hard (agent-defined, non-namespaced) partition.
func (s *Store) AddHard(name string) error {
	canon := Canonicalize(name)
	if canon == "" {
		return nil
	}
	if err := s.checkAbort(canon); err != nil {
		return err
	}
	s.hard[canon] = true
	return nil
}

// DeleteHardClass removes only from the hard partition. Per the
// original's DeleteHardClass (and spec.md §9's fixed-bug directive), it
// never consults a namespace: the hard partition has none.
func (s *Store) DeleteHardClass(name string) {
	delete(s.hard, Canonicalize(name))
}

// AddSoft adds to the soft global partition, namespace-qualified. It
// never writes a persistent record; see AddSoftPersistent.
func (s *Store) AddSoft(name, ns string) error {
	return s.addSoft(name, ns, 0, false)
}

// AddSoftPersistent is AddSoft (default namespace) plus TTL
// bookkeeping: persistMinutes > 0 writes the persistent record to the
// state store immediately. Used by the audit.ClassSink adapter
// (ClassSinkAdapter in audit_sink.go).
func (s *Store) AddSoftPersistent(name string, persistMinutes int, timerReset bool) error {
	return s.addSoft(name, "", persistMinutes, timerReset)
}

func (s *Store) addSoft(name, ns string, persistMinutes int, timerReset bool) error {
	canon := Canonicalize(name)
	if canon == "" {
		return nil
	}
	key := qualify(ns, canon)
	if err := s.checkAbort(canon); err != nil {
		return err
	}
	s.global[key] = true
	if persistMinutes > 0 && s.persist != nil {
		policy := policyAbsolute
		if timerReset {
			policy = policyReset
		}
		s.savePersistent(context.Background(), key, time.Duration(persistMinutes)*time.Minute, policy)
	}
	return nil
}

// AddSoftBundleLocal adds to the current bundle frame's soft partition
// (falls back to global if no frame is pushed), used by the "classes"
// actuator when a class promise's expression evaluates true.
func (s *Store) AddSoftBundleLocal(name string) error {
	canon := Canonicalize(name)
	if canon == "" {
		return nil
	}
	if err := s.checkAbort(canon); err != nil {
		return err
	}
	if len(s.frames) == 0 {
		s.global[canon] = true
		return nil
	}
	s.frames[len(s.frames)-1].soft[canon] = true
	return nil
}

// AddNegated marks a class as explicitly negated (`!name` in a context
// assignment list), which Contains treats as an override even if the
// name is separately present in hard/soft/global.
func (s *Store) AddNegated(name string) {
	s.negated[Canonicalize(name)] = true
}

// Remove deletes a class from whichever partition holds it: the
// current bundle frame, then global soft, then negated. Hard classes
// are untouched (use DeleteHardClass explicitly).
func (s *Store) Remove(name string) {
	canon := Canonicalize(name)
	if len(s.frames) > 0 {
		delete(s.frames[len(s.frames)-1].soft, canon)
	}
	delete(s.global, canon)
	delete(s.negated, canon)
}

// Contains checks hard (unqualified), then bundle-local soft, then
// qualified global soft, respecting negation throughout.
func (s *Store) Contains(name, ns string) bool {
	canon := Canonicalize(name)
	if s.negated[canon] {
		return false
	}
	if s.hard[canon] {
		return true
	}
	if len(s.frames) > 0 && s.frames[len(s.frames)-1].soft[canon] {
		return true
	}
	if s.global[qualify(ns, canon)] {
		return true
	}
	return s.global[canon]
}

// Match returns every class name across all partitions matching re.
func (s *Store) Match(re *regexp.Regexp) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] && re.MatchString(name) {
			seen[name] = true
			out = append(out, name)
		}
	}
	for name := range s.hard {
		add(name)
	}
	for name := range s.global {
		add(name)
	}
	if len(s.frames) > 0 {
		for name := range s.frames[len(s.frames)-1].soft {
			add(name)
		}
	}
	return out
}

// Negated returns every explicitly negated class name, used by
// internal/report's flat classes listing.
func (s *Store) Negated() []string {
	out := make([]string, 0, len(s.negated))
	for name := range s.negated {
		out = append(out, name)
	}
	return out
}

// Iter returns all class names in the given partition: "hard",
// "global", or "local" (current frame).
func (s *Store) Iter(partition string) []string {
	var m map[string]bool
	switch partition {
	case "hard":
		m = s.hard
	case "local":
		if len(s.frames) > 0 {
			m = s.frames[len(s.frames)-1].soft
		}
	default:
		m = s.global
	}
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	return out
}

// PushFrame enters a new bundle-local scope. inheritPrevious copies the
// outgoing frame's soft set into the new one, matching
// PushPrivateClassContext(inherit).
func (s *Store) PushFrame(bundle string, inheritPrevious bool) {
	f := frame{bundle: bundle, soft: make(map[string]bool)}
	if inheritPrevious && len(s.frames) > 0 {
		for name := range s.frames[len(s.frames)-1].soft {
			f.soft[name] = true
		}
	}
	s.frames = append(s.frames, f)
	s.bundleAborted = false
}

// PopFrame leaves the current bundle-local scope. Panics with
// FrameUnderflowError if no frame is pushed — see its doc comment.
func (s *Store) PopFrame() {
	if len(s.frames) == 0 {
		panic(&FrameUnderflowError{})
	}
	s.frames = s.frames[:len(s.frames)-1]
}
