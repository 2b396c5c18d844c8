package lock

import (
	"context"
	"testing"
	"time"

	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/kv"
)

func newTestManager(t *testing.T) (*Manager, kv.Handle) {
	t.Helper()
	store := kv.NewMemStore()
	h, err := store.Open(context.Background(), kv.DBLocks)
	if err != nil {
		t.Fatalf("open locks handle: %v", err)
	}
	return NewManager(h, &MutexCriticalSection{}, ""), h
}

func withClock(t *testing.T, start time.Time) func() {
	t.Helper()
	orig := now
	cur := start
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = orig })
	return func() { cur = cur.Add(time.Minute) }
}

func TestFingerprintStableAcrossConstraintReordering(t *testing.T) {
	in1 := domain.FingerprintInput{
		Type: "files", Bundle: "b", Promiser: "/etc/passwd",
		LockRelevantLval: []string{"mode", "owner"},
	}
	in2 := domain.FingerprintInput{
		Type: "files", Bundle: "b", Promiser: "/etc/passwd",
		LockRelevantLval: []string{"owner", "mode"},
	}
	if Fingerprint(in1) != Fingerprint(in2) {
		t.Fatalf("fingerprint not invariant under lval reordering")
	}
}

func TestFingerprintStableAcrossDateSubstitution(t *testing.T) {
	in1 := domain.FingerprintInput{Type: "classes", Bundle: "b", Promiser: "backup run on Monday 2024"}
	in2 := domain.FingerprintInput{Type: "classes", Bundle: "b", Promiser: "backup run on Tuesday 2025"}
	if Fingerprint(in1) != Fingerprint(in2) {
		t.Fatalf("fingerprint should be invariant under date-like substring substitution")
	}
}

func TestFingerprintIsPrefixTaggedByType(t *testing.T) {
	fp := Fingerprint(domain.FingerprintInput{Type: "files", Promiser: "x"})
	if fp[:6] != "files:" {
		t.Fatalf("got %q, want files: prefix", fp)
	}
}

func TestAcquireThenReleaseAllowsNextAcquireOnlyAfterIfElapsed(t *testing.T) {
	m, _ := newTestManager(t)
	tick := withClock(t, time.Unix(1000, 0))
	ctx := context.Background()

	h, err := m.Acquire(ctx, "fp1", 10, 60)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := m.Release(ctx, h, domain.OutcomeKept); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Clear fp1 from the "done" set, which would otherwise mark it as
	// already attempted this run.
	m.mu.Lock()
	delete(m.done, "fp1")
	m.mu.Unlock()

	tick() // +1 minute, ifelapsed=10 not yet reached
	if _, err := m.Acquire(ctx, "fp1", 10, 60); err == nil {
		t.Fatalf("expected rate-limited error")
	} else if _, ok := err.(*RateLimitedError); !ok {
		t.Fatalf("expected *RateLimitedError, got %T", err)
	}
}

func TestAcquireSameFingerprintTwiceInOneRunIsDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Acquire(ctx, "fp1", 10, 60); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "fp1", 10, 60); err == nil {
		t.Fatalf("expected duplicate error")
	} else if _, ok := err.(*DuplicateError); !ok {
		t.Fatalf("expected *DuplicateError, got %T", err)
	}
}

func TestAcquireBusyWhenLiveHolderPresent(t *testing.T) {
	m, h := newTestManager(t)
	ctx := context.Background()
	rec := record{PID: 9999999, Time: now().Unix()}
	if err := h.Put(ctx, lockKey("fp1"), encodeRecord(rec)); err != nil {
		t.Fatalf("seed lock record: %v", err)
	}
	m.proc = fakeProc{alive: map[int]bool{9999999: true}}

	if _, err := m.Acquire(ctx, "fp1", 10, 60); err == nil {
		t.Fatalf("expected busy error")
	} else if be, ok := err.(*BusyError); !ok {
		t.Fatalf("expected *BusyError, got %T", err)
	} else if be.PID != 9999999 {
		t.Fatalf("got pid %d", be.PID)
	}
}

func TestAcquireSeizesStaleLockWhenHolderDeadAndExpired(t *testing.T) {
	m, h := newTestManager(t)
	ctx := context.Background()
	withClock(t, time.Unix(10_000, 0))
	staleTime := now().Add(-2 * time.Hour).Unix()
	rec := record{PID: 9999, Time: staleTime}
	if err := h.Put(ctx, lockKey("fp1"), encodeRecord(rec)); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}
	m.proc = fakeProc{alive: map[int]bool{}} // pid 9999 is absent

	handle, err := m.Acquire(ctx, "fp1", 10, 60) // expireafter=60min
	if err != nil {
		t.Fatalf("expected successful seizure, got %v", err)
	}
	if handle.Fingerprint != "fp1" {
		t.Fatalf("got %q", handle.Fingerprint)
	}
}

func TestAcquireCouldNotExpireWhenTerminationFails(t *testing.T) {
	m, h := newTestManager(t)
	ctx := context.Background()
	withClock(t, time.Unix(10_000, 0))
	staleTime := now().Add(-2 * time.Hour).Unix()
	rec := record{PID: 42, Time: staleTime}
	h.Put(ctx, lockKey("fp1"), encodeRecord(rec))
	m.proc = fakeProc{alive: map[int]bool{42: true}, terminateFails: true}

	if _, err := m.Acquire(ctx, "fp1", 10, 60); err == nil {
		t.Fatalf("expected could-not-expire error")
	} else if _, ok := err.(*CouldNotExpireError); !ok {
		t.Fatalf("expected *CouldNotExpireError, got %T", err)
	}
}

func TestInvalidateResetsIfElapsedGate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	withClock(t, time.Unix(1000, 0))

	h, err := m.Acquire(ctx, "fp1", 10, 60)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(ctx, h, domain.OutcomeFailed)
	if err := m.Invalidate(ctx, "fp1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	m.mu.Lock()
	delete(m.done, "fp1")
	m.mu.Unlock()

	if _, err := m.Acquire(ctx, "fp1", 10, 60); err != nil {
		t.Fatalf("expected acquire to succeed after invalidate, got %v", err)
	}
}

func TestPurgeRemovesEntriesOlderThanHorizon(t *testing.T) {
	m, h := newTestManager(t)
	ctx := context.Background()
	withClock(t, time.Unix(100_000_000, 0))

	oldRec := record{PID: 1, Time: now().Add(-5 * 7 * 24 * time.Hour).Unix()}
	freshRec := record{PID: 2, Time: now().Unix()}
	h.Put(ctx, "last.old-fp", encodeRecord(oldRec))
	h.Put(ctx, "last.fresh-fp", encodeRecord(freshRec))

	purged, err := m.Purge(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("got %d purged, want 1", purged)
	}
	if _, ok, _ := h.Get(ctx, "last.old-fp"); ok {
		t.Fatalf("old record should have been purged")
	}
	if _, ok, _ := h.Get(ctx, "last.fresh-fp"); !ok {
		t.Fatalf("fresh record should survive purge")
	}
}

type fakeProc struct {
	alive          map[int]bool
	terminateFails bool
}

func (f fakeProc) Alive(pid int) bool { return f.alive[pid] }
func (f fakeProc) Terminate(pid int) error {
	if f.terminateFails {
		return errTerminateFailed
	}
	delete(f.alive, pid)
	return nil
}

var errTerminateFailed = &terminateError{}

type terminateError struct{}

func (*terminateError) Error() string { return "termination failed" }
