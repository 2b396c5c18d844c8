package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/kv"
	"github.com/cfengine-go/promise-engine/internal/logging"
)

// now is a var seam so tests can control time without sleeping.
var now = time.Now

// Handle is returned by a successful Acquire, carrying what Release and
// the actuator's own bookkeeping need (spec.md §4.7).
type Handle struct {
	Fingerprint string
	LockKey     string
	LastKey     string
	LogPath     string
}

// RateLimitedError is returned when ifelapsed has not yet passed.
type RateLimitedError struct{ Fingerprint string }

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("lock %s: rate-limited (ifelapsed not reached)", e.Fingerprint)
}

// BusyError is returned when a live holder already owns the lock.
type BusyError struct {
	Fingerprint string
	PID         int
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("lock %s: busy (held by pid %d)", e.Fingerprint, e.PID)
}

// CouldNotExpireError is returned when a stale holder could not be
// terminated (spec.md §7: failed outcome, fatal for that promise only).
type CouldNotExpireError struct {
	Fingerprint string
	PID         int
}

func (e *CouldNotExpireError) Error() string {
	return fmt.Sprintf("lock %s: could not expire stale holder pid %d", e.Fingerprint, e.PID)
}

// DuplicateError marks a promise already attempted this run.
type DuplicateError struct{ Fingerprint string }

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("lock %s: duplicate attempt this run", e.Fingerprint)
}

// Manager is C7: fingerprinting, the acquire/release protocol, the
// process-wide critical section, and purge, all backed by a C1 "locks"
// handle.
type Manager struct {
	store    kv.Handle
	critical CriticalSection
	proc     ProcessControl
	pid      int
	logDir   string

	mu   sync.Mutex
	done map[string]bool
}

// NewManager builds a lock manager over an already-opened "locks" KV
// handle. logDir is the per-host log directory (spec.md §4.7's
// completion-record log); critical is the process-wide critical section
// backend (MutexCriticalSection or PostgresCriticalSection, selected by
// the caller per the configured store).
func NewManager(store kv.Handle, critical CriticalSection, logDir string) *Manager {
	return &Manager{
		store:    store,
		critical: critical,
		proc:     UnixProcessControl{},
		pid:      os.Getpid(),
		logDir:   logDir,
		done:     make(map[string]bool),
	}
}

func lockKey(fp string) string { return "lock." + fp }
func lastKey(fp string) string { return "last." + fp }

// Acquire runs the full protocol of spec.md §4.7 under the critical
// section: duplicate-this-run check, ifelapsed gate, stale-lock takeover
// or busy rejection, then the write that grants ownership.
func (m *Manager) Acquire(ctx context.Context, fp string, ifElapsed, expireAfter int) (*Handle, error) {
	release, err := m.critical.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("enter critical section: %w", err)
	}
	defer release()

	m.mu.Lock()
	alreadyDone := m.done[fp]
	m.mu.Unlock()
	if alreadyDone {
		return nil, &DuplicateError{Fingerprint: fp}
	}

	lk, lak := lockKey(fp), lastKey(fp)

	if raw, ok, err := m.store.Get(ctx, lak); err == nil && ok {
		if rec, valid := decodeRecord(raw); valid {
			if now().Sub(recordTime(rec)) < time.Duration(ifElapsed)*time.Minute {
				return nil, &RateLimitedError{Fingerprint: fp}
			}
		}
	}

	if raw, ok, err := m.store.Get(ctx, lk); err == nil && ok {
		if rec, valid := decodeRecord(raw); valid {
			age := now().Sub(recordTime(rec))
			if age >= time.Duration(expireAfter)*time.Minute {
				if err := m.seizeStale(ctx, fp, rec); err != nil {
					return nil, err
				}
				logging.Op().Warn("seized stale lock", "fingerprint", fp, "prior_pid", rec.PID, "age", age)
			} else {
				return nil, &BusyError{Fingerprint: fp, PID: int(rec.PID)}
			}
		}
	}

	rec := record{PID: uint32(m.pid), Time: now().Unix()}
	if err := m.store.Put(ctx, lk, encodeRecord(rec)); err != nil {
		return nil, fmt.Errorf("write lock record: %w", err)
	}

	m.mu.Lock()
	m.done[fp] = true
	m.mu.Unlock()

	return &Handle{
		Fingerprint: fp,
		LockKey:     lk,
		LastKey:     lak,
		LogPath:     m.logPath(),
	}, nil
}

// seizeStale terminates a stale holder (graceful, 5s SIGTERM→SIGKILL
// escalation) and deletes the lock record on success or if the holder is
// already gone.
func (m *Manager) seizeStale(ctx context.Context, fp string, rec record) error {
	pid := int(rec.PID)
	if m.proc.Alive(pid) {
		if err := m.proc.Terminate(pid); err != nil {
			return &CouldNotExpireError{Fingerprint: fp, PID: pid}
		}
	}
	return m.store.Delete(ctx, lockKey(fp))
}

// Release implements the release protocol: drop the in-progress record,
// stamp completion time, append a log line, rotate the log if large.
func (m *Manager) Release(ctx context.Context, h *Handle, outcome domain.Outcome) error {
	release, err := m.critical.Enter(ctx)
	if err != nil {
		return fmt.Errorf("enter critical section: %w", err)
	}
	defer release()

	if err := m.store.Delete(ctx, h.LockKey); err != nil {
		return fmt.Errorf("delete lock record: %w", err)
	}
	rec := record{PID: uint32(m.pid), Time: now().Unix()}
	if err := m.store.Put(ctx, h.LastKey, encodeRecord(rec)); err != nil {
		return fmt.Errorf("write last record: %w", err)
	}

	m.appendLog(h.Fingerprint, outcome)
	return nil
}

// Invalidate rewrites last.<fp>.time = 0 so the next Acquire skips the
// ifelapsed gate (spec.md §4.7, used after deliberate failure).
func (m *Manager) Invalidate(ctx context.Context, fp string) error {
	rec := record{PID: uint32(m.pid), Time: 0}
	return m.store.Put(ctx, lastKey(fp), encodeRecord(rec))
}

// purgeHorizon is the 4-week retention window of spec.md §4.7.
const purgeHorizon = 4 * 7 * 24 * time.Hour

// Purge removes every lock/last record older than the retention horizon.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	cur, err := m.store.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan locks store: %w", err)
	}
	defer cur.Close()

	purged := 0
	cutoff := now().Add(-purgeHorizon)
	for {
		entry, ok, err := cur.Next(ctx)
		if err != nil {
			return purged, err
		}
		if !ok {
			break
		}
		if entry.Key == "lock_horizon" {
			continue
		}
		rec, valid := decodeRecord(entry.Value)
		if !valid {
			continue
		}
		if recordTime(rec).Before(cutoff) {
			if err := cur.DeleteCurrent(ctx); err != nil {
				return purged, err
			}
			purged++
		}
	}
	horizonRec := record{Time: now().Unix()}
	if err := m.store.Put(ctx, "lock_horizon", encodeRecord(horizonRec)); err != nil {
		return purged, err
	}
	return purged, nil
}

// Done reports whether fp has already been attempted this run.
func (m *Manager) Done(fp string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done[fp]
}

const logRotateThreshold = 1 << 20 // 1 MiB

func (m *Manager) logPath() string {
	if m.logDir == "" {
		return ""
	}
	return filepath.Join(m.logDir, "cf3.lock.log")
}

// appendLog writes a one-line completion record and rotates the log
// above the 1 MiB threshold (spec.md §4.7). Log I/O failures are logged,
// never fatal — the lock protocol itself already completed.
func (m *Manager) appendLog(fp string, outcome domain.Outcome) {
	path := m.logPath()
	if path == "" {
		return
	}
	if fi, err := os.Stat(path); err == nil && fi.Size() > logRotateThreshold {
		os.Rename(path, path+".1")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		logging.Op().Warn("open lock log", "path", path, "error", err)
		return
	}
	defer f.Close()
	line := fmt.Sprintf("%s %s pid=%d outcome=%s\n", now().UTC().Format(time.RFC3339), fp, m.pid, outcome)
	if _, err := f.WriteString(line); err != nil {
		logging.Op().Warn("write lock log", "path", path, "error", err)
	}
}
