package lock

import (
	"time"

	"golang.org/x/sys/unix"
)

// ProcessControl is the external process-control collaborator spec.md §6
// assigns to the host OS: PID liveness and graceful termination. Grounded
// on oriys-nova/internal/firecracker's SIGTERM-then-SIGKILL escalation
// pattern, reimplemented over golang.org/x/sys/unix instead of raw
// syscall so liveness probing (signal 0) is a single typed call.
type ProcessControl interface {
	Alive(pid int) bool
	Terminate(pid int) error
}

// UnixProcessControl is the default ProcessControl for POSIX hosts.
type UnixProcessControl struct{}

func (UnixProcessControl) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// Terminate sends SIGTERM, waits up to 5s polling liveness, then SIGKILL
// (spec.md §4.7's "5s SIGTERM→SIGKILL escalation"). Returns nil once the
// process is no longer alive.
func (c UnixProcessControl) Terminate(pid int) error {
	if !c.Alive(pid) {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return err
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !c.Alive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && c.Alive(pid) {
		return err
	}
	return nil
}
