// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Foxerine/vein-based-iov-simulator/lib/clock"
)

// State is a ManagedProcess lifecycle state. Transitions only move
// forward: starting → running → {stopped, failed}, never backwards.
type State int

const (
	// StateStarting covers spawn through the readiness window.
	StateStarting State = iota

	// StateRunning means the readiness probe succeeded.
	StateRunning

	// StateStopped is terminal: the process exited after reaching
	// running, on its own or via Stop.
	StateStopped

	// StateFailed is terminal: the process never became ready.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ManagedProcess is one supervised child. The supervisor creates it in
// Start; afterwards it is safe to probe and stop from the teardown
// path while the reap goroutine runs concurrently.
type ManagedProcess struct {
	name string
	cmd  *exec.Cmd
	pid  int

	logger    *slog.Logger
	clock     clock.Clock
	stopGrace time.Duration
	escalate  bool

	// done closes exactly once, when the reap goroutine has collected
	// the exit status. Readiness waits select on it to fail fast when
	// the child dies early.
	done chan struct{}

	mu       sync.Mutex
	state    State
	exitCode int
}

// Name identifies the process in logs and errors.
func (mp *ManagedProcess) Name() string { return mp.name }

// PID returns the child's process ID.
func (mp *ManagedProcess) PID() int { return mp.pid }

// State returns the current lifecycle state.
func (mp *ManagedProcess) State() State {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state
}

// ExitCode returns the collected exit status. Meaningful only after
// the done channel has closed; -1 stands for a wait failure that
// produced no status.
func (mp *ManagedProcess) ExitCode() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.exitCode
}

// Done returns the channel that closes when the process has been
// reaped.
func (mp *ManagedProcess) Done() <-chan struct{} { return mp.done }

// Running reports whether the process is still alive: not yet reaped,
// not in a terminal state, and visible to a null signal. EPERM from
// the null signal means the process exists under another user, which
// still counts as alive.
func (mp *ManagedProcess) Running() bool {
	select {
	case <-mp.done:
		return false
	default:
	}

	mp.mu.Lock()
	state := mp.state
	mp.mu.Unlock()
	if state == StateStopped || state == StateFailed {
		return false
	}

	return processAlive(mp.pid)
}

// Stop terminates the process group gracefully: SIGTERM, then a grace
// window, then (when escalation is enabled) SIGKILL with a second
// bounded wait. Returns false with no error when the process had
// already exited — stopping a finished process is not a fault.
func (mp *ManagedProcess) Stop() (bool, error) {
	select {
	case <-mp.done:
		return false, nil
	default:
	}

	// Negative PID addresses the whole process group; the supervisor
	// started the child with Setpgid, so the group leader's PID is
	// the group ID.
	if err := unix.Kill(-mp.pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return false, nil
		}
		return false, fmt.Errorf("signaling process group %d: %w", mp.pid, err)
	}

	select {
	case <-mp.done:
		return true, nil
	case <-mp.clock.After(mp.stopGrace):
	}

	if !mp.escalate {
		return true, fmt.Errorf("process %s (pid %d) still running %v after SIGTERM", mp.name, mp.pid, mp.stopGrace)
	}

	// ESRCH here means the group died between the grace expiry and
	// the kill; harmless.
	_ = unix.Kill(-mp.pid, unix.SIGKILL)

	select {
	case <-mp.done:
		return true, nil
	case <-mp.clock.After(mp.stopGrace):
		return true, fmt.Errorf("process %s (pid %d) survived SIGKILL for %v", mp.name, mp.pid, mp.stopGrace)
	}
}

// reap waits for the child, records its exit status, and closes done.
// A process that exits while still starting keeps its state — the
// readiness failure path in Start owns the transition to failed. One
// that exits after reaching running becomes stopped.
func (mp *ManagedProcess) reap() {
	waitError := mp.cmd.Wait()
	exitCode := 0
	if waitError != nil {
		var exitErr *exec.ExitError
		if errors.As(waitError, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	mp.mu.Lock()
	mp.exitCode = exitCode
	if mp.state == StateRunning {
		mp.state = StateStopped
	}
	mp.mu.Unlock()
	close(mp.done)

	mp.logger.Info("process exited",
		"process", mp.name,
		"pid", mp.pid,
		"exit_code", exitCode,
	)
}

// markRunning records readiness. A terminal state set by a concurrent
// reap wins.
func (mp *ManagedProcess) markRunning() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.state == StateStarting {
		mp.state = StateRunning
	}
}

// markFailed records a readiness failure.
func (mp *ManagedProcess) markFailed() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.state == StateStarting || mp.state == StateRunning {
		mp.state = StateFailed
	}
}

// processAlive checks liveness with a null signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
