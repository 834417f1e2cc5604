// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/Foxerine/vein-based-iov-simulator/session"
)

// durationExpiredCode is the session exit code when the duration limit
// cuts the engine off, matching the conventional timeout(1) status.
const durationExpiredCode = 124

// Invocation is the composed engine command line for one session.
type Invocation struct {
	// Binary is the resolved engine binary path.
	Binary string

	// Backend is the UI backend passed as the -u flag value.
	Backend string

	// Passthrough holds the arguments the resolver did not consume,
	// in their original relative order.
	Passthrough []string

	// Display, when non-empty, is injected as DISPLAY into the
	// child's environment.
	Display string
}

func (inv Invocation) args() []string {
	return append([]string{"-u", inv.Backend}, inv.Passthrough...)
}

// Execute spawns the simulation engine in the project directory and
// blocks until it exits, the session duration limit expires, or the
// context is cancelled. The returned code is the session's outcome:
// the engine's own status (128+signal for a signal death), 124 on
// duration expiry. Non-zero outcomes also return a RuntimeError so
// the caller's error path logs them with their stage.
//
// The engine runs in its own process group. Expiry and cancellation
// terminate the whole group: the engine's child solvers and the
// traffic simulator processes it spawned through the bridge must not
// outlive it.
func (r *Runner) Execute(ctx context.Context, inv Invocation) (int, error) {
	args := inv.args()
	cmd := exec.Command(inv.Binary, args...)
	cmd.Dir = r.cfg.Paths.Project
	cmd.Stdout = io.MultiWriter(r.log.Writer(), r.stdout)
	cmd.Stderr = io.MultiWriter(r.log.Writer(), r.stderr)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	env := os.Environ()
	if inv.Display != "" {
		env = append(env, "DISPLAY="+inv.Display)
	}
	cmd.Env = env

	r.log.Note("engine command: %s %s", inv.Binary, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return 1, &session.StartupError{
			Process: "simulation-engine",
			Err:     fmt.Errorf("spawning %s: %w", inv.Binary, err),
		}
	}
	pid := cmd.Process.Pid
	r.logger.Info("engine started", "pid", pid, "display", inv.Display)

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	maxDuration := r.cfg.MaxDurationValue()
	select {
	case waitErr := <-waitDone:
		return r.finish(waitErr, "")

	case <-ctx.Done():
		r.log.Note("session cancelled, terminating engine")
		r.logger.Warn("session cancelled", "pid", pid)
		waitErr := r.terminate(pid, waitDone)
		return r.finish(waitErr, "session cancelled")

	case <-r.clock.After(maxDuration):
		r.log.Note("session duration limit %v expired, terminating engine", maxDuration)
		r.logger.Warn("session duration limit expired", "pid", pid, "limit", maxDuration)
		r.terminate(pid, waitDone)
		return durationExpiredCode, &session.RuntimeError{
			Code:   durationExpiredCode,
			Reason: fmt.Sprintf("duration limit %v expired", maxDuration),
		}
	}
}

// finish maps the engine's wait result to the session outcome.
func (r *Runner) finish(waitErr error, reason string) (int, error) {
	code, ok := exitStatus(waitErr)
	if !ok {
		return 1, &session.RuntimeError{
			Code:   1,
			Reason: fmt.Sprintf("waiting for engine: %v", waitErr),
		}
	}
	r.log.Note("engine exited with code %d", code)
	r.logger.Info("engine exited", "exit_code", code)
	if code == 0 {
		return 0, nil
	}
	return code, &session.RuntimeError{Code: code, Reason: reason}
}

// terminate stops the engine's process group: graceful signal, a
// bounded grace window, then a group kill. Returns the engine's wait
// result.
func (r *Runner) terminate(pid int, waitDone <-chan error) error {
	unix.Kill(-pid, unix.SIGTERM)
	select {
	case waitErr := <-waitDone:
		return waitErr
	case <-r.clock.After(r.cfg.StopGraceValue()):
	}
	unix.Kill(-pid, unix.SIGKILL)
	return <-waitDone
}

// exitStatus extracts the child's exit code from a Wait error. Signal
// deaths map to 128+signal. ok is false when the error did not come
// from the child at all (a wait infrastructure failure).
func exitStatus(waitErr error) (code int, ok bool) {
	if waitErr == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return 0, false
	}
	if status, isWait := exitErr.Sys().(syscall.WaitStatus); isWait && status.Signaled() {
		return 128 + int(status.Signal()), true
	}
	return exitErr.ExitCode(), true
}
