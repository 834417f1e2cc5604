// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Foxerine/vein-based-iov-simulator/lib/clock"
	"github.com/Foxerine/vein-based-iov-simulator/session"
)

// Managed processes are tracked by the session context for teardown.
var _ session.Process = (*ManagedProcess)(nil)

const (
	// DefaultReadyTimeout bounds the readiness wait after a spawn.
	DefaultReadyTimeout = 10 * time.Second

	// DefaultStopGrace is the window between SIGTERM and escalation.
	DefaultStopGrace = 5 * time.Second
)

// Options configures a Supervisor. Zero values fall back to defaults,
// except StopEscalation, which stays off unless set.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// ReadyTimeout bounds every readiness probe.
	ReadyTimeout time.Duration

	// StopGrace is how long Stop waits after SIGTERM before giving up
	// or escalating.
	StopGrace time.Duration

	// StopEscalation sends SIGKILL to the process group when the
	// grace window expires.
	StopEscalation bool
}

// Supervisor spawns the session's helper processes, each in its own
// process group, and gates every start on a bounded readiness probe.
type Supervisor struct {
	logger       *slog.Logger
	clock        clock.Clock
	readyTimeout time.Duration
	stopGrace    time.Duration
	escalate     bool
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	return &Supervisor{
		logger:       opts.Logger,
		clock:        opts.Clock,
		readyTimeout: opts.ReadyTimeout,
		stopGrace:    opts.StopGrace,
		escalate:     opts.StopEscalation,
	}
}

// Spec describes one process to start.
type Spec struct {
	// Name identifies the process in logs and errors.
	Name string

	// Path is the binary to execute: absolute, or resolvable on PATH.
	Path string

	// Args are the command arguments, excluding the binary name.
	Args []string

	// Env lists additional KEY=value entries appended to the current
	// environment. Nil inherits the environment unchanged.
	Env []string

	// Dir is the working directory; empty means the caller's.
	Dir string

	// Ready is the readiness probe; nil skips the readiness wait.
	Ready Probe
}

// Start spawns the process described by spec and blocks until its
// readiness probe succeeds or the readiness window expires. On any
// failure — spawn error, probe timeout, or the process dying during
// the wait — it returns a StartupError naming the process, and no
// ManagedProcess: a child that never became ready is killed rather
// than handed to the caller.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*ManagedProcess, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	// Helper output goes to stderr; stdout is reserved for the
	// session link and engine passthrough.
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	// Own process group, so Stop's signals reach the helper and
	// everything it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	mp := &ManagedProcess{
		name:      spec.Name,
		cmd:       cmd,
		logger:    s.logger,
		clock:     s.clock,
		stopGrace: s.stopGrace,
		escalate:  s.escalate,
		done:      make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, &session.StartupError{
			Process: spec.Name,
			Err:     fmt.Errorf("spawning %s: %w", spec.Path, err),
		}
	}
	mp.pid = cmd.Process.Pid

	// Reap in the background to avoid zombies and to give readiness
	// waits an early-exit signal.
	go mp.reap()

	if spec.Ready != nil {
		if err := spec.Ready(ctx, s.clock, mp.done, s.readyTimeout); err != nil {
			mp.markFailed()
			// The group may already be gone; the reap goroutine
			// closes done either way.
			_ = unix.Kill(-mp.pid, unix.SIGKILL)
			<-mp.done
			return nil, &session.StartupError{Process: spec.Name, Err: err}
		}
	}
	mp.markRunning()

	s.logger.Info("process started",
		"process", spec.Name,
		"pid", mp.pid,
	)
	return mp, nil
}

// Probe reports whether a managed process is still alive. It never
// blocks: the check combines the reap channel's state with a null
// signal to the PID.
func (s *Supervisor) Probe(mp *ManagedProcess) bool { return mp.Running() }

// Stop terminates a managed process group gracefully, escalating to
// SIGKILL after the grace window when escalation is enabled. A process
// that already exited returns false with no error.
func (s *Supervisor) Stop(mp *ManagedProcess) (bool, error) { return mp.Stop() }
