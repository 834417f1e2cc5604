// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Process is one managed child the context tracks for teardown. The
// supervisor's managed processes implement it; tests substitute fakes.
type Process interface {
	// Name identifies the process in logs.
	Name() string

	// Running reports whether the process is still alive.
	Running() bool

	// Stop issues the graceful termination sequence. The bool result
	// reports whether a stop was actually delivered (false when the
	// process had already exited on its own).
	Stop() (bool, error)
}

// Context owns everything one session acquires: the resolved
// descriptor, every started process in acquisition order, and the
// auxiliary teardown actions interleaved with them. One Context exists
// per orchestrator invocation and is never shared across sessions.
type Context struct {
	// Descriptor is the resolved invocation.
	Descriptor *Descriptor

	// ID correlates log records and the results manifest for one
	// session. Distinct from the capability token — the ID is not a
	// secret and never appears in a route.
	ID string

	logger *slog.Logger

	mu      sync.Mutex
	entries []teardownEntry

	shutdownOnce sync.Once
}

// teardownEntry is one acquired resource: either a tracked process or
// a registered action, never both.
type teardownEntry struct {
	name    string
	process Process
	action  func() error
}

// NewContext creates the context for one session and assigns its ID.
// Register Shutdown as a deferred call immediately after creation, so
// teardown is guaranteed on every exit path.
func NewContext(desc *Descriptor, logger *slog.Logger) *Context {
	return &Context{
		Descriptor: desc,
		ID:         uuid.NewString(),
		logger:     logger,
	}
}

// Track records a started process. Order of Track calls is the start
// order; Shutdown walks it backwards.
func (c *Context) Track(p Process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, teardownEntry{name: p.Name(), process: p})
}

// OnShutdown registers an auxiliary teardown action (proxy route
// removal, for example) at the current position in acquisition order.
func (c *Context) OnShutdown(name string, action func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, teardownEntry{name: name, action: action})
}

// Processes returns the tracked processes in start order.
func (c *Context) Processes() []Process {
	c.mu.Lock()
	defer c.mu.Unlock()

	processes := make([]Process, 0, len(c.entries))
	for _, entry := range c.entries {
		if entry.process != nil {
			processes = append(processes, entry.process)
		}
	}
	return processes
}

// Shutdown releases every tracked resource in strict reverse
// acquisition order: still-running processes get a stop, registered
// actions run as-is. Safe with zero entries and idempotent — a second
// call is a no-op. Failures are logged, never returned: teardown must
// not alter the session's exit code.
func (c *Context) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		entries := make([]teardownEntry, len(c.entries))
		copy(entries, c.entries)
		c.mu.Unlock()

		for i := len(entries) - 1; i >= 0; i-- {
			entry := entries[i]

			if entry.process == nil {
				if err := entry.action(); err != nil {
					c.logger.Warn("teardown action failed", "action", entry.name, "error", err)
				}
				continue
			}

			if !entry.process.Running() {
				c.logger.Debug("process already stopped", "process", entry.name)
				continue
			}
			stopped, err := entry.process.Stop()
			if err != nil {
				c.logger.Warn("stopping process failed", "process", entry.name, "error", err)
				continue
			}
			if stopped {
				c.logger.Info("process stopped", "process", entry.name)
			}
		}
	})
}
