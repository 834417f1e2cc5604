// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

// ErrHelp is returned by Resolve when a help flag is present. The
// caller prints usage and exits 0; nothing else runs.
var ErrHelp = errors.New("help requested")

// UsageError reports invalid or inconsistent invocation arguments.
// Raised before any process starts.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string { return e.Reason }

// ConfigurationError reports a missing required binary or path, or a
// configuration that failed validation. Raised before the dependent
// stage starts anything.
type ConfigurationError struct {
	// What names the thing being configured (a binary, the proxy
	// route file, a mount).
	What string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuring %s: %v", e.What, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StartupError reports a managed process that failed its readiness
// window or died during it. Cleanup still runs for whatever started
// earlier.
type StartupError struct {
	// Process is the managed process name.
	Process string
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Process, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// CompileError reports a failed project build. The engine never runs.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling project: %v", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// RuntimeError carries the simulation engine's own non-zero exit
// status. It is not an orchestrator defect: the code propagates
// unchanged as the session's exit code.
type RuntimeError struct {
	// Code is the engine's exit status (128+signal for a signal
	// death, 124 when the session duration limit expired).
	Code int

	// Reason optionally explains a synthesized code, such as the
	// duration limit.
	Reason string
}

func (e *RuntimeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("simulation engine exited with status %d (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("simulation engine exited with status %d", e.Code)
}

// ExitCode maps a session error to the orchestrator's process exit
// code: 0 for nil, the engine's own status for RuntimeError, and 1 for
// every orchestrator-fatal error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var runtimeErr *RuntimeError
	if errors.As(err, &runtimeErr) {
		return runtimeErr.Code
	}
	return 1
}

// Stage returns the lifecycle stage an error originated from, for
// structured logging.
func Stage(err error) string {
	var usageErr *UsageError
	var configErr *ConfigurationError
	var startupErr *StartupError
	var compileErr *CompileError
	var runtimeErr *RuntimeError

	switch {
	case errors.As(err, &usageErr):
		return "resolve"
	case errors.As(err, &configErr):
		return "configure"
	case errors.As(err, &startupErr):
		return "startup"
	case errors.As(err, &compileErr):
		return "compile"
	case errors.As(err, &runtimeErr):
		return "run"
	default:
		return "session"
	}
}
