// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Foxerine/vein-based-iov-simulator/lib/testutil"
	"github.com/Foxerine/vein-based-iov-simulator/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartFileProbeReadiness(t *testing.T) {
	dir := t.TempDir()
	sup := New(Options{
		Logger:         testLogger(),
		ReadyTimeout:   5 * time.Second,
		StopGrace:      2 * time.Second,
		StopEscalation: true,
	})

	mp, err := sup.Start(context.Background(), Spec{
		Name:  "marker-writer",
		Path:  "/bin/sh",
		Args:  []string{"-c", "touch " + dir + "/ready && sleep 30"},
		Ready: FileProbe(dir, "ready"),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mp.State() != StateRunning {
		t.Errorf("state after Start = %v, want %v", mp.State(), StateRunning)
	}
	if !sup.Probe(mp) {
		t.Error("Probe reported a freshly started process as not running")
	}

	stopped, err := sup.Stop(mp)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped {
		t.Error("Stop reported already-stopped for a live process")
	}
	testutil.RequireClosed(t, mp.Done(), 5*time.Second, "process reaped after Stop")
	if mp.State() != StateStopped {
		t.Errorf("state after Stop = %v, want %v", mp.State(), StateStopped)
	}
	if mp.Running() {
		t.Error("Running reported true after Stop")
	}
}

func TestStartSpawnFailure(t *testing.T) {
	sup := New(Options{Logger: testLogger()})

	mp, err := sup.Start(context.Background(), Spec{
		Name: "ghost",
		Path: "/nonexistent/binary/for/this/test",
	})
	if err == nil {
		t.Fatal("Start succeeded for a nonexistent binary")
	}
	if mp != nil {
		t.Error("Start returned a process alongside the error")
	}

	var startupErr *session.StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("error type = %T, want *session.StartupError", err)
	}
	if startupErr.Process != "ghost" {
		t.Errorf("StartupError.Process = %q, want %q", startupErr.Process, "ghost")
	}
}

func TestStartReadinessTimeout(t *testing.T) {
	dir := t.TempDir()
	sup := New(Options{
		Logger:         testLogger(),
		ReadyTimeout:   200 * time.Millisecond,
		StopGrace:      time.Second,
		StopEscalation: true,
	})

	mp, err := sup.Start(context.Background(), Spec{
		Name:  "never-ready",
		Path:  "/bin/sh",
		Args:  []string{"-c", "sleep 30"},
		Ready: FileProbe(dir, "absent"),
	})
	if err == nil {
		t.Fatal("Start succeeded without the readiness file")
	}
	if mp != nil {
		t.Error("Start returned a process alongside the error")
	}

	var startupErr *session.StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("error type = %T, want *session.StartupError", err)
	}
	if startupErr.Process != "never-ready" {
		t.Errorf("StartupError.Process = %q, want %q", startupErr.Process, "never-ready")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %q, want mention of the timeout", err)
	}
}

func TestStartEarlyExitFailsFast(t *testing.T) {
	dir := t.TempDir()
	sup := New(Options{
		Logger: testLogger(),
		// Generous window: the early exit must cut the wait short,
		// not the timeout.
		ReadyTimeout: 30 * time.Second,
	})

	begin := time.Now()
	_, err := sup.Start(context.Background(), Spec{
		Name:  "early-exit",
		Path:  "/bin/sh",
		Args:  []string{"-c", "exit 7"},
		Ready: FileProbe(dir, "absent"),
	})
	elapsed := time.Since(begin)

	if err == nil {
		t.Fatal("Start succeeded for a process that exited before readiness")
	}
	if !strings.Contains(err.Error(), "exited") {
		t.Errorf("error = %q, want mention of the early exit", err)
	}
	if elapsed > 10*time.Second {
		t.Errorf("Start took %v, want well under the 30s readiness window", elapsed)
	}
}

func TestStartEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	sup := New(Options{Logger: testLogger()})

	mp, err := sup.Start(context.Background(), Spec{
		Name: "env-writer",
		Path: "/bin/sh",
		Args: []string{"-c", `printf %s "$SESSION_MARKER" > marker-out`},
		Env:  []string{"SESSION_MARKER=hello"},
		Dir:  dir,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireClosed(t, mp.Done(), 5*time.Second, "process exit")

	content, err := os.ReadFile(filepath.Join(dir, "marker-out"))
	if err != nil {
		t.Fatalf("reading marker output: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("marker output = %q, want %q", content, "hello")
	}
}

func TestExitCodeCaptured(t *testing.T) {
	sup := New(Options{Logger: testLogger()})

	mp, err := sup.Start(context.Background(), Spec{
		Name: "short-lived",
		Path: "/bin/sh",
		Args: []string{"-c", "exit 7"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireClosed(t, mp.Done(), 5*time.Second, "process exit")

	if code := mp.ExitCode(); code != 7 {
		t.Errorf("ExitCode = %d, want 7", code)
	}
	if mp.Running() {
		t.Error("Running reported true for an exited process")
	}
}

func TestStopAfterNaturalExit(t *testing.T) {
	sup := New(Options{Logger: testLogger()})

	mp, err := sup.Start(context.Background(), Spec{
		Name: "short-lived",
		Path: "/bin/sh",
		Args: []string{"-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireClosed(t, mp.Done(), 5*time.Second, "process exit")

	stopped, err := mp.Stop()
	if err != nil {
		t.Fatalf("Stop after natural exit: %v", err)
	}
	if stopped {
		t.Error("Stop reported a live stop for an already-exited process")
	}
}

func TestStopEscalatesWhenTermIgnored(t *testing.T) {
	dir := t.TempDir()
	sup := New(Options{
		Logger:         testLogger(),
		ReadyTimeout:   5 * time.Second,
		StopGrace:      150 * time.Millisecond,
		StopEscalation: true,
	})

	// The armed file appears only after the TERM trap is installed, so
	// Stop below is guaranteed to hit a process that ignores SIGTERM.
	mp, err := sup.Start(context.Background(), Spec{
		Name:  "term-ignorer",
		Path:  "/bin/sh",
		Args:  []string{"-c", "trap '' TERM; touch " + dir + "/armed; while :; do sleep 0.05; done"},
		Ready: FileProbe(dir, "armed"),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopped, err := mp.Stop()
	if err != nil {
		t.Fatalf("Stop with escalation: %v", err)
	}
	if !stopped {
		t.Error("Stop reported already-stopped for a live process")
	}
	testutil.RequireClosed(t, mp.Done(), 5*time.Second, "process reaped after SIGKILL")
	if mp.Running() {
		t.Error("Running reported true after escalated stop")
	}
}

func TestStopWithoutEscalationReportsSurvivor(t *testing.T) {
	dir := t.TempDir()
	sup := New(Options{
		Logger:         testLogger(),
		ReadyTimeout:   5 * time.Second,
		StopGrace:      150 * time.Millisecond,
		StopEscalation: false,
	})

	mp, err := sup.Start(context.Background(), Spec{
		Name:  "term-ignorer",
		Path:  "/bin/sh",
		Args:  []string{"-c", "trap '' TERM; touch " + dir + "/armed; while :; do sleep 0.05; done"},
		Ready: FileProbe(dir, "armed"),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Kill(-mp.PID(), unix.SIGKILL)
		testutil.RequireClosed(t, mp.Done(), 5*time.Second, "cleanup kill reaped")
	})

	stopped, err := mp.Stop()
	if !stopped {
		t.Error("Stop reported already-stopped for a live process")
	}
	if err == nil {
		t.Fatal("Stop reported success for a process that ignored SIGTERM")
	}
	if !strings.Contains(err.Error(), "after SIGTERM") {
		t.Errorf("error = %q, want mention of the SIGTERM grace expiry", err)
	}
}
