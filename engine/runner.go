// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Foxerine/vein-based-iov-simulator/lib/clock"
	"github.com/Foxerine/vein-based-iov-simulator/lib/config"
	"github.com/Foxerine/vein-based-iov-simulator/session"
)

// Options configures a Runner. Zero values get production defaults.
type Options struct {
	// Logger receives structured lifecycle events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Clock drives the duration limit and termination grace windows.
	// Defaults to the real clock.
	Clock clock.Clock

	// Stdout and Stderr are where engine and build output stream in
	// addition to the session log. Default to the process's own.
	Stdout io.Writer
	Stderr io.Writer
}

// Runner drives the build and execution phases for one session.
type Runner struct {
	cfg    *config.Config
	log    *SessionLog
	logger *slog.Logger
	clock  clock.Clock
	stdout io.Writer
	stderr io.Writer
}

// New creates a Runner writing child output to the session log.
func New(cfg *config.Config, sessionLog *SessionLog, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Runner{
		cfg:    cfg,
		log:    sessionLog,
		logger: logger,
		clock:  clk,
		stdout: stdout,
		stderr: stderr,
	}
}

// NeedsCompile reports whether the job ships sources that must be
// built before execution. The marker is a src/ directory under the
// project mount; jobs with prebuilt models simply omit it.
func NeedsCompile(cfg *config.Config) bool {
	info, err := os.Stat(filepath.Join(cfg.Paths.Project, "src"))
	return err == nil && info.IsDir()
}

// Compile regenerates the project build files and builds with one job
// per available CPU. Build output goes to the session log and the
// runner's stderr stream. The engine never runs after a failed build.
func (r *Runner) Compile(ctx context.Context) error {
	sourceDir := filepath.Join(r.cfg.Paths.Project, "src")
	jobs := runtime.NumCPU()

	makemake, err := r.cfg.BinaryPath("opp_makemake")
	if err != nil {
		return &session.ConfigurationError{What: "build tool opp_makemake", Err: err}
	}
	makeTool, err := r.cfg.BinaryPath("make")
	if err != nil {
		return &session.ConfigurationError{What: "build tool make", Err: err}
	}

	r.log.Note("regenerating build files in %s", sourceDir)
	r.logger.Info("compiling project", "source_dir", sourceDir, "jobs", jobs)

	if err := r.runBuildStep(ctx, sourceDir, makemake, "-f", "--deep"); err != nil {
		return &session.CompileError{Err: fmt.Errorf("opp_makemake: %w", err)}
	}

	r.log.Note("building with %d jobs", jobs)
	if err := r.runBuildStep(ctx, sourceDir, makeTool, fmt.Sprintf("-j%d", jobs)); err != nil {
		return &session.CompileError{Err: fmt.Errorf("make: %w", err)}
	}

	r.log.Note("build finished")
	return nil
}

func (r *Runner) runBuildStep(ctx context.Context, dir, binary string, args ...string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	sink := io.MultiWriter(r.log.Writer(), r.stderr)
	cmd.Stdout = sink
	cmd.Stderr = sink
	r.log.Note("running %s %s", binary, strings.Join(args, " "))
	return cmd.Run()
}
