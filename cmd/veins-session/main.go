// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Foxerine/vein-based-iov-simulator/lib/config"
	"github.com/Foxerine/vein-based-iov-simulator/lib/process"
	"github.com/Foxerine/vein-based-iov-simulator/session"
)

// logLevelEnv overrides the log level; it takes anything
// slog.Level.UnmarshalText accepts.
const logLevelEnv = "VEINS_SESSION_LOG_LEVEL"

func main() {
	level, err := logLevel(os.Getenv(logLevelEnv))
	if err != nil {
		process.Fatal(err)
	}
	os.Exit(run(os.Args[1:], level))
}

// logLevel parses the level override. Empty means the info default.
func logLevel(raw string) (slog.Level, error) {
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", logLevelEnv, err)
	}
	return level, nil
}

// run drives one session and returns its exit code. Everything that
// needs teardown happens behind the session context's deferred
// Shutdown, so a failure at any stage — or an interrupt — still stops
// whatever already started.
func run(args []string, level slog.Level) int {
	descriptor, err := session.Resolve(args)
	if errors.Is(err, session.ErrHelp) {
		session.Usage(os.Stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		session.Usage(os.Stderr)
		return session.ExitCode(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		configErr := &session.ConfigurationError{What: "session config", Err: err}
		logger.Error("session failed", "stage", session.Stage(configErr), "error", configErr)
		return session.ExitCode(configErr)
	}

	sessionCtx := session.NewContext(descriptor, logger)
	logger = logger.With("session_id", sessionCtx.ID)
	slog.SetDefault(logger)
	defer sessionCtx.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("session starting",
		"mode", descriptor.Mode,
		"backend", descriptor.UIBackend,
		"config", descriptor.ConfigLabel,
	)

	if err := orchestrate(ctx, cfg, sessionCtx, logger); err != nil {
		logger.Error("session failed",
			"stage", session.Stage(err),
			"exit_code", session.ExitCode(err),
			"error", err,
		)
		return session.ExitCode(err)
	}

	logger.Info("session complete")
	return 0
}
