// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/Foxerine/vein-based-iov-simulator/session"
)

// Validator checks a candidate routes file against the full proxy
// configuration before it goes live.
type Validator interface {
	Validate(ctx context.Context, candidatePath string) error
}

// Reloader signals the proxy to pick up a swapped-in routes file.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Registrar performs route changes against the shared routes file.
// The file is a process-wide singleton potentially touched by sibling
// sessions at the same time; every mutation runs under an exclusive
// lock on a sibling lock file and goes live only after validation.
type Registrar struct {
	routesFile string
	lockFile   string
	validator  Validator
	reloader   Reloader
	logger     *slog.Logger
}

// NewRegistrar creates a Registrar for the given routes file.
func NewRegistrar(routesFile string, validator Validator, reloader Reloader, logger *slog.Logger) *Registrar {
	return &Registrar{
		routesFile: routesFile,
		lockFile:   routesFile + ".lock",
		validator:  validator,
		reloader:   reloader,
		logger:     logger,
	}
}

// Register splices the session's route into the routes file, replacing
// any stale block left under the same token, and reloads the proxy. A
// validation or reload failure aborts the session: an interactive
// session without a working route is useless.
func (r *Registrar) Register(ctx context.Context, route Route) error {
	err := r.mutate(ctx, func(current string) string {
		return spliceBlock(current, route.Token, route.renderBlock())
	})
	if err != nil {
		return &session.ConfigurationError{What: "session proxy route", Err: err}
	}

	r.logger.Info("proxy route registered",
		"path", route.PathPrefix(),
		"upstream_port", route.UpstreamPort,
	)
	return nil
}

// Deregister removes the session's block during teardown, with the
// same lock-validate-swap discipline. The caller logs failures and
// moves on; a leftover route is inert once the bridge is gone.
func (r *Registrar) Deregister(ctx context.Context, token string) error {
	return r.mutate(ctx, func(current string) string {
		return removeBlock(current, token)
	})
}

// mutate runs one read-splice-validate-swap-reload cycle under the
// exclusive lock. When the transform is a no-op the live file is left
// entirely alone — no write, no validation, no reload.
func (r *Registrar) mutate(ctx context.Context, transform func(string) string) error {
	release, err := acquireLock(r.lockFile)
	if err != nil {
		return err
	}
	defer release()

	current, err := os.ReadFile(r.routesFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading routes file %s: %w", r.routesFile, err)
	}

	next := transform(string(current))
	if next == string(current) {
		return nil
	}

	candidatePath := r.routesFile + ".next"
	if err := writeDurable(candidatePath, []byte(next)); err != nil {
		return err
	}

	if err := r.validator.Validate(ctx, candidatePath); err != nil {
		os.Remove(candidatePath)
		return fmt.Errorf("validating candidate routes: %w", err)
	}

	if err := os.Rename(candidatePath, r.routesFile); err != nil {
		os.Remove(candidatePath)
		return fmt.Errorf("swapping routes file into place: %w", err)
	}
	syncDir(filepath.Dir(r.routesFile))

	if err := r.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("reloading proxy: %w", err)
	}
	return nil
}

// acquireLock takes a blocking exclusive flock on path, creating it if
// needed. The returned function releases the lock. The lock file lives
// on the same shared filesystem as the routes file, so it serializes
// sibling containers as well as sibling goroutines.
func acquireLock(path string) (func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return func() {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
	}, nil
}

// writeDurable writes data to path with write, fsync, close — in that
// order — so the candidate is on disk before validation looks at it.
func writeDurable(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating candidate file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("writing candidate file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("syncing candidate file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("closing candidate file: %w", err)
	}
	return nil
}

// syncDir makes a completed rename durable. Best-effort: a missing
// directory sync loses durability, not correctness.
func syncDir(dir string) {
	handle, err := os.Open(dir)
	if err != nil {
		return
	}
	handle.Sync()
	handle.Close()
}

// NginxValidator validates candidate routes with nginx -t, wrapping
// the candidate in a shim that mirrors the server context production
// includes it from. The live configuration is never touched.
type NginxValidator struct {
	// Binary is the resolved proxy binary path.
	Binary string

	// ListenPort is the server listen port used in the shim, matching
	// the production server block.
	ListenPort int
}

// shim wraps a candidate routes file for standalone validation.
const validationShim = `error_log stderr;
pid %s;
events {}
http {
    server {
        listen 127.0.0.1:%d;
        include "%s";
    }
}
`

func (v NginxValidator) Validate(ctx context.Context, candidatePath string) error {
	dir, err := os.MkdirTemp("", "veins-route-validate-*")
	if err != nil {
		return fmt.Errorf("creating validation directory: %w", err)
	}
	defer os.RemoveAll(dir)

	absCandidate, err := filepath.Abs(candidatePath)
	if err != nil {
		return fmt.Errorf("resolving candidate path: %w", err)
	}

	shimPath := filepath.Join(dir, "validate.conf")
	shim := fmt.Sprintf(validationShim, filepath.Join(dir, "validate.pid"), v.ListenPort, absCandidate)
	if err := os.WriteFile(shimPath, []byte(shim), 0644); err != nil {
		return fmt.Errorf("writing validation shim: %w", err)
	}

	cmd := exec.CommandContext(ctx, v.Binary, "-t", "-q", "-p", dir, "-c", shimPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s -t: %w (%s)", v.Binary, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// NginxReloader signals the running proxy to re-read its
// configuration.
type NginxReloader struct {
	// Binary is the resolved proxy binary path.
	Binary string
}

func (r NginxReloader) Reload(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.Binary, "-s", "reload")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s -s reload: %w (%s)", r.Binary, err, strings.TrimSpace(string(output)))
	}
	return nil
}
