// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/Foxerine/vein-based-iov-simulator/lib/clock"
)

const (
	// probeInterval is the poll cadence for connect-based probes.
	probeInterval = 10 * time.Millisecond

	// probeDialTimeout bounds a single connect attempt. The probed
	// endpoints are all loopback, where refusal is immediate; the
	// bound only matters when a backlog is full.
	probeDialTimeout = 250 * time.Millisecond
)

// Probe blocks until a starting process is ready to serve, the process
// exits, the context is cancelled, or the timeout passes. processDone
// is the reap channel of the process under probe: a close means the
// process died and readiness can never arrive, so probes fail fast
// instead of waiting out the timeout.
type Probe func(ctx context.Context, clk clock.Clock, processDone <-chan struct{}, timeout time.Duration) error

// SocketProbe waits for a TCP endpoint to accept connections.
func SocketProbe(address string) Probe {
	return func(ctx context.Context, clk clock.Clock, processDone <-chan struct{}, timeout time.Duration) error {
		deadline := clk.Now().Add(timeout)
		ticker := clk.NewTicker(probeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-processDone:
				return fmt.Errorf("process exited before %s accepted connections", address)
			case <-ticker.C:
				conn, err := net.DialTimeout("tcp", address, probeDialTimeout)
				if err == nil {
					conn.Close()
					return nil
				}
				if clk.Now().After(deadline) {
					return fmt.Errorf("timed out after %v waiting for %s to accept connections", timeout, address)
				}
			}
		}
	}
}

// FileProbe waits for a file to appear in a directory, via inotify.
// The existence check happens after the watch is installed: a file
// that lands between the two can satisfy either the stat or the watch,
// so nothing is missed in either ordering.
func FileProbe(directory, filename string) Probe {
	return func(ctx context.Context, clk clock.Clock, processDone <-chan struct{}, timeout time.Duration) error {
		target := filepath.Join(directory, filename)

		watch, err := newFileWatch(directory, filename)
		if err != nil {
			return fmt.Errorf("watching for %s: %w", target, err)
		}
		defer watch.Close()

		if _, statErr := os.Stat(target); statErr == nil {
			return nil
		}

		select {
		case <-watch.Ready():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-processDone:
			return fmt.Errorf("process exited before %s appeared", target)
		case <-clk.After(timeout):
			return fmt.Errorf("timed out after %v waiting for %s", timeout, target)
		}
	}
}
