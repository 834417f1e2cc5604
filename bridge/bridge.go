// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/Foxerine/vein-based-iov-simulator/lib/config"
	"github.com/Foxerine/vein-based-iov-simulator/session"
	"github.com/Foxerine/vein-based-iov-simulator/supervise"
)

// Resolve locates the transport-bridge binary and verifies it is an
// executable file. A missing or unusable binary is a configuration
// fault naming the path searched, distinct from the bridge failing to
// come up once found.
func Resolve(cfg *config.Config) (string, error) {
	path, err := cfg.BinaryPath(cfg.Bridge.Binary)
	if err != nil {
		return "", &session.ConfigurationError{What: "transport bridge binary", Err: err}
	}
	if err := config.VerifyExecutable(path); err != nil {
		return "", &session.ConfigurationError{
			What: "transport bridge binary",
			Err:  fmt.Errorf("expected at %s: %w", path, err),
		}
	}
	return path, nil
}

// Spec is the supervisor spec for the transport bridge. The bridge
// binds loopback by default; -vv routes its per-launch diagnostics
// into the session log.
func Spec(cfg *config.Config, binary string) supervise.Spec {
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Bridge.Port))
	return supervise.Spec{
		Name: "transport-bridge",
		Path: binary,
		Args: []string{
			"-vv",
			"-p", strconv.Itoa(cfg.Bridge.Port),
		},
		Ready: supervise.SocketProbe(address),
	}
}

// Start launches the bridge and tracks it for teardown. Exactly one
// bridge runs per session.
func Start(ctx context.Context, cfg *config.Config, binary string, sup *supervise.Supervisor, sessionCtx *session.Context) error {
	process, err := sup.Start(ctx, Spec(cfg, binary))
	if err != nil {
		return err
	}
	sessionCtx.Track(process)
	return nil
}
