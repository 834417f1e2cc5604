// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/Foxerine/vein-based-iov-simulator/bridge"
	"github.com/Foxerine/vein-based-iov-simulator/display"
	"github.com/Foxerine/vein-based-iov-simulator/engine"
	"github.com/Foxerine/vein-based-iov-simulator/lib/binhash"
	"github.com/Foxerine/vein-based-iov-simulator/lib/config"
	"github.com/Foxerine/vein-based-iov-simulator/session"
)

// toolset holds the resolved binaries for everything this session's
// mode will launch. Resolving them all up front means a missing tool
// aborts before any process starts, not halfway through the chain.
type toolset struct {
	engine  string
	bridge  string
	proxy   string
	display display.Binaries
}

// preflight resolves and verifies the session's binaries, logging each
// tool's content hash for provenance.
func preflight(cfg *config.Config, descriptor *session.Descriptor, logger *slog.Logger) (*toolset, error) {
	tools := &toolset{}

	var err error
	if tools.engine, err = resolveTool(cfg, cfg.Engine.Binary, "simulation engine", logger); err != nil {
		return nil, err
	}

	if tools.bridge, err = bridge.Resolve(cfg); err != nil {
		return nil, err
	}
	logProvenance(logger, "transport bridge", tools.bridge)

	if engine.NeedsCompile(cfg) {
		if _, err = resolveTool(cfg, "opp_makemake", "build tool opp_makemake", logger); err != nil {
			return nil, err
		}
		if _, err = resolveTool(cfg, "make", "build tool make", logger); err != nil {
			return nil, err
		}
	}

	if !descriptor.Interactive() {
		return tools, nil
	}

	if tools.display.Framebuffer, err = resolveTool(cfg, display.FramebufferBinary, "virtual framebuffer", logger); err != nil {
		return nil, err
	}
	if tools.display.RemoteDesktop, err = resolveTool(cfg, display.RemoteDesktopBinary, "remote desktop server", logger); err != nil {
		return nil, err
	}
	if tools.display.ProtocolBridge, err = resolveTool(cfg, display.ProtocolBridgeBinary, "display protocol bridge", logger); err != nil {
		return nil, err
	}
	if tools.proxy, err = resolveTool(cfg, cfg.Proxy.ValidateBinary, "reverse proxy", logger); err != nil {
		return nil, err
	}
	return tools, nil
}

// resolveTool locates one binary and verifies it is an executable
// file on disk.
func resolveTool(cfg *config.Config, name, what string, logger *slog.Logger) (string, error) {
	path, err := cfg.BinaryPath(name)
	if err != nil {
		return "", &session.ConfigurationError{What: what, Err: err}
	}
	if err := config.VerifyExecutable(path); err != nil {
		return "", &session.ConfigurationError{
			What: what,
			Err:  fmt.Errorf("expected at %s: %w", path, err),
		}
	}
	logProvenance(logger, what, path)
	return path, nil
}

// logProvenance records which exact binary a tool name resolved to.
func logProvenance(logger *slog.Logger, what, path string) {
	digest, err := binhash.HashFile(path)
	if err != nil {
		logger.Warn("hashing tool binary failed", "tool", what, "path", path, "error", err)
		return
	}
	logger.Debug("tool resolved", "tool", what, "path", path, "hash", binhash.FormatDigest(digest))
}
