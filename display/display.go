// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package display

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/Foxerine/vein-based-iov-simulator/lib/config"
	"github.com/Foxerine/vein-based-iov-simulator/session"
	"github.com/Foxerine/vein-based-iov-simulator/supervise"
)

// socketDir is where X servers publish their listening sockets.
const socketDir = "/tmp/.X11-unix"

// Canonical tool names, resolved against the configured bin directory
// and PATH at preflight.
const (
	// FramebufferBinary is the virtual X server.
	FramebufferBinary = "Xvfb"

	// RemoteDesktopBinary is the VNC server.
	RemoteDesktopBinary = "x11vnc"

	// ProtocolBridgeBinary is the WebSocket-to-VNC relay.
	ProtocolBridgeBinary = "websockify"
)

// Binaries holds the resolved display tool paths. Preflight validates
// them before anything starts.
type Binaries struct {
	// Framebuffer is the virtual X server (Xvfb).
	Framebuffer string

	// RemoteDesktop is the VNC server (x11vnc).
	RemoteDesktop string

	// ProtocolBridge is the WebSocket-to-VNC relay (websockify).
	ProtocolBridge string
}

// Target returns the DISPLAY value for the configured display number.
func Target(cfg *config.Config) string {
	return fmt.Sprintf(":%d", cfg.Display.Number)
}

// FramebufferSpec is the supervisor spec for the virtual framebuffer.
// Readiness is the X socket appearing in the conventional socket
// directory; -nolisten tcp keeps the server off the network entirely.
func FramebufferSpec(cfg *config.Config, binary string) supervise.Spec {
	geometry := fmt.Sprintf("%dx%dx%d", cfg.Display.Width, cfg.Display.Height, cfg.Display.Depth)
	return supervise.Spec{
		Name: "virtual-framebuffer",
		Path: binary,
		Args: []string{
			Target(cfg),
			"-screen", "0", geometry,
			"-nolisten", "tcp",
		},
		Ready: supervise.FileProbe(socketDir, socketName(cfg.Display.Number)),
	}
}

// RemoteDesktopSpec is the supervisor spec for the remote-desktop
// server. -localhost binds it strictly to loopback: the only way in is
// through the protocol bridge and the session's proxy route, never a
// routable interface.
func RemoteDesktopSpec(cfg *config.Config, binary string) supervise.Spec {
	return supervise.Spec{
		Name: "remote-desktop",
		Path: binary,
		Args: []string{
			"-display", Target(cfg),
			"-localhost",
			"-rfbport", strconv.Itoa(cfg.Display.VNCPort),
			"-forever",
			"-shared",
			"-nopw",
		},
		Ready: supervise.SocketProbe(loopback(cfg.Display.VNCPort)),
	}
}

// ProtocolBridgeSpec is the supervisor spec for the WebSocket bridge
// serving browser clients. Both the listen endpoint and the relay
// target are loopback addresses.
func ProtocolBridgeSpec(cfg *config.Config, binary string) supervise.Spec {
	return supervise.Spec{
		Name: "protocol-bridge",
		Path: binary,
		Args: []string{
			"--web", cfg.Display.WebRoot,
			loopback(cfg.Display.BridgePort),
			loopback(cfg.Display.VNCPort),
		},
		Ready: supervise.SocketProbe(loopback(cfg.Display.BridgePort)),
	}
}

// Start launches the display chain in dependency order, tracking each
// process on the session context for teardown. Returns the DISPLAY
// value for the engine's environment overlay. On a mid-chain failure
// the already-started processes stay tracked; the session teardown
// owns them.
func Start(ctx context.Context, cfg *config.Config, binaries Binaries, sup *supervise.Supervisor, sessionCtx *session.Context) (string, error) {
	if err := ensureSocketDir(socketDir); err != nil {
		return "", &session.ConfigurationError{What: "X11 socket directory", Err: err}
	}

	specs := []supervise.Spec{
		FramebufferSpec(cfg, binaries.Framebuffer),
		RemoteDesktopSpec(cfg, binaries.RemoteDesktop),
		ProtocolBridgeSpec(cfg, binaries.ProtocolBridge),
	}
	for _, spec := range specs {
		process, err := sup.Start(ctx, spec)
		if err != nil {
			return "", err
		}
		sessionCtx.Track(process)
	}

	return Target(cfg), nil
}

// ensureSocketDir creates the X socket directory ahead of the
// framebuffer, so the readiness watch has a directory to attach to
// before the server drops its socket in. When we create it, it gets
// the conventional sticky world-writable mode X servers expect; a
// pre-existing directory keeps whatever mode it has.
func ensureSocketDir(dir string) error {
	err := os.Mkdir(dir, 0o777)
	if err == nil {
		return os.Chmod(dir, 0o777|os.ModeSticky)
	}
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	return err
}

func socketName(number int) string {
	return fmt.Sprintf("X%d", number)
}

func loopback(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
