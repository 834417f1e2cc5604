// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package display builds and starts the interactive session's display
// chain: a virtual framebuffer, a remote-desktop server scoped to
// loopback, and the protocol bridge that serves browser clients.
//
// The chain starts in dependency order and every link is gated on a
// readiness probe, so a later stage never runs against a half-up
// display. Headless sessions never touch this package.
package display
