// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervise starts and stops the session's long-running helper
// processes: the virtual framebuffer, the remote-desktop server, the
// protocol bridge, and the transport bridge.
//
// Every child runs in its own process group so that termination
// signals reach the whole tree, and every start performs a bounded
// readiness wait (a TCP connect or a file appearing) before the next
// stage is allowed to depend on it. A process that dies during its
// readiness window fails the start immediately instead of burning the
// full timeout.
//
// The simulation engine itself is not supervised here — it is the
// session's foreground workload and runs under the engine package's
// own blocking driver.
package supervise
