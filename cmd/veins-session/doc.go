// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// veins-session orchestrates one isolated simulation job: it resolves
// the invocation, brings up the session's process graph (virtual
// display, remote-desktop chain, and proxy route in interactive mode;
// the transport bridge always), builds the project when it ships
// sources, runs the simulation engine, stages the results, and tears
// everything down in reverse order on every exit path.
//
// The process exit code is the job's terminal result for the queue
// that launched it: 0 on success, the engine's own status propagated
// unchanged, 124 when the session duration limit expired, and 1 for
// any orchestrator fault. In interactive mode the session's viewer
// link is the only thing written to stdout.
package main
