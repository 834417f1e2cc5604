// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine drives the project build and the simulation engine
// run: detect whether the job ships sources, compile them when it
// does, execute the engine with the session's passthrough arguments,
// and stage the result tree into the results mount afterwards.
//
// The engine is the one child the session waits on rather than
// supervises: its exit status is the session's outcome, so it is
// spawned directly, bounded by the session duration limit, and its
// output is teed into the session log while still streaming to the
// caller.
package engine
