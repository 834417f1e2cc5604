// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package session defines the session descriptor, the error taxonomy,
// and the session context that owns every resource one orchestrated
// job acquires.
//
// A session is one job's complete process lifecycle, headless or
// interactive. Resolve turns the invocation arguments into a
// Descriptor; Context accumulates started processes and teardown
// actions as stages run; Shutdown releases everything in strict
// reverse acquisition order on every exit path.
package session
