// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// The Require* helpers encapsulate the timeout safety valve pattern for
// channel operations, so tests that wait on process reap channels or
// readiness signals fail with a clear message instead of hanging the
// whole test binary when something never arrives.
package testutil
