// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, time.NewTicker, or time.Sleep directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when Advance
// is called.
//
// The supervisor's readiness waits and the engine's session-duration
// bound both run on a Clock, so their timeout behavior is tested
// without real sleeps:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	s := supervise.New(supervise.Options{Clock: c})
//	// ... start the readiness wait in a goroutine ...
//	c.WaitForTimers(1)          // wait for the deadline to register
//	c.Advance(15 * time.Second) // expire it deterministically
//
// When a goroutine calls Sleep, After, or NewTicker on a FakeClock, it
// registers a pending waiter. Use WaitForTimers to block until a given
// number of waiters are registered before calling Advance; that
// eliminates the race between timer registration and time advancement.
package clock
