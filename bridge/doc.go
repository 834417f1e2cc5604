// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge launches the transport bridge between the simulation
// engine and the external traffic simulator. The engine reaches the
// traffic simulator only through the bridge's fixed local port; the
// session never mediates that traffic, it only guarantees the bridge
// is accepting connections before the engine starts.
package bridge
