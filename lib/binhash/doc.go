// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes file digests for binary provenance logging.
//
// The orchestrator hashes every tool binary it validates during
// preflight (simulation engine, transport bridge, display chain) so a
// session's log records exactly which builds it drove. Digests are
// SHA-256, hex-encoded.
package binhash
