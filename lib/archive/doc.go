// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive compresses session artifacts for retention.
//
// The session log (and any other staged artifact) is archived as a
// standard single-file compressed stream — a plain zstd or lz4 frame,
// named by extension — so downstream tooling can decompress it without
// knowing anything about this module. Zstd is the default codec (logs
// and result vectors are text-heavy); lz4 trades ratio for speed on
// very large result sets.
package archive
