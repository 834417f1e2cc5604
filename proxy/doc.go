// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy manages one session's reverse-proxy route: a
// token-scoped public path mapped to the loopback protocol bridge.
//
// Routes for all sessions live in a single shared routes file included
// by the proxy's main configuration. Every change follows the same
// discipline: take an exclusive lock, splice this session's block into
// the current content, write a candidate file durably, validate the
// candidate against the full proxy configuration, and only then rename
// it into place and signal a reload. A failed validation leaves the
// live file untouched, so a broken session can never corrupt another
// session's route.
//
// The package also publishes the session link, discovering the
// host-visible port for the container's proxy port from the container
// platform's control socket. That discovery is best-effort and
// informational; the token in the path is the only access gate.
package proxy
