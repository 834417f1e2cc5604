// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint exit helpers shared by binaries.
package process
