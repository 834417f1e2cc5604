// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the session
// orchestrator.
//
// Configuration is loaded from a single YAML file named by the
// VEINS_SESSION_CONFIG environment variable. When the variable is
// unset, compiled defaults apply — the job container image bakes the
// canonical filesystem layout, so an absent config file is the normal
// production case, and a config file is an operator override, not a
// requirement.
//
// The only expansion performed on values is ${VAR} and ${VAR:-default}
// substitution in path fields, for portability across image layouts.
package config
