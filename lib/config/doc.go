// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads buildjail configuration.
//
// Configuration comes from a single file named by:
//   - BUILDJAIL_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Files ending in .json
// or .jsonc are read as JSON with comments and trailing commas; any
// other extension is YAML.
//
// The file may carry development and production sections. The section
// matching the environment field is decoded over the base values, so it
// only needs the keys it changes. ${VAR} and ${VAR:-default} references
// in path-valued fields are expanded after overrides apply.
package config
