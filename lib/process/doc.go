// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for buildjail
// binaries. These functions centralize the raw I/O that happens before
// or after the structured logger exists:
//
//   - Logger construction from the --verbose flag and whether stderr
//     is a terminal.
//   - Fatal error reporting to stderr and process exit after an
//     unrecoverable error in main().
package process
