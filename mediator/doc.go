// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mediator holds the capabilities a sandboxed worker lacks and
// exposes a fixed set of them as RPC commands.
//
// The worker can read files under the configured read roots, write
// files whose path and extension match a write rule, list files, run
// named tasks from the task table, and drive the docker topology plans.
// Nothing else is reachable: there is no command that takes an argv, a
// host path outside the workspace, or a network address.
//
// A [Mediator] is immutable after [New]. Its [rpc.Registry] is served
// by the supervisor over a Unix socket (or in-process with [rpc.Local]
// in tests).
package mediator
