// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor drives one build run on the host.
//
// A run loads the plan document, builds the [mediator.Mediator] from
// configuration, serves its registry on a fresh Unix socket, launches
// the worker through [sandbox.Sandbox], and waits for it to exit. The
// run fails with a [*Fault] when the worker reports failure through
// finish, exits without reporting, or exits nonzero. Failing to listen
// or to spawn the worker is returned as a plain error: the caller
// treats it as fatal.
package supervisor
