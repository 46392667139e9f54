// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Buildjail runs one build. It loads the configuration, serves the
// capability mediator on a private Unix socket, starts
// buildjail-worker inside a bubblewrap sandbox, and exits nonzero when
// the worker reports a fault or exits unsuccessfully.
//
// Positional arguments select the plan and reach the worker through
// its bootstrap message:
//
//	buildjail --config buildjail.yaml release
package main
