// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Buildjail-worker is the zero-privilege side of a build. buildjail
// starts it inside a sandbox whose only channel to the host is the
// mediator socket named by BUILDJAIL_SOCKET. It sets no_new_privs,
// fetches its plan with one bootstrap call, runs every step through the
// mediator, and reports the outcome with finish. The build log goes to
// stdout; a failed plan exits 1.
package main
