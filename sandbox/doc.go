// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox confines the build worker with bubblewrap (bwrap).
//
// The worker's only channel to the outside is the mediator's Unix
// socket. [Builder] assembles a bwrap command line that unshares every
// namespace, clears the environment, mounts nothing from the host except
// the worker binary (read-only), the socket directory, and any extra
// read-only paths the configuration names, and exports the in-sandbox
// socket path in BUILDJAIL_SOCKET.
//
// [Sandbox] turns that into an [exec.Cmd]. When bwrap cannot run on the
// host, [FallbackError] refuses to start the worker and [FallbackWarn]
// starts it unconfined with an environment holding only the socket
// path. Either way the worker calls [RestrictPrivileges] on startup so
// it can never gain privileges through exec.
//
// [Capabilities] probes the host for bwrap and unprivileged user
// namespaces.
package sandbox
