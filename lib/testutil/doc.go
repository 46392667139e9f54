// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for buildjail packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, which have a 108-byte path limit that t.TempDir()
// paths routinely exceed. [Workspace] lays out a directory tree from a
// map of relative paths to contents, for mediator and worker tests.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls. [ReadAllWithin] reads a
// connection to EOF under a deadline.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
