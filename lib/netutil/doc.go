// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides socket helpers shared by the tunnel relay and
// the RPC socket transport.
//
// [IsExpectedCloseError] classifies errors that occur during normal
// teardown of a bidirectional relay, so that they are not logged as
// failures. [CloseWrite] and [CloseRead] shut down one direction of a
// connection when the concrete type supports it, reporting whether a
// half-close was possible so callers can fall back to a full close.
package netutil
