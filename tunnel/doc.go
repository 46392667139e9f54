// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tunnel implements the CONNECT-tunneling egress proxy that is
// the only route out of the build container's internal network.
//
// The build container is attached to a docker network created with
// --internal, so it has no route to the outside world. The proxy
// container sits on both that network and an ordinary external one.
// Package managers inside the build are pointed at the proxy
// (npm set proxy=http://proxy:3000/), issue HTTP CONNECT requests, and
// the proxy relays raw bytes to the requested host:port. TLS passes
// through untouched; the proxy never terminates it.
//
// [Listener] accepts connections and runs one [Relay] per accepted
// socket, each fully independent. A Relay moves through
// [StateAwaitingPreamble], [StateEstablished], [StateRelaying] and
// [StateClosed], or [StateRejected] then [StateClosed] when the
// preamble is malformed or larger than the configured header limit.
// Bytes that arrive after the end of the CONNECT headers in the same
// read are tunnel payload: they are written upstream before anything
// read later.
//
// Relaying runs both directions concurrently. A clean EOF in one
// direction is propagated as a half-close on the peer so that the other
// direction can drain; an error in one direction is logged and shuts
// down only that direction. Once one direction has finished, the other
// gets [Options.DrainTimeout] to finish before both sockets are closed,
// so a peer that never closes cannot pin a half-open connection.
package tunnel
