// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc implements the call protocol between a sandboxed worker
// and the mediator that holds its capabilities.
//
// Every call gets its own reply channel, created when the call is
// issued and released when a terminal frame arrives or the caller
// closes the stream. Replies never share a channel, so concurrent calls
// cannot see each other's frames.
//
// A reply is a sequence of frames: zero or more [FrameValue] frames in
// production order, then exactly one terminal frame ([FrameDone] or
// [FrameError]). Nothing follows a terminal frame. Single-result
// commands are one-element streams on the wire: one Value then Done.
//
// Two transports carry the same frames:
//
//   - [Local] runs handlers in-process. Each call gets a fresh buffered
//     channel and a cancel func that tells the producer the caller has
//     gone away.
//   - [SocketServer] and [SocketTransport] use a Unix socket with one
//     connection per call. The client writes one CBOR request; the
//     server writes the frames as a CBOR sequence and closes. A client
//     that closes the connection early cancels the handler.
//
// Handlers are registered once in a [Registry], which is immutable after
// construction. [Unary] and [Streaming] adapt typed Go functions to the
// wire handler shape. Callers use [Client] with the typed helpers [Call]
// and [CallStream].
package rpc
