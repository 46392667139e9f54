// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides buildjail's standard wire encoding.
//
// Everything that crosses the boundary between the sandboxed worker and
// the mediator is CBOR: call requests, reply frames, and the typed
// argument and result values carried inside them. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2) so the same logical value
// always produces identical bytes.
//
// For buffer-oriented operations (frame payloads, arguments):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the per-call socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Large payloads (file contents, captured subprocess output) may be
// compressed before they are placed in a frame. [Compress] and
// [Decompress] apply the algorithm named by a [CompressionTag]; the tag
// travels next to the payload so the receiver never guesses.
//
// # Struct Tag Rules
//
// Types that only cross the RPC boundary use `cbor` tags. Types that are
// also written to YAML config or logged as JSON use `json` tags, which
// fxamacker/cbor reads as a fallback. Never put both on one field.
package codec
