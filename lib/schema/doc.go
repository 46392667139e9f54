// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the closed set of commands a sandboxed worker
// may send to the mediator, with the argument and result shapes each
// command carries on the wire.
//
// The set is closed: the mediator registers handlers only for names in
// [Commands], and the worker's typed client only issues names from the
// same list. Adding a command means adding it here, registering a
// handler in the mediator, and adding a method to the worker's host
// client.
//
// All types encode as CBOR through lib/codec. Field tags are lowercase
// snake_case to match the rest of the wire protocol.
package schema
