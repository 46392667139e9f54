// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import "net"

type writeCloser interface {
	CloseWrite() error
}

type readCloser interface {
	CloseRead() error
}

// CloseWrite shuts down the writing side of conn, which the peer
// observes as EOF. Returns false when conn has no half-close (net.Pipe,
// TLS wrappers); the caller should close the whole connection instead.
func CloseWrite(conn net.Conn) bool {
	closer, ok := conn.(writeCloser)
	if !ok {
		return false
	}
	return closer.CloseWrite() == nil
}

// CloseRead shuts down the reading side of conn. Returns false when conn
// has no half-close.
func CloseRead(conn net.Conn) bool {
	closer, ok := conn.(readCloser)
	if !ok {
		return false
	}
	return closer.CloseRead() == nil
}
