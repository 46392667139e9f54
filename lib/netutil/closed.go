// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"slices"
	"syscall"
)

// teardownErrnos are the socket errors a relay sees when the far side
// goes away mid-copy or a half-close races the peer's own shutdown.
var teardownErrnos = []syscall.Errno{
	syscall.EPIPE,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.ENOTCONN,
}

// IsExpectedCloseError reports whether err only means a tunnel leg
// ended: EOF, a closed connection or pipe, or one of teardownErrnos.
// Anything else is worth logging.
func IsExpectedCloseError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return true
	}
	var errno syscall.Errno
	return errors.As(err, &errno) && slices.Contains(teardownErrnos, errno)
}
