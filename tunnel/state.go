// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import "fmt"

// State is the lifecycle position of a Relay.
type State int

const (
	// StateAwaitingPreamble accumulates the CONNECT request headers.
	StateAwaitingPreamble State = iota

	// StateEstablished has a parsed target and is dialing it.
	StateEstablished

	// StateRelaying is forwarding bytes in both directions.
	StateRelaying

	// StateRejected refused the preamble without contacting upstream.
	StateRejected

	// StateClosed has released both sockets. Terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingPreamble:
		return "awaiting-preamble"
	case StateEstablished:
		return "established"
	case StateRelaying:
		return "relaying"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
