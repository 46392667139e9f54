// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"fmt"

	"github.com/bureau-foundation/buildjail/lib/codec"
)

// Kind describes the reply shape of a command.
type Kind uint8

const (
	// KindSingle commands reply with exactly one value.
	KindSingle Kind = iota + 1

	// KindStreaming commands reply with zero or more values.
	KindStreaming
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Request is the first and only message a caller sends on a call.
type Request struct {
	Command string `cbor:"command"`

	// Args is the CBOR encoding of the command's argument struct. Empty
	// means the zero value.
	Args []byte `cbor:"args,omitempty"`
}

// FrameKind discriminates frames.
type FrameKind string

const (
	FrameValue FrameKind = "value"
	FrameDone  FrameKind = "done"
	FrameError FrameKind = "error"
)

// Terminal reports whether no frame may follow one of this kind.
func (k FrameKind) Terminal() bool {
	return k == FrameDone || k == FrameError
}

// Frame is one message on a reply channel.
type Frame struct {
	Kind FrameKind `cbor:"kind"`

	// Payload is the CBOR encoding of a value, compressed with
	// Compression when that is not CompressionNone. Set only on
	// FrameValue.
	Payload     []byte               `cbor:"payload,omitempty"`
	Compression codec.CompressionTag `cbor:"compression,omitempty"`

	// Error is set only on FrameError.
	Error *Error `cbor:"error,omitempty"`
}

// decodePayload decompresses (if needed) and decodes a value frame's
// payload into v.
func (f Frame) decodePayload(v any) error {
	payload := f.Payload
	if f.Compression != codec.CompressionNone {
		decompressed, err := codec.Decompress(f.Compression, payload)
		if err != nil {
			return err
		}
		payload = decompressed
	}
	return codec.Unmarshal(payload, v)
}

// validate checks the structural rules a single frame must satisfy.
func (f Frame) validate() error {
	switch f.Kind {
	case FrameValue:
		if f.Error != nil {
			return fmt.Errorf("value frame carries an error")
		}
	case FrameDone:
		if len(f.Payload) > 0 || f.Error != nil {
			return fmt.Errorf("done frame carries data")
		}
	case FrameError:
		if f.Error == nil {
			return fmt.Errorf("error frame without an error")
		}
	default:
		return fmt.Errorf("unknown frame kind %q", f.Kind)
	}
	return nil
}
