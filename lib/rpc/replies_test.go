// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/buildjail/lib/codec"
)

type recordingSink struct {
	frames []Frame
}

func (r *recordingSink) Send(_ context.Context, frame Frame) error {
	r.frames = append(r.frames, frame)
	return nil
}

func TestRepliesRejectFramesAfterTerminal(t *testing.T) {
	for _, terminate := range []string{"done", "fail"} {
		t.Run(terminate, func(t *testing.T) {
			sink := &recordingSink{}
			replies := NewReplies(sink, codec.CompressionNone, 0)
			ctx := context.Background()

			if err := replies.Value(ctx, 1); err != nil {
				t.Fatalf("Value: %v", err)
			}
			if terminate == "done" {
				replies.Done(ctx)
			} else {
				replies.Fail(ctx, Errorf(CodeStepFailed, "boom"))
			}

			if err := replies.Value(ctx, 2); !errors.Is(err, ErrChannelClosed) {
				t.Errorf("Value after terminal = %v, want ErrChannelClosed", err)
			}
			if err := replies.Done(ctx); !errors.Is(err, ErrChannelClosed) {
				t.Errorf("Done after terminal = %v, want ErrChannelClosed", err)
			}
			if err := replies.Fail(ctx, Errorf(CodeHandlerFailed, "late")); !errors.Is(err, ErrChannelClosed) {
				t.Errorf("Fail after terminal = %v, want ErrChannelClosed", err)
			}
			if len(sink.frames) != 2 {
				t.Fatalf("sink received %d frames, want 2", len(sink.frames))
			}
			if !replies.Closed() || replies.Values() != 1 {
				t.Errorf("Closed=%v Values=%d", replies.Closed(), replies.Values())
			}
		})
	}
}

func TestRepliesCompressAboveThreshold(t *testing.T) {
	sink := &recordingSink{}
	replies := NewReplies(sink, codec.CompressionZstd, 128)
	ctx := context.Background()

	replies.Value(ctx, "short")
	replies.Value(ctx, strings.Repeat("x", 4096))

	if sink.frames[0].Compression != codec.CompressionNone {
		t.Errorf("small payload compressed with %s", sink.frames[0].Compression)
	}
	if sink.frames[1].Compression != codec.CompressionZstd {
		t.Errorf("large payload compression = %s, want zstd", sink.frames[1].Compression)
	}
	var decoded string
	if err := sink.frames[1].decodePayload(&decoded); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if len(decoded) != 4096 {
		t.Errorf("decoded length = %d", len(decoded))
	}
}

// TestServeAlwaysTerminates checks every registry outcome ends in
// exactly one terminal frame.
func TestServeAlwaysTerminates(t *testing.T) {
	registry := NewRegistry(map[string]Handler{
		"ok": Unary(func(context.Context, struct{}) (int, error) { return 7, nil }),
		"silent": {Kind: KindSingle, Func: func(context.Context, []byte, func(any) error) error {
			return nil
		}},
		"chatty": {Kind: KindSingle, Func: func(_ context.Context, _ []byte, yield func(any) error) error {
			if err := yield(1); err != nil {
				return err
			}
			return yield(2)
		}},
		"panic": Streaming(func(_ context.Context, _ struct{}, yield func(int) error) error {
			yield(1)
			panic("mid-stream")
		}),
	})

	tests := []struct {
		command string
		values  int
		code    ErrorCode
	}{
		{"ok", 1, ""},
		{"silent", 0, CodeHandlerFailed},
		{"chatty", 1, CodeHandlerFailed},
		{"panic", 1, CodeHandlerFailed},
		{"missing", 0, CodeProtocolViolation},
	}
	for _, test := range tests {
		t.Run(test.command, func(t *testing.T) {
			sink := &recordingSink{}
			failure := registry.Serve(context.Background(), Request{Command: test.command}, NewReplies(sink, codec.CompressionNone, 0))

			terminals := 0
			values := 0
			for _, frame := range sink.frames {
				if frame.Kind.Terminal() {
					terminals++
				} else {
					values++
				}
			}
			if terminals != 1 {
				t.Fatalf("%d terminal frames, want 1", terminals)
			}
			if !sink.frames[len(sink.frames)-1].Kind.Terminal() {
				t.Fatal("last frame is not terminal")
			}
			if values != test.values {
				t.Errorf("%d value frames, want %d", values, test.values)
			}
			if test.code == "" {
				if failure != nil {
					t.Errorf("failure = %v, want nil", failure)
				}
			} else if failure == nil || failure.Code != test.code {
				t.Errorf("failure = %v, want %s", failure, test.code)
			}
		})
	}
}

func TestRegistryNames(t *testing.T) {
	names := testRegistry(nil).Names()
	want := []string{"count", "deny", "echo", "forever", "panic"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Names = %v, want %v", names, want)
	}
}

func TestNewRegistryRejectsMissingFunc(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewRegistry(map[string]Handler{"broken": {Kind: KindSingle}})
}

func TestErrorIs(t *testing.T) {
	err := Errorf(CodeAccessDenied, "build/out.exe")
	if !errors.Is(err, &Error{Code: CodeAccessDenied}) {
		t.Error("code-only target did not match")
	}
	if errors.Is(err, &Error{Code: CodeNotFound}) {
		t.Error("different code matched")
	}
	if errors.Is(err, &Error{Code: CodeAccessDenied, Message: "other"}) {
		t.Error("different message matched")
	}
	if AsError(context.Canceled).Code != CodeUnavailable {
		t.Error("context.Canceled not classified as unavailable")
	}
	if !errors.Is(AsError(context.Canceled), context.Canceled) {
		t.Error("AsError lost the local cause")
	}
}

// TestSocketServerRejectsGarbage writes a request that is not CBOR and
// expects a protocol_violation error frame.
func TestSocketServerRejectsGarbage(t *testing.T) {
	socketPath := serveSocket(t, testRegistry(nil), nil)
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte{0xff, 0xff, 0xff})
	conn.(*net.UnixConn).CloseWrite()

	conn.SetReadDeadline(time.Now().Add(testTimeout))
	var frame Frame
	if err := codec.NewDecoder(conn).Decode(&frame); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Kind != FrameError || frame.Error.Code != CodeProtocolViolation {
		t.Fatalf("frame = %+v, want protocol_violation error", frame)
	}
}
