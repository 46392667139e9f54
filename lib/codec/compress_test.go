// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestCompressRoundtrip(t *testing.T) {
	payload := bytes.Repeat([]byte("import { EditorView } from '@codemirror/view'\n"), 512)

	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := Compress(tag, payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if tag != CompressionNone && len(compressed) >= len(payload) {
				t.Errorf("compressed size %d not smaller than input %d", len(compressed), len(payload))
			}

			decompressed, err := Decompress(tag, compressed)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(decompressed, payload) {
				t.Errorf("roundtrip mismatch: got %d bytes, want %d", len(decompressed), len(payload))
			}
		})
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
		if _, err := Decompress(tag, []byte("not compressed at all")); err == nil {
			t.Errorf("%s: expected error for garbage input", tag)
		}
	}
}

func TestParseCompressionTag(t *testing.T) {
	tests := []struct {
		name    string
		want    CompressionTag
		wantErr bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"lz4", CompressionLZ4, false},
		{"zstd", CompressionZstd, false},
		{"gzip", 0, true},
	}
	for _, test := range tests {
		got, err := ParseCompressionTag(test.name)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseCompressionTag(%q) error = %v, wantErr %v", test.name, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("ParseCompressionTag(%q) = %v, want %v", test.name, got, test.want)
		}
	}
}
