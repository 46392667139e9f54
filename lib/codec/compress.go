// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm applied to a frame payload.
// The values are protocol constants shared by worker and mediator.
type CompressionTag uint8

const (
	// CompressionNone marks an uncompressed payload.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is the LZ4 frame format. Cheap to produce, which
	// suits streamed subprocess output.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level. Better ratios for
	// source files and bundles read or written through the mediator.
	CompressionZstd CompressionTag = 2
)

// String returns the configuration name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses the configuration name of a tag. The empty
// string means none.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// zstd encoders and decoders are safe for concurrent EncodeAll and
// DecodeAll calls and expensive to construct, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// maxDecompressedSize bounds the output of Decompress. A compressed
// payload that expands past this is rejected rather than exhausting
// memory.
const maxDecompressedSize = 256 << 20

// Compress applies the algorithm named by tag to data.
func Compress(tag CompressionTag, data []byte) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil
	default:
		return nil, fmt.Errorf("compress: %s", tag)
	}
}

// Decompress reverses Compress.
func Decompress(tag CompressionTag, data []byte) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return decoded, nil
	case CompressionLZ4:
		reader := io.LimitReader(lz4.NewReader(bytes.NewReader(data)), maxDecompressedSize+1)
		decoded, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if len(decoded) > maxDecompressedSize {
			return nil, fmt.Errorf("lz4 decompress: payload exceeds %d bytes", maxDecompressedSize)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("decompress: %s", tag)
	}
}
