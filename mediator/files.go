// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediator

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/natefinch/atomic"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/buildjail/lib/rpc"
	"github.com/bureau-foundation/buildjail/lib/schema"
)

// DefaultMaxFileBytes caps a single read or write when
// Options.MaxFileBytes is zero. It stays below the socket server's
// request limit so an allowed write always fits in one request.
const DefaultMaxFileBytes = 48 << 20

func (m *Mediator) readFile(_ context.Context, args schema.ReadFileArgs) (schema.FileContent, error) {
	resolved, err := m.policy.ResolveRead(args.Path)
	if err != nil {
		return schema.FileContent{}, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return schema.FileContent{}, err
	}
	if !info.Mode().IsRegular() {
		return schema.FileContent{}, rpc.Errorf(rpc.CodeInvalidArgument, "%s is not a regular file", args.Path)
	}
	if info.Size() > m.maxFileBytes {
		return schema.FileContent{}, rpc.Errorf(rpc.CodeInvalidArgument, "%s is %d bytes, limit is %d", args.Path, info.Size(), m.maxFileBytes)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return schema.FileContent{}, err
	}
	m.logger.Debug("file read", "path", args.Path, "size", len(data))
	return schema.FileContent{Path: args.Path, Data: data}, nil
}

// writeFile checks the write grant before any filesystem change and
// replaces the target atomically.
func (m *Mediator) writeFile(_ context.Context, args schema.WriteFileArgs) (schema.WriteResult, error) {
	target, err := m.policy.ResolveWrite(args.Path)
	if err != nil {
		m.logger.Info("write denied", "path", args.Path, "error", err)
		return schema.WriteResult{}, err
	}
	if int64(len(args.Data)) > m.maxFileBytes {
		return schema.WriteResult{}, rpc.Errorf(rpc.CodeInvalidArgument, "write of %d bytes exceeds limit %d", len(args.Data), m.maxFileBytes)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return schema.WriteResult{}, fmt.Errorf("creating directory for %s: %w", args.Path, err)
	}
	if err := atomic.WriteFile(target, bytes.NewReader(args.Data)); err != nil {
		return schema.WriteResult{}, fmt.Errorf("writing %s: %w", args.Path, err)
	}

	digest := blake3.Sum256(args.Data)
	result := schema.WriteResult{
		Path:   filepath.ToSlash(mustRelative(m.policy.Workspace(), target)),
		Size:   int64(len(args.Data)),
		Digest: hex.EncodeToString(digest[:]),
	}
	m.logger.Info("file written", "path", result.Path, "size", result.Size, "digest", result.Digest)
	return result, nil
}

// listFiles streams every readable regular file matching the pattern.
// Hidden files and directories (leading ".") are skipped.
func (m *Mediator) listFiles(ctx context.Context, args schema.ListFilesArgs, yield func(schema.FileEntry) error) error {
	pattern := args.Pattern
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return rpc.Errorf(rpc.CodeInvalidArgument, "invalid pattern %q", args.Pattern)
	}

	return doublestar.GlobWalk(os.DirFS(m.policy.Workspace()), pattern, func(match string, entry fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if hidden(match) || !m.policy.CanRead(match) {
			return nil
		}
		resolved, err := m.policy.ResolveRead(match)
		if err != nil {
			return nil
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		return yield(schema.FileEntry{Path: match, Size: info.Size()})
	}, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
}

func hidden(slashPath string) bool {
	for _, component := range strings.Split(slashPath, "/") {
		if strings.HasPrefix(component, ".") {
			return true
		}
	}
	return false
}

func mustRelative(base, target string) string {
	relative, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return relative
}
