// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Empty is the argument and result of commands that carry nothing.
type Empty struct{}

// Bootstrap is the single message a worker receives on startup.
type Bootstrap struct {
	// Document is the markdown build document, verbatim.
	Document string `cbor:"document"`

	// Entry is the label of the fenced block inside Document that
	// holds the build plan (e.g. "build-plan.yaml").
	Entry string `cbor:"entry"`

	// Args are the run arguments given to the supervisor after the
	// document path. Args[0], when present, selects the plan to run.
	Args []string `cbor:"args,omitempty"`
}

// ReadFileArgs names a workspace-relative file to read.
type ReadFileArgs struct {
	Path string `cbor:"path"`
}

// FileContent is the result of readFile.
type FileContent struct {
	Path string `cbor:"path"`
	Data []byte `cbor:"data"`
}

// WriteFileArgs carries a workspace-relative path and the bytes to
// store there.
type WriteFileArgs struct {
	Path string `cbor:"path"`
	Data []byte `cbor:"data"`
}

// WriteResult describes a completed write.
type WriteResult struct {
	Path string `cbor:"path"`
	Size int64  `cbor:"size"`

	// Digest is the hex-encoded BLAKE3-256 hash of the written bytes.
	Digest string `cbor:"digest"`
}

// ListFilesArgs selects files under the readable roots. Pattern is a
// doublestar glob relative to the workspace ("**/*.md"). An empty
// pattern matches every file.
type ListFilesArgs struct {
	Pattern string `cbor:"pattern,omitempty"`
}

// FileEntry is one listFiles result.
type FileEntry struct {
	Path string `cbor:"path"`
	Size int64  `cbor:"size"`
}

// RunTaskArgs names a task from the mediator's task table.
type RunTaskArgs struct {
	Task string `cbor:"task"`
}

// ProcessResult is the outcome of one subprocess step. A nonzero exit
// code is data, not an error: callers decide whether it stops them.
type ProcessResult struct {
	// Step is the human-readable step name ("npm install",
	// "create network buildjail-internal").
	Step string   `cbor:"step"`
	Argv []string `cbor:"argv"`

	Stdout   string `cbor:"stdout,omitempty"`
	Stderr   string `cbor:"stderr,omitempty"`
	ExitCode int    `cbor:"exit_code"`

	// Truncated is set when captured output exceeded the mediator's
	// limit and only the tail was kept.
	Truncated bool `cbor:"truncated,omitempty"`
}

// OK reports whether the step exited zero.
func (r ProcessResult) OK() bool {
	return r.ExitCode == 0
}

// Stream names for OutputChunk.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// OutputChunk is a piece of live subprocess output.
type OutputChunk struct {
	Step   string `cbor:"step"`
	Stream string `cbor:"stream"`
	Data   []byte `cbor:"data"`
}

// BuildEvent is one item of a runBuild stream: either live output from
// the build container or the result of a completed step. Exactly one
// field is set.
type BuildEvent struct {
	Output *OutputChunk   `cbor:"output,omitempty"`
	Result *ProcessResult `cbor:"result,omitempty"`
}

// FinishArgs is the worker's final report.
type FinishArgs struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
}
