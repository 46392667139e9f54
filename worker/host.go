// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"iter"

	"github.com/bureau-foundation/buildjail/lib/rpc"
	"github.com/bureau-foundation/buildjail/lib/schema"
)

// Host is the worker's typed view of the mediator. Each method issues
// one call on its own reply channel.
type Host struct {
	client *rpc.Client
}

// NewHost wraps client.
func NewHost(client *rpc.Client) *Host {
	return &Host{client: client}
}

// Bootstrap fetches the run's document and arguments.
func (h *Host) Bootstrap(ctx context.Context) (schema.Bootstrap, error) {
	return rpc.Call[schema.Bootstrap](ctx, h.client, schema.CommandBootstrap, nil)
}

// ReadFile reads a workspace-relative file.
func (h *Host) ReadFile(ctx context.Context, path string) ([]byte, error) {
	content, err := rpc.Call[schema.FileContent](ctx, h.client, schema.CommandReadFile, schema.ReadFileArgs{Path: path})
	return content.Data, err
}

// WriteFile writes a workspace-relative file.
func (h *Host) WriteFile(ctx context.Context, path string, data []byte) (schema.WriteResult, error) {
	return rpc.Call[schema.WriteResult](ctx, h.client, schema.CommandWriteFile, schema.WriteFileArgs{Path: path, Data: data})
}

// ListFiles streams readable files matching pattern.
func (h *Host) ListFiles(ctx context.Context, pattern string) iter.Seq2[schema.FileEntry, error] {
	return stream[schema.FileEntry](ctx, h.client, schema.CommandListFiles, schema.ListFilesArgs{Pattern: pattern})
}

// RunTask streams the results of a named task's steps.
func (h *Host) RunTask(ctx context.Context, task string) iter.Seq2[schema.ProcessResult, error] {
	return stream[schema.ProcessResult](ctx, h.client, schema.CommandRunTask, schema.RunTaskArgs{Task: task})
}

// Plan runs one of the docker plans that report step results only:
// clean, buildImages or createNetworks.
func (h *Host) Plan(ctx context.Context, command string) iter.Seq2[schema.ProcessResult, error] {
	return stream[schema.ProcessResult](ctx, h.client, command, nil)
}

// RunBuild runs the build container, streaming its output and step
// results.
func (h *Host) RunBuild(ctx context.Context) iter.Seq2[schema.BuildEvent, error] {
	return stream[schema.BuildEvent](ctx, h.client, schema.CommandRunBuild, nil)
}

// Finish reports the worker's outcome.
func (h *Host) Finish(ctx context.Context, ok bool, message string) error {
	return h.client.Call(ctx, schema.CommandFinish, schema.FinishArgs{OK: ok, Message: message}, nil)
}

// stream opens command and adapts it to an iterator. An error opening
// the call is yielded as the only pair.
func stream[R any](ctx context.Context, client *rpc.Client, command string, args any) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		opened, err := rpc.CallStream[R](ctx, client, command, args)
		if err != nil {
			var zero R
			yield(zero, err)
			return
		}
		for value, err := range opened.All() {
			if !yield(value, err) {
				return
			}
		}
	}
}

// Dial returns a Host that calls the mediator serving socketPath.
func Dial(socketPath string) *Host {
	return NewHost(rpc.NewSocketClient(socketPath))
}
