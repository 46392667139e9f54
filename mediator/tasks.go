// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/bureau-foundation/buildjail/lib/rpc"
	"github.com/bureau-foundation/buildjail/lib/schema"
	"github.com/bureau-foundation/buildjail/runner"
)

// Task is a named, fixed sequence of subprocess steps. The worker can
// only choose a task by name.
type Task struct {
	Name  string
	Steps []TaskStep
}

// TaskStep is one argv in a task.
type TaskStep struct {
	Name string
	Argv []string

	// Dir is workspace-relative. Empty means the workspace root.
	Dir string

	// AllowFailure lets the task continue past a nonzero exit.
	AllowFailure bool
}

// runTask runs every step of the named task in order. Each step's
// result carries a "-- argv" header at the top of stdout and, on a
// nonzero exit, a "-- Received nonzero exit code: N" trailer in
// stderr. A nonzero exit not marked AllowFailure stops the task: its
// result is delivered, then a step_failed error.
func (m *Mediator) runTask(ctx context.Context, args schema.RunTaskArgs, yield func(schema.ProcessResult) error) error {
	task, ok := m.tasks[args.Task]
	if !ok {
		return rpc.Errorf(rpc.CodeNotFound, "no task named %q", args.Task)
	}
	m.logger.Info("running task", "task", task.Name, "steps", len(task.Steps))

	for _, step := range task.Steps {
		result, err := m.runner.Run(ctx, runner.Step{
			Name: step.Name,
			Argv: step.Argv,
			Dir:  filepath.Join(m.policy.Workspace(), filepath.FromSlash(step.Dir)),
		}, nil)
		if err != nil {
			return fmt.Errorf("task %s: %w", task.Name, err)
		}

		result.Stdout = "-- " + shellquote.Join(step.Argv...) + "\n" + result.Stdout
		if !result.OK() {
			if result.Stderr != "" && !strings.HasSuffix(result.Stderr, "\n") {
				result.Stderr += "\n"
			}
			result.Stderr += fmt.Sprintf("-- Received nonzero exit code: %d\n", result.ExitCode)
		}
		if err := yield(result); err != nil {
			return err
		}
		if !result.OK() && !step.AllowFailure {
			return rpc.Errorf(rpc.CodeStepFailed, "task %s: step %q exited with code %d", task.Name, result.Step, result.ExitCode)
		}
	}
	return nil
}
