// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"slices"
	"sync"

	"github.com/bureau-foundation/buildjail/lib/schema"
)

// Script is a Runner that replays canned results instead of starting
// processes. It records every step it is asked to run. Tests of the
// mediator and topology use it in place of Exec.
type Script struct {
	// Respond returns the result for a step. Nil answers every step
	// with exit code 0 and no output.
	Respond func(step Step) schema.ProcessResult

	// Output, if set, is delivered through the output callback before
	// the result is returned.
	Output func(step Step) []schema.OutputChunk

	mutex sync.Mutex
	steps []Step
}

// Run records step and returns its scripted result.
func (s *Script) Run(ctx context.Context, step Step, output OutputFunc) (schema.ProcessResult, error) {
	s.mutex.Lock()
	s.steps = append(s.steps, Step{Name: step.Name, Argv: slices.Clone(step.Argv), Dir: step.Dir})
	s.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return schema.ProcessResult{Step: step.Label(), Argv: step.Argv, ExitCode: -1}, err
	}
	if s.Output != nil && output != nil {
		for _, chunk := range s.Output(step) {
			if err := output(chunk); err != nil {
				return schema.ProcessResult{Step: step.Label(), Argv: step.Argv, ExitCode: -1}, err
			}
		}
	}

	result := schema.ProcessResult{}
	if s.Respond != nil {
		result = s.Respond(step)
	}
	result.Step = step.Label()
	result.Argv = step.Argv
	return result, nil
}

// Steps returns the steps run so far.
func (s *Script) Steps() []Step {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return slices.Clone(s.steps)
}

// Argvs returns the argv of every step run so far.
func (s *Script) Argvs() [][]string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	argvs := make([][]string, len(s.steps))
	for i, step := range s.steps {
		argvs[i] = step.Argv
	}
	return argvs
}
