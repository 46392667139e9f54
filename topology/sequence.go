// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/buildjail/lib/schema"
)

// StepError reports the step that stopped a plan.
type StepError struct {
	Step     string
	ExitCode int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q exited with code %d", e.Step, e.ExitCode)
}

// Action runs one docker operation.
type Action func(ctx context.Context) (schema.ProcessResult, error)

// SequenceStep is one entry of a Sequence.
type SequenceStep struct {
	Run Action

	// AllowFailure lets the sequence continue past a nonzero exit.
	AllowFailure bool
}

// Sequence runs steps in order, yielding each result. It stops at the
// first step that fails to run, the first nonzero exit not marked
// AllowFailure (returning a *StepError after yielding that step's
// result), or the first yield error.
func Sequence(ctx context.Context, steps []SequenceStep, yield func(schema.ProcessResult) error) error {
	for _, step := range steps {
		result, err := step.Run(ctx)
		if err != nil {
			return err
		}
		if err := yield(result); err != nil {
			return err
		}
		if !result.OK() && !step.AllowFailure {
			return &StepError{Step: result.Step, ExitCode: result.ExitCode}
		}
	}
	return nil
}
