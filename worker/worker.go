// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/buildjail/lib/schema"
)

// Fault is a failure of the worker's own logic: a missing entry, a bad
// plan, or a failed step.
type Fault struct {
	// Step is the failing step's label, empty for failures before the
	// plan started.
	Step string
	Err  error
}

func (f *Fault) Error() string {
	if f.Step == "" {
		return "sandbox fault: " + f.Err.Error()
	}
	return fmt.Sprintf("sandbox fault in step %q: %v", f.Step, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Worker runs one build plan against a Host.
type Worker struct {
	Host *Host

	// Output receives the build log: step headers and every piece of
	// process output. Nil discards it.
	Output io.Writer

	Logger *slog.Logger
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Worker) output() io.Writer {
	if w.Output != nil {
		return w.Output
	}
	return io.Discard
}

// Run bootstraps, executes the selected plan, and reports the outcome
// with finish. It returns a *Fault when the plan failed; the caller
// exits nonzero.
func (w *Worker) Run(ctx context.Context) error {
	runError := w.run(ctx)

	message := "ok"
	if runError != nil {
		message = runError.Error()
	}
	if err := w.Host.Finish(ctx, runError == nil, message); err != nil {
		w.logger().Error("reporting outcome failed", "error", err)
		if runError == nil {
			return &Fault{Err: fmt.Errorf("reporting outcome: %w", err)}
		}
	}
	return runError
}

func (w *Worker) run(ctx context.Context) error {
	bootstrap, err := w.Host.Bootstrap(ctx)
	if err != nil {
		return &Fault{Err: fmt.Errorf("bootstrap: %w", err)}
	}
	source, err := ExtractEntry(bootstrap.Document, bootstrap.Entry)
	if err != nil {
		return &Fault{Err: err}
	}
	plan, err := ParsePlan(source)
	if err != nil {
		return &Fault{Err: err}
	}
	name, steps, err := plan.Select(bootstrap.Args)
	if err != nil {
		return &Fault{Err: err}
	}

	w.logger().Info("running plan", "plan", name, "steps", len(steps))
	collected := make(map[string]string)
	for _, step := range steps {
		fmt.Fprintf(w.output(), "== %s\n", step.label())
		text, err := w.execute(ctx, step, collected)
		if step.Name != "" {
			collected[step.Name] = text
		}
		if err != nil {
			if step.AllowFailure {
				w.logger().Info("step failed, continuing", "step", step.label(), "error", err)
				continue
			}
			return &Fault{Step: step.label(), Err: err}
		}
	}
	w.logger().Info("plan complete", "plan", name)
	return nil
}

// execute runs one step and returns the text it produced, which later
// writeFile steps can collect. Output is mirrored to the build log as
// it arrives.
func (w *Worker) execute(ctx context.Context, step Step, collected map[string]string) (string, error) {
	var text strings.Builder
	log := io.MultiWriter(&text, w.output())

	switch step.Command {
	case schema.CommandReadFile:
		data, err := w.Host.ReadFile(ctx, step.Path)
		text.Write(data)
		return text.String(), err

	case schema.CommandWriteFile:
		var content strings.Builder
		content.WriteString(step.Content)
		for _, source := range step.Collect {
			content.WriteString(collected[source])
		}
		result, err := w.Host.WriteFile(ctx, step.Path, []byte(content.String()))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(log, "wrote %s (%d bytes, blake3 %s)\n", result.Path, result.Size, result.Digest)
		return text.String(), nil

	case schema.CommandListFiles:
		var paths []string
		for entry, err := range w.Host.ListFiles(ctx, step.Pattern) {
			if err != nil {
				return text.String(), err
			}
			if !step.Contents {
				fmt.Fprintln(log, entry.Path)
				continue
			}
			paths = append(paths, entry.Path)
		}
		for _, path := range paths {
			data, err := w.Host.ReadFile(ctx, path)
			if err != nil {
				return text.String(), err
			}
			io.WriteString(log, RenderEntry(path, string(data)))
		}
		return text.String(), nil

	case schema.CommandRunTask:
		for result, err := range w.Host.RunTask(ctx, step.Task) {
			if err != nil {
				return text.String(), err
			}
			writeResult(log, result)
		}
		return text.String(), nil

	case schema.CommandRunBuild:
		for event, err := range w.Host.RunBuild(ctx) {
			if err != nil {
				return text.String(), err
			}
			switch {
			case event.Output != nil:
				log.Write(event.Output.Data)
			case event.Result != nil:
				fmt.Fprintf(log, "-- %s: exit %d\n", event.Result.Step, event.Result.ExitCode)
			}
		}
		return text.String(), nil

	default:
		for result, err := range w.Host.Plan(ctx, step.Command) {
			if err != nil {
				return text.String(), err
			}
			writeResult(log, result)
		}
		return text.String(), nil
	}
}

// writeResult renders a finished process step into the log.
func writeResult(log io.Writer, result schema.ProcessResult) {
	io.WriteString(log, result.Stdout)
	io.WriteString(log, result.Stderr)
	if result.Truncated {
		fmt.Fprintf(log, "-- output of %s truncated\n", result.Step)
	}
}
