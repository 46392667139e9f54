// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes fixed subprocess argv lists on behalf of the
// mediator. The worker never supplies an argv: every [Step] comes from
// the mediator's task table or from a topology plan built on the host.
//
// A step's exit code is data. [Runner.Run] returns an error only when
// the process could not be run at all (binary missing, context
// cancelled); a process that ran and exited nonzero produces a
// [schema.ProcessResult] with that exit code and a nil error. Callers
// decide whether a nonzero exit stops them.
//
// Output is captured separately for stdout and stderr, each bounded to
// the last [Exec.MaxOutput] bytes. When an output callback is given, it
// receives chunks as they arrive, which is how the build container's
// log reaches the worker live.
package runner
