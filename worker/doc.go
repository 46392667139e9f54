// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the zero-privilege side of a build. A worker
// process starts with nothing but the mediator socket. It asks for its
// bootstrap message, finds the build plan inside the markdown document
// it was given, and carries the plan out step by step through the
// [Host] client. Every effect goes through a mediator command.
//
// The plan lives in a fenced code block labelled by an inline-code
// paragraph naming the entry:
//
//	`build-plan.yaml`
//
//	```yaml
//	default: install
//	plans:
//	  install:
//	    - name: install packages
//	      command: runTask
//	      task: install
//	```
//
// A failed step is a sandbox fault: the worker reports it to the
// mediator with finish{ok: false} and exits nonzero.
package worker
