// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/buildjail/lib/rpc"
	"github.com/bureau-foundation/buildjail/lib/schema"
	"github.com/bureau-foundation/buildjail/lib/testutil"
	"github.com/bureau-foundation/buildjail/mediator"
	"github.com/bureau-foundation/buildjail/runner"
)

const planDocument = "# Build\n\n`build-plan.yaml`\n\n```yaml\n%s```\n"

type harness struct {
	workspace string
	mediator  *mediator.Mediator
	worker    *Worker
	log       *bytes.Buffer
	script    *runner.Script
}

// newHarness wires a worker to a real mediator over the in-process
// transport. The plan YAML is embedded in a document under the
// build-plan.yaml label.
func newHarness(t *testing.T, planYAML string, args []string, files map[string]string) *harness {
	t.Helper()
	workspace := testutil.Workspace(t, files)
	policy, err := mediator.NewPolicy(workspace, []string{"src"}, []mediator.WriteRule{{Root: ".", Extensions: []string{".md"}}})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	script := &runner.Script{Respond: func(step runner.Step) schema.ProcessResult {
		return schema.ProcessResult{Stdout: "added 12 packages\n"}
	}}
	m, err := mediator.New(mediator.Options{
		Policy: policy,
		Runner: script,
		Tasks: []mediator.Task{{Name: "install", Steps: []mediator.TaskStep{
			{Name: "npm install", Argv: []string{"npm", "install"}},
		}}},
		Bootstrap: schema.Bootstrap{
			Document: strings.ReplaceAll(planDocument, "%s", planYAML),
			Entry:    "build-plan.yaml",
			Args:     args,
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("mediator.New: %v", err)
	}
	log := &bytes.Buffer{}
	return &harness{
		workspace: workspace,
		mediator:  m,
		worker: &Worker{
			Host:   NewHost(rpc.NewClient(&rpc.Local{Registry: m.Registry(), Logger: logger})),
			Output: log,
			Logger: logger,
		},
		log:    log,
		script: script,
	}
}

func runWorker(t *testing.T, h *harness) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.worker.Run(ctx)
}

func TestWorkerRunsPlanAndCollectsOutput(t *testing.T) {
	h := newHarness(t, `default: install
plans:
  install:
    - name: install
      command: runTask
      task: install
    - name: sources
      command: listFiles
      pattern: "src/**"
    - command: writeFile
      path: notebook.md
      content: "# Install log\n"
      collect: [install, sources]
`, nil, map[string]string{"src/index.js": "x"})

	if err := runWorker(t, h); err != nil {
		t.Fatalf("Run: %v", err)
	}

	notebook, err := os.ReadFile(filepath.Join(h.workspace, "notebook.md"))
	if err != nil {
		t.Fatalf("reading notebook.md: %v", err)
	}
	want := "# Install log\n-- npm install\nadded 12 packages\nsrc/index.js\n"
	if string(notebook) != want {
		t.Errorf("notebook.md = %q, want %q", notebook, want)
	}

	outcome, ok := h.mediator.Outcome()
	if !ok || !outcome.OK {
		t.Errorf("Outcome = %+v, %v; want OK", outcome, ok)
	}
	if !strings.Contains(h.log.String(), "== install\n") {
		t.Errorf("build log lacks step header:\n%s", h.log.String())
	}
}

// TestWorkerCollectsFileContents renders every listed file into the
// notebook as a labelled block that reads back unchanged.
func TestWorkerCollectsFileContents(t *testing.T) {
	h := newHarness(t, `default: bundle
plans:
  bundle:
    - name: sources
      command: listFiles
      pattern: "src/**"
      contents: true
    - command: writeFile
      path: notebook.md
      content: "# Sources\n"
      collect: [sources]
`, nil, map[string]string{
		"src/index.js":  "export default 1\n",
		"src/data.json": "{}",
	})

	if err := runWorker(t, h); err != nil {
		t.Fatalf("Run: %v", err)
	}
	notebook, err := os.ReadFile(filepath.Join(h.workspace, "notebook.md"))
	if err != nil {
		t.Fatalf("reading notebook.md: %v", err)
	}
	for path, want := range map[string]string{
		"src/index.js":  "export default 1\n",
		"src/data.json": "{}\n",
	} {
		got, err := ExtractEntry(string(notebook), path)
		if err != nil {
			t.Errorf("%s: %v\nnotebook:\n%s", path, err, notebook)
			continue
		}
		if got != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
}

// TestWorkerDeniedWriteIsFault checks that a step the mediator refuses
// stops the plan and is reported as a fault.
func TestWorkerDeniedWriteIsFault(t *testing.T) {
	h := newHarness(t, `plans:
  build:
    - name: write binary
      command: writeFile
      path: out.exe
      content: "MZ"
    - name: never
      command: runTask
      task: install
`, []string{"build"}, nil)

	err := runWorker(t, h)
	var fault *Fault
	if !errors.As(err, &fault) || fault.Step != "write binary" {
		t.Fatalf("err = %v, want Fault in step %q", err, "write binary")
	}
	if rpc.CodeOf(err) != rpc.CodeAccessDenied {
		t.Errorf("code = %q, want access_denied", rpc.CodeOf(err))
	}
	if len(h.script.Steps()) != 0 {
		t.Error("steps after the failure ran")
	}
	outcome, ok := h.mediator.Outcome()
	if !ok || outcome.OK || !strings.Contains(outcome.Message, "write binary") {
		t.Errorf("Outcome = %+v, %v; want a reported fault", outcome, ok)
	}
}

func TestWorkerAllowFailureContinues(t *testing.T) {
	h := newHarness(t, `plans:
  build:
    - command: readFile
      path: src/missing.js
      allow_failure: true
    - command: runTask
      task: install
`, []string{"build"}, nil)
	if err := runWorker(t, h); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.script.Steps()) != 1 {
		t.Errorf("ran %d task steps, want 1", len(h.script.Steps()))
	}
}

func TestWorkerMissingEntryIsFault(t *testing.T) {
	m, err := mediator.New(mediator.Options{
		Policy:    mustPolicy(t),
		Bootstrap: schema.Bootstrap{Document: "# nothing here\n", Entry: "build-plan.yaml"},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("mediator.New: %v", err)
	}
	w := &Worker{Host: NewHost(rpc.NewClient(&rpc.Local{Registry: m.Registry()}))}

	err = w.Run(context.Background())
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("err = %v, want ErrEntryNotFound", err)
	}
	if outcome, ok := m.Outcome(); !ok || outcome.OK {
		t.Errorf("Outcome = %+v, %v; want reported fault", outcome, ok)
	}
}

func TestWorkerUnknownPlanIsFault(t *testing.T) {
	h := newHarness(t, "plans:\n  a:\n    - command: clean\n", []string{"b"}, nil)
	var fault *Fault
	if err := runWorker(t, h); !errors.As(err, &fault) {
		t.Fatalf("err = %v, want *Fault", err)
	}
}

func mustPolicy(t *testing.T) *mediator.Policy {
	t.Helper()
	policy, err := mediator.NewPolicy(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return policy
}
