// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/buildjail/lib/schema"
)

// Plan is the build plan embedded in the document.
type Plan struct {
	// Default names the plan to run when the bootstrap carries no
	// arguments.
	Default string `yaml:"default"`

	Plans map[string][]Step `yaml:"plans"`
}

// Step is one plan step. Command selects the mediator command; the
// other fields are that command's arguments.
type Step struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`

	// Task is the runTask task name.
	Task string `yaml:"task,omitempty"`

	// Path is the readFile or writeFile path.
	Path string `yaml:"path,omitempty"`

	// Pattern is the listFiles glob.
	Pattern string `yaml:"pattern,omitempty"`

	// Contents makes listFiles emit each matched file as a labelled
	// fenced block (see RenderEntry) instead of its path alone.
	Contents bool `yaml:"contents,omitempty"`

	// Content is the writeFile body. Output collected from earlier
	// steps is appended after it.
	Content string `yaml:"content,omitempty"`

	// Collect names earlier steps whose output is appended to Content,
	// in the order listed.
	Collect []string `yaml:"collect,omitempty"`

	// AllowFailure keeps the plan going when this step fails.
	AllowFailure bool `yaml:"allow_failure,omitempty"`
}

// label returns the step's name, or its command when unnamed.
func (s Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Command
}

// stepCommands are the commands a plan step may issue. bootstrap and
// finish belong to the worker itself.
var stepCommands = []string{
	schema.CommandReadFile,
	schema.CommandWriteFile,
	schema.CommandListFiles,
	schema.CommandRunTask,
	schema.CommandClean,
	schema.CommandBuildImages,
	schema.CommandCreateNetworks,
	schema.CommandRunBuild,
}

// ParsePlan decodes and validates a YAML plan. Unknown fields are
// rejected so that a misspelled key fails loudly.
func ParsePlan(source string) (*Plan, error) {
	var plan Plan
	decoder := yaml.NewDecoder(strings.NewReader(source))
	decoder.KnownFields(true)
	if err := decoder.Decode(&plan); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks that every step names a known command with the
// arguments it needs and that collect references earlier named steps.
func (p *Plan) Validate() error {
	var errs []error
	if len(p.Plans) == 0 {
		errs = append(errs, fmt.Errorf("plan defines no plans"))
	}
	if p.Default != "" {
		if _, ok := p.Plans[p.Default]; !ok {
			errs = append(errs, fmt.Errorf("default plan %q is not defined", p.Default))
		}
	}
	for name, steps := range p.Plans {
		seen := make(map[string]bool)
		for index, step := range steps {
			where := fmt.Sprintf("plan %q step %d (%s)", name, index+1, step.label())
			if !slices.Contains(stepCommands, step.Command) {
				errs = append(errs, fmt.Errorf("%s: unknown command %q", where, step.Command))
			}
			switch step.Command {
			case schema.CommandRunTask:
				if step.Task == "" {
					errs = append(errs, fmt.Errorf("%s: task is required", where))
				}
			case schema.CommandReadFile, schema.CommandWriteFile:
				if step.Path == "" {
					errs = append(errs, fmt.Errorf("%s: path is required", where))
				}
			}
			if step.Contents && step.Command != schema.CommandListFiles {
				errs = append(errs, fmt.Errorf("%s: contents is only valid on listFiles", where))
			}
			if len(step.Collect) > 0 && step.Command != schema.CommandWriteFile {
				errs = append(errs, fmt.Errorf("%s: collect is only valid on writeFile", where))
			}
			for _, source := range step.Collect {
				if !seen[source] {
					errs = append(errs, fmt.Errorf("%s: collects %q, which is not an earlier step", where, source))
				}
			}
			if step.Name != "" {
				if seen[step.Name] {
					errs = append(errs, fmt.Errorf("%s: duplicate step name", where))
				}
				seen[step.Name] = true
			}
		}
	}
	return errors.Join(errs...)
}

// Select returns the steps of the plan named by args[0], or of the
// default plan when args is empty.
func (p *Plan) Select(args []string) (string, []Step, error) {
	name := p.Default
	if len(args) > 0 && args[0] != "" {
		name = args[0]
	}
	if name == "" {
		return "", nil, fmt.Errorf("no plan selected and no default plan")
	}
	steps, ok := p.Plans[name]
	if !ok {
		return "", nil, fmt.Errorf("unknown plan %q", name)
	}
	return name, steps, nil
}
