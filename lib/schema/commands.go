// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/bureau-foundation/buildjail/lib/rpc"

// Command names.
const (
	// CommandBootstrap returns the build document and run arguments. It
	// is the first call every worker makes.
	CommandBootstrap = "bootstrap"

	CommandReadFile  = "readFile"
	CommandWriteFile = "writeFile"
	CommandListFiles = "listFiles"

	// CommandRunTask runs a named argv sequence from the mediator's
	// task table.
	CommandRunTask = "runTask"

	// Docker topology plans.
	CommandClean          = "clean"
	CommandBuildImages    = "buildImages"
	CommandCreateNetworks = "createNetworks"
	CommandRunBuild       = "runBuild"

	// CommandFinish reports the worker's outcome. The supervisor treats
	// a finish with OK=false as a sandbox fault.
	CommandFinish = "finish"
)

// CommandSpec names a command and its reply shape.
type CommandSpec struct {
	Name string
	Kind rpc.Kind
}

// Commands is the complete enumeration, in the order the mediator
// documents them.
var Commands = []CommandSpec{
	{CommandBootstrap, rpc.KindSingle},
	{CommandReadFile, rpc.KindSingle},
	{CommandWriteFile, rpc.KindSingle},
	{CommandListFiles, rpc.KindStreaming},
	{CommandRunTask, rpc.KindStreaming},
	{CommandClean, rpc.KindStreaming},
	{CommandBuildImages, rpc.KindStreaming},
	{CommandCreateNetworks, rpc.KindStreaming},
	{CommandRunBuild, rpc.KindStreaming},
	{CommandFinish, rpc.KindSingle},
}

// Lookup returns the CommandSpec for name.
func Lookup(name string) (CommandSpec, bool) {
	for _, command := range Commands {
		if command.Name == name {
			return command, true
		}
	}
	return CommandSpec{}, false
}

// IsDockerPlan reports whether name is one of the topology plan
// commands.
func IsDockerPlan(name string) bool {
	switch name {
	case CommandClean, CommandBuildImages, CommandCreateNetworks, CommandRunBuild:
		return true
	}
	return false
}
