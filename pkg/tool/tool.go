// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tool defines the callable-function contract shared by tool-server
// toolkits and the conversational agent.
//
// A Tool is one named function an LLM may call. A Toolset groups the tools
// of one source (for example one running tool server) under a single name
// so they can be attached to an agent as a unit.
package tool

import (
	"context"
	"sort"
)

// Tool is a function the model can invoke.
type Tool interface {
	// Name returns the function name the model calls.
	Name() string

	// Description returns a human-readable description used by the model to
	// decide when to call the tool.
	Description() string

	// Schema returns the JSON schema of the tool's arguments, or nil if it
	// takes none.
	Schema() map[string]any

	// Call executes the tool. The result is serialised back to the model.
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Toolset groups related tools.
type Toolset interface {
	// Name identifies the toolset, e.g. "mcp_filesystem".
	Name() string

	// Tools returns the tools exposed by this toolset.
	Tools() []Tool
}

// Names returns the sorted names of tools.
func Names(tools []Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}

// Definition describes a tool to a model.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// DefinitionOf builds the model-facing definition of t. A nil schema becomes
// an empty object schema.
func DefinitionOf(t Tool) Definition {
	params := t.Schema()
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  params,
	}
}
