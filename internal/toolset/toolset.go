// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package toolset implements the tool registry, manifest hashing, and the
// three-way resolution chain: builtin -> MCP -> provider-native.
package toolset

import (
	"context"
	"sort"
	"strings"

	"github.com/weftagent/weft/internal/ids"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/permission"
)

// Definition is the wire shape handed to the LLM provider for one tool.
type Definition struct {
	Name        string
	Description string
	SchemaJSON  string
	Kind        permission.ToolKind
}

// ProgressRecorder lets a running tool report incremental progress without
// importing the session/storage layers directly.
type ProgressRecorder interface {
	RecordProgress(ctx context.Context, kind model.ProgressKind, message string)
}

// Elicitation lets a tool ask the connected client a clarifying question
// mid-call and block for the answer.
type Elicitation interface {
	Ask(ctx context.Context, prompt string, schemaJSON string) (string, error)
}

// AgentRegistry is the narrow surface the "delegate" builtin needs from the
// session registry, kept here to avoid an import cycle with internal/registry.
type AgentRegistry interface {
	Delegate(ctx context.Context, targetAgentID, objective string) (model.Delegation, error)
}

// ToolContext is passed to every resolved tool invocation.
type ToolContext struct {
	SessionID   string
	Cwd         string
	Progress    ProgressRecorder
	Elicitation Elicitation
	Agents      AgentRegistry
}

// Tool is a built-in, invocable tool. Handler receives the raw JSON
// arguments the model emitted and returns the tool result text.
type Tool struct {
	Definition
	Handler func(ctx context.Context, tc ToolContext, argsJSON string) (string, error)
}

// MCPTool is a tool advertised by an attached MCP server.
type MCPTool struct {
	Server string
	Definition
}

// QualifiedName is how an MCP tool is addressed in allow/deny policy and in
// the manifest ("server.tool").
func (t MCPTool) QualifiedName() string {
	return t.Server + "." + t.Name
}

// Registry holds the process-wide built-in tool set. MCP tools are
// per-session and passed into Manifest directly.
type Registry struct {
	builtins map[string]Tool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{builtins: make(map[string]Tool)}
}

// Register adds a built-in tool, overwriting any previous registration with
// the same name.
func (r *Registry) Register(t Tool) {
	r.builtins[t.Name] = t
}

// Builtin looks up a built-in tool by name.
func (r *Registry) Builtin(name string) (Tool, bool) {
	t, ok := r.builtins[name]
	return t, ok
}

// Policy is the session's allow/deny configuration for tool visibility
// (distinct from permission.Gate, which governs execution, not listing).
type Policy struct {
	AllowBuiltins      map[string]bool // nil/empty means "all builtins allowed"
	DenyBuiltins       map[string]bool
	AllowProviderTools bool
	// AllowedMCP holds "server.*" wildcard and "server.tool" specific
	// entries; a tool is visible if either matches.
	AllowedMCP map[string]bool
}

func (p Policy) allowsBuiltin(name string) bool {
	if p.DenyBuiltins[name] {
		return false
	}
	if len(p.AllowBuiltins) == 0 {
		return true
	}
	return p.AllowBuiltins[name]
}

func (p Policy) allowsMCP(t MCPTool) bool {
	if len(p.AllowedMCP) == 0 {
		return false
	}
	if p.AllowedMCP[t.Server+".*"] {
		return true
	}
	return p.AllowedMCP[t.QualifiedName()]
}

// Manifest is the resolved, policy-filtered tool set offered to the LLM for
// one call cycle, plus its content hash.
type Manifest struct {
	Definitions []Definition
	Hash        uint64
}

// BuildManifest unions built-ins (filtered by policy), provider-native tools
// (if policy permits), and the session's MCP tools (filtered by wildcard or
// specific allowlisting), then hashes the result deterministically.
func BuildManifest(r *Registry, policy Policy, mcpTools []MCPTool, providerTools []Definition) Manifest {
	var defs []Definition

	names := make([]string, 0, len(r.builtins))
	for name := range r.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if policy.allowsBuiltin(name) {
			defs = append(defs, r.builtins[name].Definition)
		}
	}

	if policy.AllowProviderTools {
		defs = append(defs, providerTools...)
	}

	sortedMCP := make([]MCPTool, len(mcpTools))
	copy(sortedMCP, mcpTools)
	sort.Slice(sortedMCP, func(i, j int) bool {
		return sortedMCP[i].QualifiedName() < sortedMCP[j].QualifiedName()
	})
	for _, t := range sortedMCP {
		if policy.allowsMCP(t) {
			defs = append(defs, t.Definition)
		}
	}

	return Manifest{Definitions: defs, Hash: hashManifest(defs)}
}

// hashManifest hashes the sorted "name:description:schema\n" lines so the
// hash only changes when the visible tool set actually changes, not when
// map iteration order does.
func hashManifest(defs []Definition) uint64 {
	var b strings.Builder
	for _, d := range defs {
		b.WriteString(d.Name)
		b.WriteByte(':')
		b.WriteString(d.Description)
		b.WriteByte(':')
		b.WriteString(d.SchemaJSON)
		b.WriteByte('\n')
	}
	return ids.Hash([]byte(b.String()))
}
