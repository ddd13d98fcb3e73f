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
package agent

import (
	"github.com/weftagent/weft/internal/middleware"
	"github.com/weftagent/weft/internal/permission"
	"github.com/weftagent/weft/internal/session"
	"github.com/weftagent/weft/internal/storage"
	"github.com/weftagent/weft/internal/toolset"
)

// buildState accumulates what Options contribute before New assembles the
// immutable Agent, following a defaults-then-override functional-options
// shape.
type buildState struct {
	provider session.LlmProvider

	store storage.Backend // nil => open Config.DBPath (":memory:" if empty)

	toolRegistry  *toolset.Registry
	mcpTools      map[string]toolset.MCPTool
	providerTools map[string]toolset.Tool

	permissionBridge  permission.Bridge
	duplicateAnalyzer middleware.DuplicateAnalyzer
	summarizer        middleware.Summarizer
}

// Option configures New's assembly via the functional-options pattern.
type Option func(*buildState)

// WithProvider supplies the LLM provider every session actor calls.
// Required: New returns an error if no provider is configured, since
// vendor SDK binding happens at this assembly layer, not in internal/session
// (see that package's provider.go doc comment).
func WithProvider(p session.LlmProvider) Option {
	return func(b *buildState) { b.provider = p }
}

// WithStore overrides the storage backend New would otherwise open from
// Config.DBPath; mainly for tests that want an isolated in-memory database
// per case rather than sharing Config.DBPath.
func WithStore(store storage.Backend) Option {
	return func(b *buildState) { b.store = store }
}

// WithToolRegistry overrides the built-in tool set; defaults to
// internal/builtins' full set (file read/write/patch/list, delegate,
// start_task, record_decision, update_intent) if omitted.
func WithToolRegistry(reg *toolset.Registry) Option {
	return func(b *buildState) { b.toolRegistry = reg }
}

// WithMCPTools supplies resolved MCP tool definitions, keyed by qualified
// name ("server.tool"). Resolving these from a live stdio/http/sse MCP
// server is a transport-specific concern this assembly layer does not
// implement (see DESIGN.md); callers that run one pass the results here.
func WithMCPTools(tools map[string]toolset.MCPTool) Option {
	return func(b *buildState) { b.mcpTools = tools }
}

// WithProviderTools supplies provider-native tools, resolved the same way
// built-ins are.
func WithProviderTools(tools map[string]toolset.Tool) Option {
	return func(b *buildState) { b.providerTools = tools }
}

// WithPermissionBridge attaches an interactive allow/reject prompt surface;
// omitted, the gate defaults to allow (internal/permission.New's documented
// behavior with a nil bridge).
func WithPermissionBridge(bridge permission.Bridge) Option {
	return func(b *buildState) { b.permissionBridge = bridge }
}

// WithDuplicateAnalyzer attaches the pluggable dedup analyzer a "dedup"
// middleware entry in the config needs;
// the entry is skipped with a warning if the config asks for it and no
// analyzer was supplied.
func WithDuplicateAnalyzer(a middleware.DuplicateAnalyzer) Option {
	return func(b *buildState) { b.duplicateAnalyzer = a }
}

// WithSummarizer attaches the LLM-backed summarizer a "context" middleware
// entry needs; same skip-with-warning behavior as WithDuplicateAnalyzer if
// the config asks for compaction and none was supplied.
func WithSummarizer(s middleware.Summarizer) Option {
	return func(b *buildState) { b.summarizer = s }
}
