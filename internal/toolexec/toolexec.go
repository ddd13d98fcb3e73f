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

// Package toolexec implements the per-call tool dispatch contract:
// snapshotting, the permission gate, builtin/MCP/provider-native
// resolution, truncation, and the parallel fan-out that joins results in
// input order for deterministic replay.
package toolexec

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/permission"
	"github.com/weftagent/weft/internal/snapshot"
	"github.com/weftagent/weft/internal/toolset"
)

// TruncationPolicy bounds tool result size; Overflow, when non-empty, is
// where the full content was spilled and referenced from the hint suffix.
type TruncationPolicy struct {
	MaxLines     int
	MaxBytes     int
	OverflowPath func(callID string) string // nil disables overflow-to-file
}

func (p TruncationPolicy) apply(callID, content string) string {
	truncated := content
	overflowed := false

	if p.MaxLines > 0 {
		lines := strings.Split(truncated, "\n")
		if len(lines) > p.MaxLines {
			truncated = strings.Join(lines[:p.MaxLines], "\n")
			overflowed = true
		}
	}
	if p.MaxBytes > 0 && len(truncated) > p.MaxBytes {
		truncated = truncated[:p.MaxBytes]
		overflowed = true
	}
	if !overflowed {
		return content
	}

	hint := fmt.Sprintf("\n... [truncated; %d bytes total]", len(content))
	if p.OverflowPath != nil {
		hint = fmt.Sprintf("\n... [truncated; full output saved to %s]", p.OverflowPath(callID))
	}
	return truncated + hint
}

// Dispatcher owns everything executeToolCall needs: the registry, the
// permission gate, the snapshot backend, and the truncation policy.
type Dispatcher struct {
	Registry   *toolset.Registry
	MCPTools   map[string]toolset.MCPTool // qualified name -> tool
	Provider   map[string]toolset.Tool    // provider-native tools, resolved like builtins
	Gate       *permission.Gate
	Snapshot   snapshot.Backend // nil disables snapshotting (PolicyNone)
	Truncation TruncationPolicy

	MutatingTools  map[string]bool
	AssumeMutating map[string]bool // tool name -> true if it should be treated as mutating despite its kind
}

// CallResult is one tool call's outcome, ready to be folded into a stored
// message by storeAllToolResults-equivalent callers.
type CallResult struct {
	Index    int
	Call     execsm.ToolCall
	Content  string
	IsError  bool
	Snapshot *model.SnapshotPart
}

// kindOf classifies a built-in tool for the permission predicate.
func (d *Dispatcher) kindOf(name string) permission.ToolKind {
	if t, ok := d.Registry.Builtin(name); ok {
		return t.Kind
	}
	return permission.ToolKindExecute // MCP/provider tools: treat as Execute, conservative default
}

func (d *Dispatcher) isMutating(name string) bool {
	if d.MutatingTools[name] || d.AssumeMutating[name] {
		return true
	}
	kind := d.kindOf(name)
	return kind == permission.ToolKindEdit || kind == permission.ToolKindDelete || kind == permission.ToolKindExecute
}

// ExecuteOne runs the full per-call contract for a single tool call: snapshot,
// permission check, resolution/invocation, truncation, and a post-snapshot
// diff. Event emission is left to the caller, since toolexec does not own
// the eventsink: the session actor emits ToolCallStart/End around the
// batch, and no SnapshotStart/End is emitted on this path.
func (d *Dispatcher) ExecuteOne(ctx context.Context, tc toolset.ToolContext, call execsm.ToolCall) CallResult {
	result := CallResult{Call: call}

	mutating := d.isMutating(call.Name)
	var before snapshot.Tree
	if mutating && d.Snapshot != nil {
		var err error
		before, err = d.Snapshot.Capture(tc.Cwd)
		if err != nil {
			before = nil
		}
	}

	if permission.Requires(call.Name, d.kindOf(call.Name), d.MutatingTools) {
		req := permission.Request{
			SessionID:  tc.SessionID,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ArgsJSON:   call.Arguments,
		}
		if err := d.Gate.Check(ctx, req); err != nil {
			result.IsError = true
			result.Content = fmt.Sprintf("Error: %s", err)
			return result
		}
	}

	content, err := d.invoke(ctx, tc, call)
	if err != nil {
		result.IsError = true
		result.Content = fmt.Sprintf("Error: %s", err)
		return result
	}
	result.Content = d.Truncation.apply(call.ID, content)

	if mutating && d.Snapshot != nil {
		after, err := d.Snapshot.Capture(tc.Cwd)
		if err == nil {
			diff := d.Snapshot.Diff(before, after)
			result.Snapshot = &model.SnapshotPart{
				ChangedPaths:  diff,
				RootHash:      d.Snapshot.RootHash(after),
				PriorRootHash: d.Snapshot.RootHash(before),
			}
		}
	}
	return result
}

// invoke resolves the tool via the builtin -> MCP -> provider-native chain
// and calls its handler.
func (d *Dispatcher) invoke(ctx context.Context, tc toolset.ToolContext, call execsm.ToolCall) (string, error) {
	if t, ok := d.Registry.Builtin(call.Name); ok {
		return t.Handler(ctx, tc, call.Arguments)
	}
	if t, ok := d.MCPTools[call.Name]; ok {
		if t.Server == "" {
			return "", fmt.Errorf("mcp tool %q missing server binding", call.Name)
		}
		return "", fmt.Errorf("mcp tool %q has no local handler; dispatch via mesh transport", call.Name)
	}
	if t, ok := d.Provider[call.Name]; ok {
		return t.Handler(ctx, tc, call.Arguments)
	}
	return "", fmt.Errorf("unknown tool %q: not found in builtin, mcp, or provider registries", call.Name)
}

// ExecuteAll runs every pending call concurrently (errgroup fan-out) and
// joins results in input order, so replay sees the same ordering every time.
// A tool handler panicking or the group's context being cancelled does not
// abort sibling calls; each slot always gets a CallResult (possibly an
// error result) so callers never have to special-case a missing index.
func (d *Dispatcher) ExecuteAll(ctx context.Context, tc toolset.ToolContext, calls []execsm.ToolCall) []CallResult {
	results := make([]CallResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = CallResult{Call: call, IsError: true, Content: fmt.Sprintf("Error: tool %q panicked: %v", call.Name, r)}
				}
				results[i].Index = call.Index
			}()
			results[i] = d.ExecuteOne(gctx, tc, call)
			return nil
		})
	}
	_ = g.Wait() // ExecuteOne never returns an error from this closure; failures are encoded in CallResult.IsError

	sort.SliceStable(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}
