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

// Package permission implements the tool permission gate: a per-tool
// cached decision store, an optional client bridge for interactive
// allow/reject prompts, and a default-allow fallback when no bridge is
// attached.
//
// Precedence is grounded on pkg/shuttle/permission_checker.go's
// YOLO > blacklist > whitelist > require-approval-default chain, extended
// with the bridge-prompt path that checker left as a TODO.
package permission

import (
	"context"
	"fmt"
	"sync"
)

// Decision is a user's answer to a permission prompt.
type Decision string

const (
	AllowOnce    Decision = "allow_once"
	AllowAlways  Decision = "allow_always"
	RejectOnce   Decision = "reject_once"
	RejectAlways Decision = "reject_always"
)

// Granted reports whether d lets the tool call proceed.
func (d Decision) Granted() bool {
	return d == AllowOnce || d == AllowAlways
}

// Request describes a single tool call awaiting a permission decision.
type Request struct {
	SessionID   string
	ToolCallID  string
	ToolName    string
	Description string
	ArgsJSON    string
}

// Bridge is implemented by whatever transport surfaces permission prompts to
// a human (a TUI, a web socket client, a CLI prompt). Ask blocks until the
// user answers or ctx is cancelled.
type Bridge interface {
	Ask(ctx context.Context, req Request) (Decision, error)
}

// ErrDenied is returned by Gate.Check when the call is rejected.
var ErrDenied = fmt.Errorf("permission denied")

// Config is the decoded permission policy for a Gate.
type Config struct {
	RequireApproval bool
	YOLO            bool
	AllowedTools    []string
	DisabledTools   []string
}

// Gate is the process-wide (or session-scoped) permission authority.
type Gate struct {
	requireApproval bool
	yolo            bool
	allowed         map[string]bool
	disabled        map[string]bool

	bridge Bridge

	mu     sync.Mutex
	cached map[string]Decision // tool name -> always_allow/always_reject
}

// New constructs a Gate. bridge may be nil, in which case Check defaults to
// allow for any tool that would otherwise require an interactive decision.
func New(cfg Config, bridge Bridge) *Gate {
	allowed := make(map[string]bool, len(cfg.AllowedTools))
	for _, t := range cfg.AllowedTools {
		allowed[t] = true
	}
	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, t := range cfg.DisabledTools {
		disabled[t] = true
	}
	return &Gate{
		requireApproval: cfg.RequireApproval,
		yolo:            cfg.YOLO,
		allowed:         allowed,
		disabled:        disabled,
		bridge:          bridge,
		cached:          make(map[string]Decision),
	}
}

// SetBridge attaches or replaces the interactive bridge at runtime (e.g. a
// client connects after the session actor has started).
func (g *Gate) SetBridge(bridge Bridge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bridge = bridge
}

// Check runs the full precedence chain for a single proposed call:
// YOLO > blacklist > whitelist > cached decision > require-approval (via
// bridge, or default-allow with no bridge). Returns nil if the call may
// proceed, ErrDenied (wrapped with the tool name) otherwise.
func (g *Gate) Check(ctx context.Context, req Request) error {
	if g.yolo {
		return nil
	}
	if g.disabled[req.ToolName] {
		return fmt.Errorf("tool %q is disabled by configuration: %w", req.ToolName, ErrDenied)
	}
	if g.allowed[req.ToolName] {
		return nil
	}
	if !g.requireApproval {
		return nil
	}

	g.mu.Lock()
	cached, ok := g.cached[req.ToolName]
	g.mu.Unlock()
	if ok {
		if cached.Granted() {
			return nil
		}
		return fmt.Errorf("tool %q was previously rejected for this session: %w", req.ToolName, ErrDenied)
	}

	g.mu.Lock()
	bridge := g.bridge
	g.mu.Unlock()
	if bridge == nil {
		return nil
	}

	decision, err := bridge.Ask(ctx, req)
	if err != nil {
		return fmt.Errorf("permission bridge: %w", err)
	}
	if decision == AllowAlways || decision == RejectAlways {
		g.mu.Lock()
		g.cached[req.ToolName] = decision
		g.mu.Unlock()
	}
	if !decision.Granted() {
		return fmt.Errorf("tool %q was rejected by the user: %w", req.ToolName, ErrDenied)
	}
	return nil
}

// ToolKind is a compile-time classification of built-in tools used to decide
// whether a call requires the permission gate at all: required iff the
// tool name is in mutating_tools, or its kind is Edit/Delete/Execute.
type ToolKind int

const (
	ToolKindRead ToolKind = iota
	ToolKindEdit
	ToolKindDelete
	ToolKindExecute
)

// Requires reports whether a tool call needs a Check call before running,
// given its static kind and the configured extra mutating-tool names.
func Requires(toolName string, kind ToolKind, mutatingTools map[string]bool) bool {
	switch kind {
	case ToolKindEdit, ToolKindDelete, ToolKindExecute:
		return true
	default:
		return mutatingTools[toolName]
	}
}
