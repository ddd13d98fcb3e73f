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

// Package builtins is the default built-in tool set registered by
// pkg/agent.New: file read/write/patch/list tools grounded on
// internal/fsext, plus the delegate/start_task/record_decision/update_intent
// tools whose storage side effects are recorded by
// internal/session.Actor.storeAllToolResults, not by the handlers here. A
// handler's only job is the mechanical action (touch a file, ask the agent
// registry to forward an objective); the executor is the single place that
// decides what gets persisted.
package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/weftagent/weft/internal/fsext"
	"github.com/weftagent/weft/internal/permission"
	"github.com/weftagent/weft/internal/toolset"
)

// Register adds every built-in tool this package knows about to reg,
// overwriting any prior registration under the same name.
func Register(reg *toolset.Registry) {
	for _, t := range All() {
		reg.Register(t)
	}
}

// All returns the built-in tool set, exported so callers that build a
// filtered registry (e.g. a read-only delegate session) can pick a subset.
func All() []toolset.Tool {
	return []toolset.Tool{
		readFileTool(),
		listFilesTool(),
		writeFileTool(),
		applyPatchTool(),
		delegateTool(),
		startTaskTool(),
		recordDecisionTool(),
		updateIntentTool(),
	}
}

func resolve(cwd, path string) string {
	if cwd == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cwd, path)
}

type readFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func readFileTool() toolset.Tool {
	return toolset.Tool{
		Definition: toolset.Definition{
			Name:        "read_file",
			Description: "Read a bounded range of lines from a file under the session's working directory.",
			SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string"},"offset":{"type":"integer"},"limit":{"type":"integer"}},"required":["path"]}`,
			Kind:        permission.ToolKindRead,
		},
		Handler: func(_ context.Context, tc toolset.ToolContext, argsJSON string) (string, error) {
			var args readFileArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("read_file: decode arguments: %w", err)
			}
			full := resolve(tc.Cwd, args.Path)
			raw, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("read_file: %w", err)
			}
			lines := strings.Split(string(raw), "\n")
			start := args.Offset
			if start < 0 || start > len(lines) {
				start = 0
			}
			end := len(lines)
			if args.Limit > 0 && start+args.Limit < end {
				end = start + args.Limit
			}
			return strings.Join(lines[start:end], "\n"), nil
		},
	}
}

type listFilesArgs struct {
	Path  string `json:"path"`
	Depth int    `json:"depth"`
	Limit int    `json:"limit"`
}

func listFilesTool() toolset.Tool {
	return toolset.Tool{
		Definition: toolset.Definition{
			Name:        "list_files",
			Description: "List files under a directory (relative to the session's working directory), bounded by depth and count.",
			SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string"},"depth":{"type":"integer"},"limit":{"type":"integer"}},"required":[]}`,
			Kind:        permission.ToolKindRead,
		},
		Handler: func(_ context.Context, tc toolset.ToolContext, argsJSON string) (string, error) {
			var args listFilesArgs
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return "", fmt.Errorf("list_files: decode arguments: %w", err)
				}
			}
			root := tc.Cwd
			if args.Path != "" {
				root = resolve(tc.Cwd, args.Path)
			}
			if root == "" {
				root = "."
			}
			files, truncated, err := fsext.ListDirectory(root, nil, args.Depth, args.Limit)
			if err != nil {
				return "", fmt.Errorf("list_files: %w", err)
			}
			out, err := json.Marshal(struct {
				Files     []string `json:"files"`
				Truncated bool     `json:"truncated"`
			}{Files: files, Truncated: truncated})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func writeFileTool() toolset.Tool {
	return toolset.Tool{
		Definition: toolset.Definition{
			Name:        "write_file",
			Description: "Write (creating or overwriting) a file under the session's working directory.",
			SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`,
			Kind:        permission.ToolKindEdit,
		},
		Handler: func(_ context.Context, tc toolset.ToolContext, argsJSON string) (string, error) {
			var args writeFileArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("write_file: decode arguments: %w", err)
			}
			full := resolve(tc.Cwd, args.Path)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", fmt.Errorf("write_file: %w", err)
			}
			if err := os.WriteFile(full, []byte(args.Content), 0o644); err != nil {
				return "", fmt.Errorf("write_file: %w", err)
			}
			if tc.Progress != nil {
				tc.Progress.RecordProgress(context.Background(), "note", "wrote "+args.Path)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), nil
		},
	}
}

type applyPatchArgs struct {
	Path  string `json:"path"`
	Patch string `json:"patch"`
}

func applyPatchTool() toolset.Tool {
	return toolset.Tool{
		Definition: toolset.Definition{
			Name:        "apply_patch",
			Description: "Apply a diff-match-patch formatted patch to an existing file under the session's working directory.",
			SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string"},"patch":{"type":"string"}},"required":["path","patch"]}`,
			Kind:        permission.ToolKindEdit,
		},
		Handler: func(_ context.Context, tc toolset.ToolContext, argsJSON string) (string, error) {
			var args applyPatchArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("apply_patch: decode arguments: %w", err)
			}
			full := resolve(tc.Cwd, args.Path)
			original, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("apply_patch: %w", err)
			}

			dmp := diffmatchpatch.New()
			patches, err := dmp.PatchFromText(args.Patch)
			if err != nil {
				return "", fmt.Errorf("apply_patch: parsing patch: %w", err)
			}
			patched, applied := dmp.PatchApply(patches, string(original))
			for i, ok := range applied {
				if !ok {
					return "", fmt.Errorf("apply_patch: hunk %d failed to apply cleanly", i)
				}
			}
			if err := os.WriteFile(full, []byte(patched), 0o644); err != nil {
				return "", fmt.Errorf("apply_patch: %w", err)
			}
			return fmt.Sprintf("applied %d hunk(s) to %s", len(patches), args.Path), nil
		},
	}
}

type delegateArgs struct {
	TargetAgent string `json:"target_agent"`
	Objective   string `json:"objective"`
}

type delegateResult struct {
	PublicID      string `json:"public_id"`
	TargetAgentID string `json:"target_agent_id"`
	Status        string `json:"status"`
}

func delegateTool() toolset.Tool {
	return toolset.Tool{
		Definition: toolset.Definition{
			Name:        "delegate",
			Description: "Commission another agent in the registry to pursue an objective, returning the created delegation's id and status.",
			SchemaJSON:  `{"type":"object","properties":{"target_agent":{"type":"string"},"objective":{"type":"string"}},"required":["target_agent","objective"]}`,
			Kind:        permission.ToolKindExecute,
		},
		Handler: func(ctx context.Context, tc toolset.ToolContext, argsJSON string) (string, error) {
			var args delegateArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("delegate: decode arguments: %w", err)
			}
			if tc.Agents == nil {
				return "", fmt.Errorf("delegate: no agent registry available to this session")
			}
			d, err := tc.Agents.Delegate(ctx, args.TargetAgent, args.Objective)
			if err != nil {
				return "", fmt.Errorf("delegate: %w", err)
			}
			out, err := json.Marshal(delegateResult{PublicID: d.PublicID, TargetAgentID: d.TargetAgentID, Status: string(d.Status)})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

func startTaskTool() toolset.Tool {
	return toolset.Tool{
		Definition: toolset.Definition{
			Name:        "start_task",
			Description: "Mark a new task active for this session, replacing any previously active task.",
			SchemaJSON:  `{"type":"object","properties":{"kind":{"type":"string"},"expected_deliverable":{"type":"string"},"acceptance_criteria":{"type":"string"}},"required":["kind"]}`,
			Kind:        permission.ToolKindExecute,
		},
		Handler: func(_ context.Context, _ toolset.ToolContext, argsJSON string) (string, error) {
			return "task started: " + argsJSON, nil
		},
	}
}

func recordDecisionTool() toolset.Tool {
	return toolset.Tool{
		Definition: toolset.Definition{
			Name:        "record_decision",
			Description: "Record a decision and its rationale against the current task.",
			SchemaJSON:  `{"type":"object","properties":{"summary":{"type":"string"},"rationale":{"type":"string"}},"required":["summary"]}`,
			Kind:        permission.ToolKindExecute,
		},
		Handler: func(_ context.Context, _ toolset.ToolContext, argsJSON string) (string, error) {
			return "decision recorded: " + argsJSON, nil
		},
	}
}

func updateIntentTool() toolset.Tool {
	return toolset.Tool{
		Definition: toolset.Definition{
			Name:        "update_intent",
			Description: "Record a fresh intent snapshot: what this session is currently trying to achieve.",
			SchemaJSON:  `{"type":"object","properties":{"summary":{"type":"string"},"constraints":{"type":"string"},"next_step_hint":{"type":"string"}},"required":["summary"]}`,
			Kind:        permission.ToolKindExecute,
		},
		Handler: func(_ context.Context, _ toolset.ToolContext, argsJSON string) (string, error) {
			return "intent recorded: " + argsJSON, nil
		},
	}
}
