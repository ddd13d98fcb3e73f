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
package toolset_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/toolset"
)

func registryWithTwoTools() *toolset.Registry {
	r := toolset.NewRegistry()
	r.Register(toolset.Tool{
		Definition: toolset.Definition{Name: "read_file", Description: "reads a file"},
		Handler:    func(context.Context, toolset.ToolContext, string) (string, error) { return "", nil },
	})
	r.Register(toolset.Tool{
		Definition: toolset.Definition{Name: "edit_file", Description: "edits a file"},
		Handler:    func(context.Context, toolset.ToolContext, string) (string, error) { return "", nil },
	})
	return r
}

func TestManifestHashStableUnderIdenticalInput(t *testing.T) {
	r := registryWithTwoTools()
	m1 := toolset.BuildManifest(r, toolset.Policy{}, nil, nil)
	m2 := toolset.BuildManifest(r, toolset.Policy{}, nil, nil)
	require.Equal(t, m1.Hash, m2.Hash)
	require.Len(t, m1.Definitions, 2)
}

func TestManifestHashChangesWhenToolSetChanges(t *testing.T) {
	r := registryWithTwoTools()
	before := toolset.BuildManifest(r, toolset.Policy{}, nil, nil)

	r.Register(toolset.Tool{Definition: toolset.Definition{Name: "shell", Description: "runs a command"}})
	after := toolset.BuildManifest(r, toolset.Policy{}, nil, nil)

	require.NotEqual(t, before.Hash, after.Hash)
}

func TestPolicyDenyBeatsAllow(t *testing.T) {
	r := registryWithTwoTools()
	policy := toolset.Policy{
		AllowBuiltins: map[string]bool{"edit_file": true},
		DenyBuiltins:  map[string]bool{"edit_file": true},
	}
	m := toolset.BuildManifest(r, policy, nil, nil)
	require.Empty(t, m.Definitions)
}

func TestMCPWildcardAllowsAllServerTools(t *testing.T) {
	r := toolset.NewRegistry()
	mcpTools := []toolset.MCPTool{
		{Server: "git", Definition: toolset.Definition{Name: "commit"}},
		{Server: "git", Definition: toolset.Definition{Name: "diff"}},
		{Server: "other", Definition: toolset.Definition{Name: "ping"}},
	}
	policy := toolset.Policy{AllowedMCP: map[string]bool{"git.*": true}}
	m := toolset.BuildManifest(r, policy, mcpTools, nil)
	require.Len(t, m.Definitions, 2)
}

func TestQualifiedName(t *testing.T) {
	tool := toolset.MCPTool{Server: "git", Definition: toolset.Definition{Name: "commit"}}
	require.Equal(t, "git.commit", tool.QualifiedName())
}
