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
package toolexec_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/permission"
	"github.com/weftagent/weft/internal/toolexec"
	"github.com/weftagent/weft/internal/toolset"
)

func newDispatcher() *toolexec.Dispatcher {
	r := toolset.NewRegistry()
	r.Register(toolset.Tool{
		Definition: toolset.Definition{Name: "read_file", Kind: permission.ToolKindRead},
		Handler: func(_ context.Context, _ toolset.ToolContext, args string) (string, error) {
			return "contents of " + args, nil
		},
	})
	r.Register(toolset.Tool{
		Definition: toolset.Definition{Name: "delete_file", Kind: permission.ToolKindDelete},
		Handler: func(_ context.Context, _ toolset.ToolContext, args string) (string, error) {
			return "deleted " + args, nil
		},
	})
	r.Register(toolset.Tool{
		Definition: toolset.Definition{Name: "boom", Kind: permission.ToolKindRead},
		Handler: func(_ context.Context, _ toolset.ToolContext, _ string) (string, error) {
			return "", fmt.Errorf("tool failed")
		},
	})
	return &toolexec.Dispatcher{
		Registry: r,
		Gate:     permission.New(permission.Config{}, nil),
	}
}

func TestExecuteOneReadToolSucceeds(t *testing.T) {
	d := newDispatcher()
	res := d.ExecuteOne(context.Background(), toolset.ToolContext{}, execsm.ToolCall{ID: "c1", Name: "read_file", Arguments: "a.txt"})
	require.False(t, res.IsError)
	require.Equal(t, "contents of a.txt", res.Content)
}

func TestExecuteOneUnknownToolErrors(t *testing.T) {
	d := newDispatcher()
	res := d.ExecuteOne(context.Background(), toolset.ToolContext{}, execsm.ToolCall{ID: "c1", Name: "nope"})
	require.True(t, res.IsError)
}

func TestExecuteOneHandlerErrorBecomesErrorResult(t *testing.T) {
	d := newDispatcher()
	res := d.ExecuteOne(context.Background(), toolset.ToolContext{}, execsm.ToolCall{ID: "c1", Name: "boom"})
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "tool failed")
}

func TestExecuteOneDeleteRequiresPermissionAndDefaultsAllow(t *testing.T) {
	d := newDispatcher()
	res := d.ExecuteOne(context.Background(), toolset.ToolContext{}, execsm.ToolCall{ID: "c1", Name: "delete_file", Arguments: "a.txt"})
	require.False(t, res.IsError)
	require.Equal(t, "deleted a.txt", res.Content)
}

func TestExecuteOneDeniedPermissionSynthesizesError(t *testing.T) {
	d := newDispatcher()
	d.Gate = permission.New(permission.Config{DisabledTools: []string{"delete_file"}}, nil)
	res := d.ExecuteOne(context.Background(), toolset.ToolContext{}, execsm.ToolCall{ID: "c1", Name: "delete_file", Arguments: "a.txt"})
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "Error:")
}

func TestExecuteAllPreservesInputOrderRegardlessOfCompletionOrder(t *testing.T) {
	d := newDispatcher()
	calls := []execsm.ToolCall{
		{Index: 0, ID: "c0", Name: "read_file", Arguments: "first"},
		{Index: 1, ID: "c1", Name: "read_file", Arguments: "second"},
		{Index: 2, ID: "c2", Name: "read_file", Arguments: "third"},
	}
	results := d.ExecuteAll(context.Background(), toolset.ToolContext{}, calls)
	require.Len(t, results, 3)
	require.Equal(t, "contents of first", results[0].Content)
	require.Equal(t, "contents of second", results[1].Content)
	require.Equal(t, "contents of third", results[2].Content)
}
