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
package permission_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/permission"
)

type fixedBridge struct {
	decision permission.Decision
	err      error
}

func (b fixedBridge) Ask(context.Context, permission.Request) (permission.Decision, error) {
	return b.decision, b.err
}

func TestYOLOBypassesEverything(t *testing.T) {
	g := permission.New(permission.Config{YOLO: true, DisabledTools: []string{"shell"}}, nil)
	require.NoError(t, g.Check(context.Background(), permission.Request{ToolName: "shell"}))
}

func TestBlacklistBeatsWhitelist(t *testing.T) {
	g := permission.New(permission.Config{
		DisabledTools: []string{"shell"},
		AllowedTools:  []string{"shell"},
	}, nil)
	err := g.Check(context.Background(), permission.Request{ToolName: "shell"})
	require.ErrorIs(t, err, permission.ErrDenied)
}

func TestNoBridgeDefaultsToAllow(t *testing.T) {
	g := permission.New(permission.Config{RequireApproval: true}, nil)
	require.NoError(t, g.Check(context.Background(), permission.Request{ToolName: "shell"}))
}

func TestBridgeRejectOnceDenies(t *testing.T) {
	g := permission.New(permission.Config{RequireApproval: true}, fixedBridge{decision: permission.RejectOnce})
	err := g.Check(context.Background(), permission.Request{ToolName: "shell"})
	require.ErrorIs(t, err, permission.ErrDenied)
}

func TestBridgeAllowAlwaysIsCached(t *testing.T) {
	bridge := &countingBridge{decision: permission.AllowAlways}
	g := permission.New(permission.Config{RequireApproval: true}, bridge)

	require.NoError(t, g.Check(context.Background(), permission.Request{ToolName: "shell"}))
	require.NoError(t, g.Check(context.Background(), permission.Request{ToolName: "shell"}))
	require.Equal(t, 1, bridge.calls)
}

func TestBridgeRejectAlwaysIsCachedAsDenial(t *testing.T) {
	bridge := &countingBridge{decision: permission.RejectAlways}
	g := permission.New(permission.Config{RequireApproval: true}, bridge)

	require.Error(t, g.Check(context.Background(), permission.Request{ToolName: "shell"}))
	err := g.Check(context.Background(), permission.Request{ToolName: "shell"})
	require.ErrorIs(t, err, permission.ErrDenied)
	require.Equal(t, 1, bridge.calls)
}

func TestBridgeErrorPropagates(t *testing.T) {
	g := permission.New(permission.Config{RequireApproval: true}, fixedBridge{err: errors.New("bridge down")})
	err := g.Check(context.Background(), permission.Request{ToolName: "shell"})
	require.Error(t, err)
	require.NotErrorIs(t, err, permission.ErrDenied)
}

func TestRequiresByKind(t *testing.T) {
	require.True(t, permission.Requires("edit_file", permission.ToolKindEdit, nil))
	require.False(t, permission.Requires("read_file", permission.ToolKindRead, nil))
	require.True(t, permission.Requires("custom_tool", permission.ToolKindRead, map[string]bool{"custom_tool": true}))
}

type countingBridge struct {
	decision permission.Decision
	calls    int
}

func (b *countingBridge) Ask(context.Context, permission.Request) (permission.Decision, error) {
	b.calls++
	return b.decision, nil
}
