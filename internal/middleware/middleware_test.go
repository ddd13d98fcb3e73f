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
package middleware_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/middleware"
	"github.com/weftagent/weft/internal/model"
)

func TestLimitsMiddlewareStopsAtStepLimit(t *testing.T) {
	m := &middleware.LimitsMiddleware{MaxSteps: 3}
	state := execsm.BeforeLlmCall{Context: model.ConversationContext{Stats: model.Stats{Steps: 3}}}
	next, err := m.NextState(state)
	require.NoError(t, err)
	stopped, ok := next.(execsm.Stopped)
	require.True(t, ok)
	require.Equal(t, execsm.StopSessionStepLimit, stopped.StopType)
}

func TestLimitsMiddlewareAllowsUnderLimit(t *testing.T) {
	m := &middleware.LimitsMiddleware{MaxSteps: 3}
	state := execsm.BeforeLlmCall{Context: model.ConversationContext{Stats: model.Stats{Steps: 1}}}
	next, err := m.NextState(state)
	require.NoError(t, err)
	require.Equal(t, state, next)
}

func TestDelegationMiddlewareInjectsReminderOnce(t *testing.T) {
	m := &middleware.DelegationMiddleware{AvailableAgents: []string{"researcher"}, FirstTurnOnly: true}
	state := execsm.BeforeLlmCall{Context: model.ConversationContext{SessionID: "s1"}}

	next, err := m.NextState(state)
	require.NoError(t, err)
	before := next.(execsm.BeforeLlmCall)
	require.Len(t, before.Context.Messages, 1)
	require.Equal(t, model.RoleSystem, before.Context.Messages[0].Role)

	next2, err := m.NextState(execsm.BeforeLlmCall{Context: before.Context})
	require.NoError(t, err)
	require.Equal(t, before.Context, next2.(execsm.BeforeLlmCall).Context)
}

func TestAgentModeMiddlewareOnlyFiresInPlanMode(t *testing.T) {
	m := &middleware.AgentModeMiddleware{}
	buildState := execsm.BeforeLlmCall{Context: model.ConversationContext{SessionMode: model.ModeBuild}}
	next, err := m.NextState(buildState)
	require.NoError(t, err)
	require.Equal(t, buildState, next)

	planState := execsm.BeforeLlmCall{Context: model.ConversationContext{SessionMode: model.ModePlan}}
	next, err = m.NextState(planState)
	require.NoError(t, err)
	require.Len(t, next.(execsm.BeforeLlmCall).Context.Messages, 1)
}

func TestCompositeDriverPutsLimitsFirst(t *testing.T) {
	limits := &middleware.LimitsMiddleware{MaxSteps: 1}
	mode := &middleware.AgentModeMiddleware{}
	composite := middleware.NewComposite(mode, limits)

	state := execsm.BeforeLlmCall{Context: model.ConversationContext{Stats: model.Stats{Steps: 1}, SessionMode: model.ModePlan}}
	next, err := composite.NextState(state)
	require.NoError(t, err)
	_, stopped := next.(execsm.Stopped)
	require.True(t, stopped, "limits middleware should stop before mode middleware gets a chance to inject")
}

func TestCompositeDriverReachesFixedPoint(t *testing.T) {
	composite := middleware.NewComposite(&middleware.AgentModeMiddleware{})
	state := execsm.BeforeLlmCall{Context: model.ConversationContext{SessionMode: model.ModePlan}}
	next, err := composite.NextState(state)
	require.NoError(t, err)
	require.Len(t, next.(execsm.BeforeLlmCall).Context.Messages, 1)
}

func TestDedupCheckMiddlewareDetectsAboveThreshold(t *testing.T) {
	var detected []string
	m := &middleware.DedupCheckMiddleware{
		Analyzer: fakeAnalyzer{matches: []string{"pkg/foo/bar.go"}, above: true},
		OnDetect: func(matches []string) { detected = matches },
	}
	state := execsm.ProcessingToolCalls{
		Results: []execsm.ToolCallResult{
			{Snapshot: &model.SnapshotPart{ChangedPaths: model.ChangedPaths{Added: []string{"a.go"}}}},
		},
	}
	_, err := m.NextState(state)
	require.NoError(t, err)
	require.Equal(t, []string{"pkg/foo/bar.go"}, detected)
	require.NotEmpty(t, m.PendingReminder())
	require.Empty(t, m.PendingReminder())
}

type fakeAnalyzer struct {
	matches []string
	above   bool
}

func (f fakeAnalyzer) FindDuplicates([]string) ([]string, bool) { return f.matches, f.above }
