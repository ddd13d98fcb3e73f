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
package event_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/event"
)

// allKinds must be kept in sync with every Kind defined in event.go. A
// variant listed here that Classify has no case for makes Classify panic, so
// TestClassifyIsExhaustive fails instead of the variant getting a silent
// default durability.
func allKinds() []event.Kind {
	return []event.Kind{
		event.SessionCreated{},
		event.ProviderChanged{},
		event.LlmRequestStart{},
		event.LlmRequestEnd{},
		event.ToolsAvailable{},
		event.ToolCallStart{},
		event.ToolCallEnd{},
		event.ProgressRecorded{},
		event.ArtifactRecorded{},
		event.DecisionRecorded{},
		event.IntentSnapshotRecorded{},
		event.DelegationRequested{},
		event.DelegationSucceeded{},
		event.DelegationFailed{},
		event.PermissionRequested{},
		event.PermissionGranted{},
		event.ElicitationRequested{},
		event.SnapshotStart{},
		event.SnapshotEnd{},
		event.AssistantMessageStored{},
		event.TaskStatusChanged{},
		event.SessionForked{},
		event.DuplicateCodeDetected{},
		event.SessionModeChanged{},
		event.SessionModelChanged{},
		event.SessionTimeout{},
	}
}

func TestClassifyIsExhaustive(t *testing.T) {
	for _, k := range allKinds() {
		d := event.Classify(k)
		require.Contains(t, []event.Durability{event.Durable, event.Ephemeral}, d)
	}
}

func TestStreamingMarkersAreEphemeral(t *testing.T) {
	require.Equal(t, event.Ephemeral, event.Classify(event.LlmRequestStart{}))
	require.Equal(t, event.Ephemeral, event.Classify(event.ToolCallStart{}))
}

func TestLifecycleEventsAreDurable(t *testing.T) {
	require.Equal(t, event.Durable, event.Classify(event.SessionCreated{}))
	require.Equal(t, event.Durable, event.Classify(event.ToolCallEnd{}))
	require.Equal(t, event.Durable, event.Classify(event.AssistantMessageStored{}))
}
