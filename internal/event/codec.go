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
package event

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// factories maps the wire "type" tag (the same tagging convention the
// message content model uses) to the concrete Go type backing it, so
// DecodeKind can allocate an addressable value for json.Unmarshal before
// converting it back to the Kind interface.
var factories = map[string]reflect.Type{
	"session_created":          reflect.TypeOf(SessionCreated{}),
	"provider_changed":         reflect.TypeOf(ProviderChanged{}),
	"llm_request_start":        reflect.TypeOf(LlmRequestStart{}),
	"llm_request_end":          reflect.TypeOf(LlmRequestEnd{}),
	"tools_available":          reflect.TypeOf(ToolsAvailable{}),
	"tool_call_start":          reflect.TypeOf(ToolCallStart{}),
	"tool_call_end":            reflect.TypeOf(ToolCallEnd{}),
	"progress_recorded":        reflect.TypeOf(ProgressRecorded{}),
	"artifact_recorded":        reflect.TypeOf(ArtifactRecorded{}),
	"decision_recorded":        reflect.TypeOf(DecisionRecorded{}),
	"intent_snapshot_recorded": reflect.TypeOf(IntentSnapshotRecorded{}),
	"delegation_requested":     reflect.TypeOf(DelegationRequested{}),
	"delegation_succeeded":     reflect.TypeOf(DelegationSucceeded{}),
	"delegation_failed":        reflect.TypeOf(DelegationFailed{}),
	"permission_requested":     reflect.TypeOf(PermissionRequested{}),
	"permission_granted":       reflect.TypeOf(PermissionGranted{}),
	"elicitation_requested":    reflect.TypeOf(ElicitationRequested{}),
	"snapshot_start":           reflect.TypeOf(SnapshotStart{}),
	"snapshot_end":             reflect.TypeOf(SnapshotEnd{}),
	"assistant_message_stored": reflect.TypeOf(AssistantMessageStored{}),
	"task_status_changed":      reflect.TypeOf(TaskStatusChanged{}),
	"session_forked":           reflect.TypeOf(SessionForked{}),
	"duplicate_code_detected":  reflect.TypeOf(DuplicateCodeDetected{}),
	"session_mode_changed":     reflect.TypeOf(SessionModeChanged{}),
	"session_model_changed":    reflect.TypeOf(SessionModelChanged{}),
	"session_timeout":          reflect.TypeOf(SessionTimeout{}),
}

// tagOf returns the wire tag for a Kind value by reverse lookup. Kept as a
// small switch (rather than reflection over factories); a Kind with no case
// here makes EncodeKind return an error.
func tagOf(k Kind) (string, error) {
	switch k.(type) {
	case SessionCreated:
		return "session_created", nil
	case ProviderChanged:
		return "provider_changed", nil
	case LlmRequestStart:
		return "llm_request_start", nil
	case LlmRequestEnd:
		return "llm_request_end", nil
	case ToolsAvailable:
		return "tools_available", nil
	case ToolCallStart:
		return "tool_call_start", nil
	case ToolCallEnd:
		return "tool_call_end", nil
	case ProgressRecorded:
		return "progress_recorded", nil
	case ArtifactRecorded:
		return "artifact_recorded", nil
	case DecisionRecorded:
		return "decision_recorded", nil
	case IntentSnapshotRecorded:
		return "intent_snapshot_recorded", nil
	case DelegationRequested:
		return "delegation_requested", nil
	case DelegationSucceeded:
		return "delegation_succeeded", nil
	case DelegationFailed:
		return "delegation_failed", nil
	case PermissionRequested:
		return "permission_requested", nil
	case PermissionGranted:
		return "permission_granted", nil
	case ElicitationRequested:
		return "elicitation_requested", nil
	case SnapshotStart:
		return "snapshot_start", nil
	case SnapshotEnd:
		return "snapshot_end", nil
	case AssistantMessageStored:
		return "assistant_message_stored", nil
	case TaskStatusChanged:
		return "task_status_changed", nil
	case SessionForked:
		return "session_forked", nil
	case DuplicateCodeDetected:
		return "duplicate_code_detected", nil
	case SessionModeChanged:
		return "session_mode_changed", nil
	case SessionModelChanged:
		return "session_model_changed", nil
	case SessionTimeout:
		return "session_timeout", nil
	default:
		return "", fmt.Errorf("event: no wire tag registered for %T", k)
	}
}

// wireEnvelope is the {"type": ..., "data": ...} JSON shape persisted in the
// events table's kind column.
type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeKind renders k as the journal's normative kind_json payload.
func EncodeKind(k Kind) (string, error) {
	tag, err := tagOf(k)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("event: marshal %s: %w", tag, err)
	}
	out, err := json.Marshal(wireEnvelope{Type: tag, Data: data})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeKind parses a journal kind_json payload back into a Kind. An
// unrecognized type tag is an error rather than a silent Unknown variant:
// unlike FinishReason, the event union is closed within one binary version.
func DecodeKind(s string) (Kind, error) {
	var env wireEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("event: unmarshal envelope: %w", err)
	}
	typ, ok := factories[env.Type]
	if !ok {
		return nil, fmt.Errorf("event: unknown kind tag %q", env.Type)
	}
	ptr := reflect.New(typ) // addressable *T for json.Unmarshal
	if err := json.Unmarshal(env.Data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("event: unmarshal %s: %w", env.Type, err)
	}
	return ptr.Elem().Interface().(Kind), nil
}
