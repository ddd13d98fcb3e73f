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

// Package execsm defines the vocabulary of the per-turn execution state
// machine that cycles a session between the LLM, tool dispatch and the
// middleware pipeline: its states, stop and finish reasons, and the LLM and
// tool results they carry. The package has no transition function of its
// own.
package execsm

import "github.com/weftagent/weft/internal/model"

// StopType is the reason a turn halted short of Complete.
type StopType string

const (
	StopModelTokenLimit StopType = "model_token_limit"
	StopContentFilter   StopType = "content_filter"
	StopSessionStepLimit StopType = "session_step_limit"
	StopTimeout         StopType = "timeout"
	StopError           StopType = "error"
)

// FinishReason is the provider-reported reason an LLM turn ended. The string
// values are normative wire encodings: they must match the canonical name
// of the enum on the owning side and round-trip through ParseFinishReason.
type FinishReason string

const (
	FinishStop          FinishReason = "Stop"
	FinishLength        FinishReason = "Length"
	FinishContentFilter FinishReason = "ContentFilter"
	FinishToolCalls     FinishReason = "ToolCalls"
	FinishError         FinishReason = "Error"
	FinishOther         FinishReason = "Other"
	FinishUnknown       FinishReason = "Unknown"
)

// ParseFinishReason maps a wire string back to FinishReason. Unknown strings
// deserialize to FinishUnknown rather than erroring, so round-tripping a
// reason this code doesn't yet know about never fails.
func ParseFinishReason(s string) FinishReason {
	switch FinishReason(s) {
	case FinishStop, FinishLength, FinishContentFilter, FinishToolCalls, FinishError, FinishOther:
		return FinishReason(s)
	default:
		return FinishUnknown
	}
}

// State is the tagged union of execution states. Implemented as an
// interface with an unexported marker, mirroring model.MessagePart.
type State interface {
	state()
}

type BeforeLlmCall struct {
	Context model.ConversationContext
}

func (BeforeLlmCall) state() {}

// ToolDefinition is the minimal shape the state machine needs from a tool;
// the full tool contract lives in internal/toolset.
type ToolDefinition struct {
	Name        string
	Description string
	SchemaJSON  string
}

type CallLlm struct {
	Context model.ConversationContext
	Tools   []ToolDefinition
}

func (CallLlm) state() {}

// ToolCall is one LLM-requested tool invocation awaiting dispatch.
type ToolCall struct {
	Index     int // deterministic ordering key, preserved across replay
	ID        string
	Name      string
	Arguments string
}

// LlmResponse is the normalized shape of a completed (non-streaming or
// fully-drained streaming) LLM call.
type LlmResponse struct {
	Text         string
	Thinking     string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// Usage mirrors the per-call token accounting folded into model.Stats.
type Usage struct {
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CacheReadTokens int64
	CacheWriteTokens int64
	CostUSD         float64
}

type AfterLlm struct {
	Response LlmResponse
	Context  model.ConversationContext
}

func (AfterLlm) state() {}

// ToolCallResult is the outcome of one dispatched tool call, ordered by
// ToolCall.Index at journal-write time regardless of completion order.
type ToolCallResult struct {
	Call      ToolCall
	Content   string
	IsError   bool
	Snapshot  *model.SnapshotPart
}

type ProcessingToolCalls struct {
	RemainingCalls []ToolCall
	Results        []ToolCallResult
	Context        model.ConversationContext
}

func (ProcessingToolCalls) state() {}

// WaitKind distinguishes what WaitingForEvent is suspended on.
type WaitKind string

const (
	WaitDelegation  WaitKind = "delegation"
	WaitElicitation WaitKind = "elicitation"
)

type Wait struct {
	Kind WaitKind
	ID   string // delegation public_id or elicitation id
}

type WaitingForEvent struct {
	Context model.ConversationContext
	Wait    Wait
}

func (WaitingForEvent) state() {}

type Stopped struct {
	Message  string
	StopType StopType
	Context  *model.ConversationContext
}

func (Stopped) state() {}

type Complete struct {
	Context model.ConversationContext
}

func (Complete) state() {}

type Cancelled struct{}

func (Cancelled) state() {}
