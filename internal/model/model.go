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

// Package model defines the persisted and in-memory data shapes shared by
// the session actor, the middleware pipeline and the storage layer.
package model

import "time"

// Role is the author of an AgentMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// TaskStatus is the lifecycle of a Task. At most one Task per session may be
// Active at any moment (invariant 2).
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskDone      TaskStatus = "done"
	TaskAbandoned TaskStatus = "abandoned"
)

// DelegationStatus is the lifecycle of a Delegation.
type DelegationStatus string

const (
	DelegationRequested DelegationStatus = "requested"
	DelegationRunning   DelegationStatus = "running"
	DelegationSucceeded DelegationStatus = "succeeded"
	DelegationFailed    DelegationStatus = "failed"
	DelegationCancelled DelegationStatus = "cancelled"
)

// ProgressKind classifies a ProgressEntry.
type ProgressKind string

const (
	ProgressToolCall   ProgressKind = "tool_call"
	ProgressNote       ProgressKind = "note"
	ProgressCheckpoint ProgressKind = "checkpoint"
)

// ForkPointType selects how SessionForkHelper reconstructs a child session.
type ForkPointType string

const (
	ForkAtMessageIndex  ForkPointType = "message_index"
	ForkAtProgressEntry ForkPointType = "progress_entry"
)

// Session is one row in the registry's backing store. ActiveTaskID and
// CurrentIntentSnapshotID, when set, must reference rows whose SessionID
// equals PublicID.
type Session struct {
	PublicID                string
	Name                    string
	Cwd                     string
	CreatedAt               time.Time
	UpdatedAt               time.Time
	ActiveTaskID            string
	CurrentIntentSnapshotID string

	// Fork metadata, set only on sessions created via SessionForkHelper.
	ParentSessionID  string
	ForkPointType    ForkPointType
	ForkPointRef     string
	ForkOrigin       string
	ForkInstructions string
}

// AgentMessage is one append-only row in a session's transcript.
type AgentMessage struct {
	ID             string
	SessionID      string
	Role           Role
	Parts          []MessagePart
	CreatedAt      time.Time
	ParentMessageID string
}

// MessagePart is the tagged union of content a message may carry. Modeled as
// an interface with an unexported marker rather than one struct with many
// optional fields, the idiom this codebase uses elsewhere for variant sets
// without generated protobuf oneof machinery.
type MessagePart interface {
	messagePart()
}

type TextPart struct {
	Content string
}

func (TextPart) messagePart() {}

type ToolUsePart struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

func (ToolUsePart) messagePart() {}

type ToolResultPart struct {
	CallID        string
	Content       string
	IsError       bool
	ToolName      string
	ToolArguments string
	CompactedAt   *time.Time
}

func (ToolResultPart) messagePart() {}

// ChangedPaths summarizes a filesystem delta between two snapshots.
type ChangedPaths struct {
	Added    []string
	Modified []string
	Removed  []string
}

type SnapshotPart struct {
	RootHash     string
	ChangedPaths ChangedPaths
	// PriorRootHash is the tree hash captured just before the tool ran, the
	// restore target for an Undo of this message.
	PriorRootHash string `json:"PriorRootHash,omitempty"`
}

func (SnapshotPart) messagePart() {}

type ImagePart struct {
	MimeType string
	Data     []byte
}

func (ImagePart) messagePart() {}

type PdfPart struct {
	Data []byte
}

func (PdfPart) messagePart() {}

type ImageURLPart struct {
	URL string
}

func (ImageURLPart) messagePart() {}

// Task is a unit of work tracked against a session.
type Task struct {
	PublicID             string
	SessionID            string
	Kind                 string
	Status               TaskStatus
	ExpectedDeliverable  string
	AcceptanceCriteria   string
	CreatedAt            time.Time
}

// IntentSnapshot is an immutable summary of what a session is currently
// trying to achieve.
type IntentSnapshot struct {
	PublicID     string
	SessionID    string
	Summary      string
	Constraints  string
	NextStepHint string
	TaskID       string
	CreatedAt    time.Time
}

// Decision, Alternative, Artifact and ProgressEntry are append-only ledgers
// scoped to (session_id, task_id?).
type Decision struct {
	PublicID  string
	SessionID string
	TaskID    string
	Summary   string
	Rationale string
	CreatedAt time.Time
}

type Alternative struct {
	PublicID   string
	DecisionID string
	Summary    string
	Rejected   bool
	CreatedAt  time.Time
}

type Artifact struct {
	PublicID  string
	SessionID string
	TaskID    string
	Kind      string // free string, typically "file"
	Path      string
	Summary   string
	CreatedAt time.Time
}

type ProgressEntry struct {
	PublicID  string
	SessionID string
	TaskID    string
	Kind      ProgressKind
	Detail    string
	CreatedAt time.Time
}

// Delegation tracks one agent commissioning another to fulfil an objective.
type Delegation struct {
	PublicID        string
	SessionID       string
	TargetAgentID   string
	Objective       string
	ObjectiveHash   string // hex-encoded 64-bit xxhash, see internal/ids
	Context         string
	Constraints     string
	ExpectedOutput  string
	Status          DelegationStatus
	RetryCount      int
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// Stats accumulates token usage and step/turn counters for a session's
// conversation context.
type Stats struct {
	Steps             int
	Turns             int
	TotalInputTokens  int64
	TotalOutputTokens int64
	ReasoningTokens   int64
	CacheReadTokens   int64
	CacheWriteTokens  int64
	ContextTokens     int64
	RequestCostUSD    float64
	CumulativeCostUSD float64
}

// SessionMode affects prompt injection (AgentModeMiddleware).
type SessionMode string

const (
	ModeBuild SessionMode = "build"
	ModePlan  SessionMode = "plan"
)

// ConversationContext is rebuilt on every state-machine transition. Messages
// is a snapshot of the prefix known at transition time; mutations append a
// new context rather than mutate this one in place.
type ConversationContext struct {
	SessionID   string
	Messages    []AgentMessage
	Stats       Stats
	Provider    string
	Model       string
	SessionMode SessionMode
	// TurnDiffs accumulates deduplicated changed paths across every tool
	// call in the current turn, regardless of how many snapshots contributed
	// to it; storeAllToolResults folds each result's SnapshotPart into it.
	TurnDiffs ChangedPaths
}

// Append returns a new ConversationContext whose Messages is ctx.Messages
// plus msgs, leaving ctx untouched.
func (ctx ConversationContext) Append(msgs ...AgentMessage) ConversationContext {
	next := make([]AgentMessage, 0, len(ctx.Messages)+len(msgs))
	next = append(next, ctx.Messages...)
	next = append(next, msgs...)
	ctx.Messages = next
	return ctx
}
