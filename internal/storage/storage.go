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

// Package storage declares the repository contracts the runtime persists
// through. The contract is storage-agnostic; internal/storage/sqlite is the
// reference implementation.
package storage

import (
	"context"

	"github.com/weftagent/weft/internal/event"
	"github.com/weftagent/weft/internal/model"
)

// SessionRepository owns the sessions table.
type SessionRepository interface {
	Create(ctx context.Context, s model.Session) error
	Get(ctx context.Context, publicID string) (model.Session, error)
	Update(ctx context.Context, s model.Session) error
	Delete(ctx context.Context, publicID string) error
	List(ctx context.Context) ([]model.Session, error)
	// Touch bumps updated_at; called whenever a message, task or intent is
	// appended for the session.
	Touch(ctx context.Context, publicID string) error
}

// MessageRepository owns the append-only messages table.
type MessageRepository interface {
	Append(ctx context.Context, m model.AgentMessage) error
	List(ctx context.Context, sessionID string) ([]model.AgentMessage, error)
	// Search runs the full-text query over message textual content.
	Search(ctx context.Context, sessionID, query string) ([]model.AgentMessage, error)
}

// TaskRepository owns the tasks table. Status is the one mutable field.
type TaskRepository interface {
	Create(ctx context.Context, t model.Task) error
	SetStatus(ctx context.Context, publicID string, status model.TaskStatus) error
	Active(ctx context.Context, sessionID string) (*model.Task, error)
	Get(ctx context.Context, publicID string) (model.Task, error)
}

// IntentRepository owns the append-only intent_snapshots table.
type IntentRepository interface {
	Create(ctx context.Context, s model.IntentSnapshot) error
	Current(ctx context.Context, sessionID string) (*model.IntentSnapshot, error)
	Get(ctx context.Context, publicID string) (model.IntentSnapshot, error)
}

// DecisionRepository owns decisions and their alternatives.
type DecisionRepository interface {
	Create(ctx context.Context, d model.Decision) error
	AddAlternative(ctx context.Context, a model.Alternative) error
	List(ctx context.Context, sessionID string) ([]model.Decision, error)
}

// ArtifactRepository owns the append-only artifacts table.
type ArtifactRepository interface {
	Create(ctx context.Context, a model.Artifact) error
	List(ctx context.Context, sessionID string) ([]model.Artifact, error)
}

// DelegationRepository owns delegations; Status is the one mutable field.
type DelegationRepository interface {
	Create(ctx context.Context, d model.Delegation) error
	SetStatus(ctx context.Context, publicID string, status model.DelegationStatus, completedAt *model.Delegation) error
	Get(ctx context.Context, publicID string) (model.Delegation, error)
	// PriorFailedRetryCount returns the count of prior Failed delegations
	// with identical (target_agent_id, objective_hash).
	PriorFailedRetryCount(ctx context.Context, targetAgentID, objectiveHash string) (int, error)
}

// ProgressRepository owns the append-only progress_entries table.
type ProgressRepository interface {
	Create(ctx context.Context, p model.ProgressEntry) error
	List(ctx context.Context, sessionID string) ([]model.ProgressEntry, error)
}

// EventJournal owns the append-only events table.
type EventJournal interface {
	// Append assigns the next per-session seq and writes the envelope.
	Append(ctx context.Context, env event.Envelope) (event.Envelope, error)
	// List replays events for sessionID from seq > afterSeq, in order.
	List(ctx context.Context, sessionID string, afterSeq int64) ([]event.Envelope, error)
}

// Backend aggregates every repository behind one handle.
type Backend interface {
	Sessions() SessionRepository
	Messages() MessageRepository
	Tasks() TaskRepository
	Intents() IntentRepository
	Decisions() DecisionRepository
	Artifacts() ArtifactRepository
	Delegations() DelegationRepository
	Progress() ProgressRepository
	Journal() EventJournal
	Close() error
}
