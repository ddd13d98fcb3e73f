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

// Package fork reconstructs a child session's transcript from a parent at a
// specified cut point, the one-shot step between a child's model.Session row
// existing and its SessionActor having anything to say.
package fork

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/weftagent/weft/internal/event"
	"github.com/weftagent/weft/internal/eventsink"
	"github.com/weftagent/weft/internal/ids"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/storage"
)

// Helper reconstructs forked sessions against a storage backend, optionally
// emitting SessionForked once the child's history is in place.
type Helper struct {
	Store storage.Backend
	Sink  *eventsink.Sink
}

// Fork creates and persists a child model.Session row under parent, copies
// the message prefix named by pointType/pointRef, and records a composite
// intent snapshot combining the parent's current intent with instructions.
// Returns the persisted child row and its copied messages, in order, for the
// caller to seed a fresh SessionActor's in-memory context with (the actor
// never re-reads its own transcript from storage at construction time).
func (h Helper) Fork(ctx context.Context, parent model.Session, pointType model.ForkPointType, pointRef, origin, instructions string) (model.Session, []model.AgentMessage, error) {
	now := time.Now()
	child := model.Session{
		PublicID:         ids.New(),
		Name:             parent.Name + " (fork)",
		Cwd:              parent.Cwd,
		CreatedAt:        now,
		UpdatedAt:        now,
		ParentSessionID:  parent.PublicID,
		ForkPointType:    pointType,
		ForkPointRef:     pointRef,
		ForkOrigin:       origin,
		ForkInstructions: instructions,
	}
	if err := h.Store.Sessions().Create(ctx, child); err != nil {
		return model.Session{}, nil, fmt.Errorf("fork: persisting child session: %w", err)
	}

	parentMsgs, err := h.Store.Messages().List(ctx, parent.PublicID)
	if err != nil {
		return model.Session{}, nil, fmt.Errorf("fork: loading parent messages: %w", err)
	}

	prefix, cutoff, err := cutPrefix(ctx, h.Store, parent.PublicID, parentMsgs, pointType, pointRef)
	if err != nil {
		return model.Session{}, nil, err
	}

	copied := make([]model.AgentMessage, 0, len(prefix))
	for _, m := range prefix {
		m.ID = ids.New()
		m.SessionID = child.PublicID
		m.ParentMessageID = ""
		if err := h.Store.Messages().Append(ctx, m); err != nil {
			return model.Session{}, nil, fmt.Errorf("fork: copying message: %w", err)
		}
		copied = append(copied, m)
	}

	if pointType == model.ForkAtProgressEntry {
		entries, err := h.Store.Progress().List(ctx, parent.PublicID)
		if err != nil {
			return model.Session{}, nil, fmt.Errorf("fork: loading parent progress: %w", err)
		}
		for _, e := range entries {
			if e.CreatedAt.After(cutoff) {
				continue
			}
			e.PublicID = ids.New()
			e.SessionID = child.PublicID
			if err := h.Store.Progress().Create(ctx, e); err != nil {
				return model.Session{}, nil, fmt.Errorf("fork: copying progress entry: %w", err)
			}
		}
	}

	summary := instructions
	if parentIntent, err := h.Store.Intents().Current(ctx, parent.PublicID); err == nil && parentIntent != nil {
		summary = parentIntent.Summary + "\n\n" + instructions
	}
	snapshot := model.IntentSnapshot{
		PublicID:  ids.New(),
		SessionID: child.PublicID,
		Summary:   summary + " (Forked session)",
		CreatedAt: now,
	}
	if err := h.Store.Intents().Create(ctx, snapshot); err != nil {
		return model.Session{}, nil, fmt.Errorf("fork: recording intent snapshot: %w", err)
	}
	child.CurrentIntentSnapshotID = snapshot.PublicID
	if err := h.Store.Sessions().Update(ctx, child); err != nil {
		return model.Session{}, nil, fmt.Errorf("fork: updating child session: %w", err)
	}
	if err := h.Store.Sessions().Touch(ctx, child.PublicID); err != nil {
		return model.Session{}, nil, fmt.Errorf("fork: touching child session: %w", err)
	}

	if h.Sink != nil {
		h.Sink.EmitEvent(child.PublicID, event.SessionForked{
			ParentID:     parent.PublicID,
			ChildID:      child.PublicID,
			MessageCount: len(copied),
		})
	}

	return child, copied, nil
}

// cutPrefix resolves pointType/pointRef against parentMsgs, returning the
// messages to copy and (for ForkAtProgressEntry) the referenced entry's
// timestamp, the cutoff progress entries are copied against too.
func cutPrefix(ctx context.Context, store storage.Backend, parentID string, parentMsgs []model.AgentMessage, pointType model.ForkPointType, pointRef string) ([]model.AgentMessage, time.Time, error) {
	switch pointType {
	case model.ForkAtMessageIndex:
		idx, err := strconv.Atoi(pointRef)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("fork: fork_point_ref %q is not a message index: %w", pointRef, err)
		}
		if idx < 0 {
			idx = 0
		}
		if idx >= len(parentMsgs) {
			idx = len(parentMsgs) - 1
		}
		if idx < 0 {
			return nil, time.Time{}, nil
		}
		return parentMsgs[:idx+1], time.Time{}, nil

	case model.ForkAtProgressEntry:
		entries, err := store.Progress().List(ctx, parentID)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("fork: loading parent progress: %w", err)
		}
		var cutoff time.Time
		found := false
		for _, e := range entries {
			if e.PublicID == pointRef {
				cutoff = e.CreatedAt
				found = true
				break
			}
		}
		if !found {
			return nil, time.Time{}, fmt.Errorf("fork: progress entry %q not found on parent session", pointRef)
		}
		prefix := make([]model.AgentMessage, 0, len(parentMsgs))
		for _, m := range parentMsgs {
			if !m.CreatedAt.After(cutoff) {
				prefix = append(prefix, m)
			}
		}
		return prefix, cutoff, nil

	default:
		return nil, time.Time{}, fmt.Errorf("fork: unknown fork point type %q", pointType)
	}
}
