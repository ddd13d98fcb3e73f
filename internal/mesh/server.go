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
package mesh

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weftagent/weft/internal/registry"
)

// RegisterSessionHandlers wires the "session.*" JSON-RPC methods a peer
// calls against locally-hosted sessions (the same messages a local actor's
// inbox accepts, reached over the wire instead). A session that isn't
// registered, or that's itself a Remote ref on this node (this node only relays its
// own local sessions), answers MethodNotFound's sibling: a plain error.
func RegisterSessionHandlers(m *Mesh, reg *registry.SessionRegistry) {
	resolve := func(sessionID string) (registry.SessionActorRef, error) {
		ref, ok := reg.Get(sessionID)
		if !ok {
			return nil, fmt.Errorf("mesh: unknown session %q", sessionID)
		}
		if !ref.IsLocal() {
			return nil, fmt.Errorf("mesh: session %q is not hosted on this node", sessionID)
		}
		return ref, nil
	}

	m.Handle("session.prompt", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p promptParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return ref.Prompt(ctx, p.Request)
	})

	m.Handle("session.cancel", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p sessionParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return nil, ref.Cancel(ctx)
	})

	m.Handle("session.set_mode", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p setModeParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return nil, ref.SetMode(ctx, p.Mode)
	})

	m.Handle("session.get_mode", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p sessionParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return ref.GetMode(ctx)
	})

	m.Handle("session.get_history", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p sessionParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return ref.GetHistory(ctx)
	})

	m.Handle("session.undo", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p undoParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return ref.Undo(ctx, p.MessageID)
	})

	m.Handle("session.redo", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p sessionParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return ref.Redo(ctx)
	})

	m.Handle("session.set_session_model", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p setSessionModelParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return nil, ref.SetSessionModel(ctx, p.Provider, p.Model)
	})

	m.Handle("session.subscribe_events", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p subscribeEventsParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return nil, ref.SubscribeEvents(ctx, p.RelayID)
	})

	m.Handle("session.set_planning_context", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p setPlanningContextParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return nil, ref.SetPlanningContext(ctx, p.Summary)
	})

	m.Handle("session.get_file_index", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p sessionParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return ref.GetFileIndex(ctx)
	})

	m.Handle("session.read_remote_file", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p readRemoteFileParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		ref, err := resolve(p.SessionID)
		if err != nil {
			return nil, err
		}
		return ref.ReadRemoteFile(ctx, p.Path, p.Offset, p.Limit)
	})
}
