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
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/event"
	"github.com/weftagent/weft/internal/fsext"
	"github.com/weftagent/weft/internal/log"
)

// GetFileIndexResponse answers GetFileIndex: a bounded file listing under
// the actor's own working directory, for a remote peer proxying a file tree
// view without having a checkout of its own.
type GetFileIndexResponse struct {
	Files     []string
	Truncated bool
	Error     error
}

// ReadRemoteFileResponse answers ReadRemoteFile: a line-bounded read.
type ReadRemoteFileResponse struct {
	Content string
	Error   error
}

// SetSessionModel rebinds the provider/model this session's next LlmRequest
// carries; internal/llmclient.Client honors a non-empty req.Context.Model as
// an override of its own configured default, so this takes effect on the
// very next CallLlm without tearing down or reconstructing the provider.
func (a *Actor) SetSessionModel(provider, model string) error {
	v := a.send("set_session_model", func(m *inboxMsg) { m.provider = provider; m.model = model })
	err, _ := v.(error)
	return err
}

// SubscribeEvents registers relayID as a forwarding target for this
// session's event stream. Repeated calls with the same relayID are
// idempotent. Forwarding is a no-op if Deps.EventRelay was never set (e.g.
// a build with no mesh layer configured).
func (a *Actor) SubscribeEvents(ctx context.Context, relayID string) error {
	v := a.send("subscribe_events", func(m *inboxMsg) { m.relayID = relayID })
	err, _ := v.(error)
	if err != nil {
		return err
	}
	return nil
}

// SetPlanningContext injects a parent planner's summary into this session's
// next turn, once, as a leading system-role message.
func (a *Actor) SetPlanningContext(summary string) error {
	v := a.send("set_planning_context", func(m *inboxMsg) { m.text = summary })
	err, _ := v.(error)
	return err
}

// GetFileIndex lists files under this actor's working directory, for remote
// file proxying by a peer that does not share this filesystem.
func (a *Actor) GetFileIndex() GetFileIndexResponse {
	v, _ := a.send("get_file_index", nil).(GetFileIndexResponse)
	return v
}

// ReadRemoteFile performs a bounded read (by line offset/limit) of path
// under this actor's working directory.
func (a *Actor) ReadRemoteFile(path string, offset, limit int) ReadRemoteFileResponse {
	v, _ := a.send("read_remote_file", func(m *inboxMsg) {
		m.text = path
		m.offset = offset
		m.limit = limit
	}).(ReadRemoteFileResponse)
	return v
}

func (a *Actor) handleSetSessionModel(provider, model string) error {
	a.mu.Lock()
	a.ctx.Provider = provider
	a.ctx.Model = model
	a.mu.Unlock()
	a.sink.EmitEvent(a.PublicID, event.SessionModelChanged{Provider: provider, Model: model})
	return nil
}

func (a *Actor) handleSubscribeEvents(ctx context.Context, relayID string) error {
	if relayID == "" {
		return fmt.Errorf("session actor: subscribe_events requires a relay id")
	}
	a.mu.Lock()
	already := a.relayIDs[relayID]
	if !already {
		if a.relayIDs == nil {
			a.relayIDs = make(map[string]bool)
		}
		a.relayIDs[relayID] = true
	}
	a.mu.Unlock()
	if already || a.eventRelay == nil || a.sink == nil {
		return nil
	}

	ch := a.sink.Subscribe(ctx, a.PublicID)
	go func() {
		for env := range ch {
			a.eventRelay(relayID, env)
		}
	}()
	return nil
}

func (a *Actor) handleSetPlanningContext(summary string) error {
	a.mu.Lock()
	a.planningContext = summary
	a.planningInjected = false
	a.mu.Unlock()
	return nil
}

func (a *Actor) handleGetFileIndex() GetFileIndexResponse {
	root := a.cwd
	if root == "" {
		root = "."
	}
	files, truncated, err := fsext.ListDirectory(root, nil, 6, 2000)
	if err != nil {
		log.Warn("session actor: get_file_index failed", zap.String("session_id", a.PublicID), zap.Error(err))
		return GetFileIndexResponse{Error: err}
	}
	return GetFileIndexResponse{Files: files, Truncated: truncated}
}

func (a *Actor) handleReadRemoteFile(path string, offset, limit int) ReadRemoteFileResponse {
	full := path
	if a.cwd != "" && !filepath.IsAbs(path) {
		full = filepath.Join(a.cwd, path)
	}
	content, err := readBoundedLines(full, offset, limit)
	if err != nil {
		return ReadRemoteFileResponse{Error: err}
	}
	return ReadRemoteFileResponse{Content: content}
}

// readBoundedLines reads path and returns lines [offset, offset+limit), or
// the whole file if limit <= 0.
func readBoundedLines(path string, offset, limit int) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read_remote_file: %w", err)
	}
	lines := strings.Split(string(raw), "\n")
	start := offset
	if start < 0 || start > len(lines) {
		start = 0
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "\n"), nil
}
