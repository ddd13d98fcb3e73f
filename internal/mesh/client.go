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

	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/session"
)

// Client implements registry.RemoteTransport over a Mesh, making every
// registered SessionActorRef.Remote call a "session.*" JSON-RPC method
// call to the peer owning that session (resolved by the caller's
// peerLabel, not looked up again here — the registry already knows which
// peer a RemoteRef points at).
type Client struct {
	Mesh *Mesh
}

func NewClient(m *Mesh) *Client { return &Client{Mesh: m} }

func (c *Client) peer(peerLabel string) (*Peer, error) {
	p, ok := c.Mesh.Peer(peerLabel)
	if !ok {
		return nil, fmt.Errorf("mesh: no connection to peer %q", peerLabel)
	}
	return p, nil
}

type sessionParams struct {
	SessionID string `json:"session_id"`
}

type promptParams struct {
	SessionID string                 `json:"session_id"`
	Request   session.PromptRequest  `json:"request"`
}

type setModeParams struct {
	SessionID string           `json:"session_id"`
	Mode      model.SessionMode `json:"mode"`
}

type undoParams struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

type setSessionModelParams struct {
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

type subscribeEventsParams struct {
	SessionID string `json:"session_id"`
	RelayID   string `json:"relay_id"`
}

type setPlanningContextParams struct {
	SessionID string `json:"session_id"`
	Summary   string `json:"summary"`
}

type readRemoteFileParams struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Offset    int    `json:"offset"`
	Limit     int    `json:"limit"`
}

func (c *Client) SendPrompt(ctx context.Context, peerLabel, sessionID string, req session.PromptRequest) (session.PromptResponse, error) {
	p, err := c.peer(peerLabel)
	if err != nil {
		return session.PromptResponse{}, err
	}
	raw, err := p.Call(ctx, "session.prompt", promptParams{SessionID: sessionID, Request: req})
	if err != nil {
		return session.PromptResponse{}, err
	}
	var resp session.PromptResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return session.PromptResponse{}, fmt.Errorf("mesh: decode prompt response: %w", err)
	}
	return resp, nil
}

func (c *Client) SendCancel(ctx context.Context, peerLabel, sessionID string) error {
	p, err := c.peer(peerLabel)
	if err != nil {
		return err
	}
	_, err = p.Call(ctx, "session.cancel", sessionParams{SessionID: sessionID})
	return err
}

func (c *Client) SendSetMode(ctx context.Context, peerLabel, sessionID string, mode model.SessionMode) error {
	p, err := c.peer(peerLabel)
	if err != nil {
		return err
	}
	_, err = p.Call(ctx, "session.set_mode", setModeParams{SessionID: sessionID, Mode: mode})
	return err
}

func (c *Client) SendGetMode(ctx context.Context, peerLabel, sessionID string) (model.SessionMode, error) {
	p, err := c.peer(peerLabel)
	if err != nil {
		return "", err
	}
	raw, err := p.Call(ctx, "session.get_mode", sessionParams{SessionID: sessionID})
	if err != nil {
		return "", err
	}
	var mode model.SessionMode
	if err := json.Unmarshal(raw, &mode); err != nil {
		return "", fmt.Errorf("mesh: decode mode: %w", err)
	}
	return mode, nil
}

func (c *Client) SendGetHistory(ctx context.Context, peerLabel, sessionID string) ([]model.AgentMessage, error) {
	p, err := c.peer(peerLabel)
	if err != nil {
		return nil, err
	}
	raw, err := p.Call(ctx, "session.get_history", sessionParams{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var hist []model.AgentMessage
	if err := json.Unmarshal(raw, &hist); err != nil {
		return nil, fmt.Errorf("mesh: decode history: %w", err)
	}
	return hist, nil
}

func (c *Client) SendUndo(ctx context.Context, peerLabel, sessionID, messageID string) (session.UndoResult, error) {
	p, err := c.peer(peerLabel)
	if err != nil {
		return session.UndoResult{}, err
	}
	raw, err := p.Call(ctx, "session.undo", undoParams{SessionID: sessionID, MessageID: messageID})
	if err != nil {
		return session.UndoResult{}, err
	}
	var res session.UndoResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return session.UndoResult{}, fmt.Errorf("mesh: decode undo result: %w", err)
	}
	return res, nil
}

func (c *Client) SendRedo(ctx context.Context, peerLabel, sessionID string) (session.RedoResult, error) {
	p, err := c.peer(peerLabel)
	if err != nil {
		return session.RedoResult{}, err
	}
	raw, err := p.Call(ctx, "session.redo", sessionParams{SessionID: sessionID})
	if err != nil {
		return session.RedoResult{}, err
	}
	var res session.RedoResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return session.RedoResult{}, fmt.Errorf("mesh: decode redo result: %w", err)
	}
	return res, nil
}

func (c *Client) SendSetSessionModel(ctx context.Context, peerLabel, sessionID, provider, model string) error {
	p, err := c.peer(peerLabel)
	if err != nil {
		return err
	}
	_, err = p.Call(ctx, "session.set_session_model", setSessionModelParams{SessionID: sessionID, Provider: provider, Model: model})
	return err
}

func (c *Client) SendSubscribeEvents(ctx context.Context, peerLabel, sessionID, relayID string) error {
	p, err := c.peer(peerLabel)
	if err != nil {
		return err
	}
	_, err = p.Call(ctx, "session.subscribe_events", subscribeEventsParams{SessionID: sessionID, RelayID: relayID})
	return err
}

func (c *Client) SendSetPlanningContext(ctx context.Context, peerLabel, sessionID, summary string) error {
	p, err := c.peer(peerLabel)
	if err != nil {
		return err
	}
	_, err = p.Call(ctx, "session.set_planning_context", setPlanningContextParams{SessionID: sessionID, Summary: summary})
	return err
}

func (c *Client) SendGetFileIndex(ctx context.Context, peerLabel, sessionID string) (session.GetFileIndexResponse, error) {
	p, err := c.peer(peerLabel)
	if err != nil {
		return session.GetFileIndexResponse{}, err
	}
	raw, err := p.Call(ctx, "session.get_file_index", sessionParams{SessionID: sessionID})
	if err != nil {
		return session.GetFileIndexResponse{}, err
	}
	var res session.GetFileIndexResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return session.GetFileIndexResponse{}, fmt.Errorf("mesh: decode file index: %w", err)
	}
	return res, nil
}

func (c *Client) SendReadRemoteFile(ctx context.Context, peerLabel, sessionID, path string, offset, limit int) (session.ReadRemoteFileResponse, error) {
	p, err := c.peer(peerLabel)
	if err != nil {
		return session.ReadRemoteFileResponse{}, err
	}
	raw, err := p.Call(ctx, "session.read_remote_file", readRemoteFileParams{SessionID: sessionID, Path: path, Offset: offset, Limit: limit})
	if err != nil {
		return session.ReadRemoteFileResponse{}, err
	}
	var res session.ReadRemoteFileResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return session.ReadRemoteFileResponse{}, fmt.Errorf("mesh: decode remote file: %w", err)
	}
	return res, nil
}
