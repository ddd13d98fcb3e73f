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

// Package registry implements the process-wide SessionRegistry: a
// map from a session's public_id to a SessionActorRef, and the Local/Remote
// sum type that lets every other package address a session without caring
// whether it lives in this process or on a mesh peer.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/session"
)

// SessionActorRef mirrors SessionActor's message set with a uniform
// ctx/error signature so Local and Remote refs are interchangeable to every
// caller. The Local implementation's calls cannot time out in any
// interesting way (they're a buffered channel send within one process);
// only its SetSessionModel, SubscribeEvents and SetPlanningContext can
// return an error, the actor's own, and every other Local call returns nil.
// The Remote implementation maps a transport timeout to ErrSessionTimeout.
type SessionActorRef interface {
	PublicID() string
	IsLocal() bool

	Prompt(ctx context.Context, req session.PromptRequest) (session.PromptResponse, error)
	Cancel(ctx context.Context) error
	SetMode(ctx context.Context, mode model.SessionMode) error
	GetMode(ctx context.Context) (model.SessionMode, error)
	GetHistory(ctx context.Context) ([]model.AgentMessage, error)
	Undo(ctx context.Context, messageID string) (session.UndoResult, error)
	Redo(ctx context.Context) (session.RedoResult, error)

	SetSessionModel(ctx context.Context, provider, model string) error
	SubscribeEvents(ctx context.Context, relayID string) error
	SetPlanningContext(ctx context.Context, summary string) error
	GetFileIndex(ctx context.Context) (session.GetFileIndexResponse, error)
	ReadRemoteFile(ctx context.Context, path string, offset, limit int) (session.ReadRemoteFileResponse, error)
}

// ErrSessionTimeout is returned by a Remote ref when the mesh transport's
// outer deadline elapses. This is a typed error the caller must
// not retry automatically: a timed-out Prompt may have already mutated the
// remote session's state.
var ErrSessionTimeout = fmt.Errorf("registry: remote session call timed out")

// LocalRef addresses a SessionActor running in this process.
type LocalRef struct {
	Actor *session.Actor
}

func (r LocalRef) PublicID() string { return r.Actor.PublicID }
func (r LocalRef) IsLocal() bool    { return true }

func (r LocalRef) Prompt(ctx context.Context, req session.PromptRequest) (session.PromptResponse, error) {
	return r.Actor.Prompt(ctx, req), nil
}

func (r LocalRef) Cancel(context.Context) error {
	r.Actor.Cancel()
	return nil
}

func (r LocalRef) SetMode(_ context.Context, mode model.SessionMode) error {
	r.Actor.SetMode(mode)
	return nil
}

func (r LocalRef) GetMode(context.Context) (model.SessionMode, error) {
	return r.Actor.GetMode(), nil
}

func (r LocalRef) GetHistory(context.Context) ([]model.AgentMessage, error) {
	return r.Actor.GetHistory(), nil
}

func (r LocalRef) Undo(_ context.Context, messageID string) (session.UndoResult, error) {
	return r.Actor.Undo(messageID), nil
}

func (r LocalRef) Redo(context.Context) (session.RedoResult, error) {
	return r.Actor.Redo(), nil
}

func (r LocalRef) SetSessionModel(_ context.Context, provider, model string) error {
	return r.Actor.SetSessionModel(provider, model)
}

func (r LocalRef) SubscribeEvents(ctx context.Context, relayID string) error {
	return r.Actor.SubscribeEvents(ctx, relayID)
}

func (r LocalRef) SetPlanningContext(_ context.Context, summary string) error {
	return r.Actor.SetPlanningContext(summary)
}

func (r LocalRef) GetFileIndex(context.Context) (session.GetFileIndexResponse, error) {
	return r.Actor.GetFileIndex(), nil
}

func (r LocalRef) ReadRemoteFile(_ context.Context, path string, offset, limit int) (session.ReadRemoteFileResponse, error) {
	return r.Actor.ReadRemoteFile(path, offset, limit), nil
}

// RemoteTransport is the subset of the mesh client a RemoteRef needs; the
// mesh package implements it against its websocket/JSON-RPC substitution.
// Defined here rather than imported from internal/mesh to keep registry
// free of a dependency on the transport.
type RemoteTransport interface {
	SendPrompt(ctx context.Context, peerLabel, sessionID string, req session.PromptRequest) (session.PromptResponse, error)
	SendCancel(ctx context.Context, peerLabel, sessionID string) error
	SendSetMode(ctx context.Context, peerLabel, sessionID string, mode model.SessionMode) error
	SendGetMode(ctx context.Context, peerLabel, sessionID string) (model.SessionMode, error)
	SendGetHistory(ctx context.Context, peerLabel, sessionID string) ([]model.AgentMessage, error)
	SendUndo(ctx context.Context, peerLabel, sessionID, messageID string) (session.UndoResult, error)
	SendRedo(ctx context.Context, peerLabel, sessionID string) (session.RedoResult, error)

	SendSetSessionModel(ctx context.Context, peerLabel, sessionID, provider, model string) error
	SendSubscribeEvents(ctx context.Context, peerLabel, sessionID, relayID string) error
	SendSetPlanningContext(ctx context.Context, peerLabel, sessionID, summary string) error
	SendGetFileIndex(ctx context.Context, peerLabel, sessionID string) (session.GetFileIndexResponse, error)
	SendReadRemoteFile(ctx context.Context, peerLabel, sessionID, path string, offset, limit int) (session.ReadRemoteFileResponse, error)
}

// DefaultPromptTimeout is a generous outer timeout for a Prompt call, which
// may run a long tool-calling loop before returning.
const DefaultPromptTimeout = 10 * time.Minute

// DefaultCallTimeout bounds every other remote message.
const DefaultCallTimeout = 30 * time.Second

// RemoteRef addresses a SessionActor hosted on another mesh peer.
type RemoteRef struct {
	SessionPublicID string
	PeerLabel       string
	Transport       RemoteTransport

	PromptTimeout time.Duration
	CallTimeout   time.Duration
}

func (r RemoteRef) PublicID() string { return r.SessionPublicID }
func (r RemoteRef) IsLocal() bool    { return false }

func (r RemoteRef) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

func (r RemoteRef) promptTimeout() time.Duration {
	if r.PromptTimeout > 0 {
		return r.PromptTimeout
	}
	return DefaultPromptTimeout
}

func (r RemoteRef) callTimeout() time.Duration {
	if r.CallTimeout > 0 {
		return r.CallTimeout
	}
	return DefaultCallTimeout
}

func mapTimeout(ctx context.Context, err error) error {
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return ErrSessionTimeout
	}
	return err
}

func (r RemoteRef) Prompt(ctx context.Context, req session.PromptRequest) (session.PromptResponse, error) {
	cctx, cancel := r.withTimeout(ctx, r.promptTimeout())
	defer cancel()
	resp, err := r.Transport.SendPrompt(cctx, r.PeerLabel, r.SessionPublicID, req)
	return resp, mapTimeout(cctx, err)
}

func (r RemoteRef) Cancel(ctx context.Context) error {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	return mapTimeout(cctx, r.Transport.SendCancel(cctx, r.PeerLabel, r.SessionPublicID))
}

func (r RemoteRef) SetMode(ctx context.Context, mode model.SessionMode) error {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	return mapTimeout(cctx, r.Transport.SendSetMode(cctx, r.PeerLabel, r.SessionPublicID, mode))
}

func (r RemoteRef) GetMode(ctx context.Context) (model.SessionMode, error) {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	mode, err := r.Transport.SendGetMode(cctx, r.PeerLabel, r.SessionPublicID)
	return mode, mapTimeout(cctx, err)
}

func (r RemoteRef) GetHistory(ctx context.Context) ([]model.AgentMessage, error) {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	hist, err := r.Transport.SendGetHistory(cctx, r.PeerLabel, r.SessionPublicID)
	return hist, mapTimeout(cctx, err)
}

func (r RemoteRef) Undo(ctx context.Context, messageID string) (session.UndoResult, error) {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	res, err := r.Transport.SendUndo(cctx, r.PeerLabel, r.SessionPublicID, messageID)
	return res, mapTimeout(cctx, err)
}

func (r RemoteRef) Redo(ctx context.Context) (session.RedoResult, error) {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	res, err := r.Transport.SendRedo(cctx, r.PeerLabel, r.SessionPublicID)
	return res, mapTimeout(cctx, err)
}

func (r RemoteRef) SetSessionModel(ctx context.Context, provider, model string) error {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	return mapTimeout(cctx, r.Transport.SendSetSessionModel(cctx, r.PeerLabel, r.SessionPublicID, provider, model))
}

func (r RemoteRef) SubscribeEvents(ctx context.Context, relayID string) error {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	return mapTimeout(cctx, r.Transport.SendSubscribeEvents(cctx, r.PeerLabel, r.SessionPublicID, relayID))
}

func (r RemoteRef) SetPlanningContext(ctx context.Context, summary string) error {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	return mapTimeout(cctx, r.Transport.SendSetPlanningContext(cctx, r.PeerLabel, r.SessionPublicID, summary))
}

func (r RemoteRef) GetFileIndex(ctx context.Context) (session.GetFileIndexResponse, error) {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	res, err := r.Transport.SendGetFileIndex(cctx, r.PeerLabel, r.SessionPublicID)
	return res, mapTimeout(cctx, err)
}

func (r RemoteRef) ReadRemoteFile(ctx context.Context, path string, offset, limit int) (session.ReadRemoteFileResponse, error) {
	cctx, cancel := r.withTimeout(ctx, r.callTimeout())
	defer cancel()
	res, err := r.Transport.SendReadRemoteFile(cctx, r.PeerLabel, r.SessionPublicID, path, offset, limit)
	return res, mapTimeout(cctx, err)
}

// SessionRegistry is the process-wide public_id -> SessionActorRef map.
// All operations are O(1) on average behind a single RWMutex.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]SessionActorRef
}

// New constructs an empty SessionRegistry.
func New() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]SessionActorRef)}
}

// Insert registers ref under its own PublicID, replacing any prior entry.
func (r *SessionRegistry) Insert(ref SessionActorRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[ref.PublicID()] = ref
}

// Get looks up a session by public_id.
func (r *SessionRegistry) Get(publicID string) (SessionActorRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.sessions[publicID]
	return ref, ok
}

// Remove deregisters a session, if present.
func (r *SessionRegistry) Remove(publicID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, publicID)
}

// Len reports the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionIDs returns every registered public_id, in no particular order.
func (r *SessionRegistry) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// RemoveExpiredPeer evicts every Remote entry addressed through peerLabel:
// a peer expiring evicts eagerly here too, not just in the cached directory.
func (r *SessionRegistry) RemoveExpiredPeer(peerLabel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ref := range r.sessions {
		remote, ok := ref.(RemoteRef)
		if ok && remote.PeerLabel == peerLabel {
			delete(r.sessions, id)
		}
	}
}
