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
package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/registry"
	"github.com/weftagent/weft/internal/session"
)

type fakeRef struct {
	id string
}

func (f fakeRef) PublicID() string { return f.id }
func (f fakeRef) IsLocal() bool    { return true }
func (f fakeRef) Prompt(context.Context, session.PromptRequest) (session.PromptResponse, error) {
	return session.PromptResponse{}, nil
}
func (f fakeRef) Cancel(context.Context) error { return nil }
func (f fakeRef) SetMode(context.Context, model.SessionMode) error { return nil }
func (f fakeRef) GetMode(context.Context) (model.SessionMode, error) { return "", nil }
func (f fakeRef) GetHistory(context.Context) ([]model.AgentMessage, error) { return nil, nil }
func (f fakeRef) Undo(context.Context, string) (session.UndoResult, error) { return session.UndoResult{}, nil }
func (f fakeRef) Redo(context.Context) (session.RedoResult, error) { return session.RedoResult{}, nil }
func (f fakeRef) SetSessionModel(context.Context, string, string) error { return nil }
func (f fakeRef) SubscribeEvents(context.Context, string) error { return nil }
func (f fakeRef) SetPlanningContext(context.Context, string) error { return nil }
func (f fakeRef) GetFileIndex(context.Context) (session.GetFileIndexResponse, error) {
	return session.GetFileIndexResponse{}, nil
}
func (f fakeRef) ReadRemoteFile(context.Context, string, int, int) (session.ReadRemoteFileResponse, error) {
	return session.ReadRemoteFileResponse{}, nil
}

func TestInsertGetRemove(t *testing.T) {
	r := registry.New()
	require.Equal(t, 0, r.Len())

	r.Insert(fakeRef{id: "s1"})
	require.Equal(t, 1, r.Len())

	ref, ok := r.Get("s1")
	require.True(t, ok)
	require.Equal(t, "s1", ref.PublicID())

	r.Remove("s1")
	require.Equal(t, 0, r.Len())
	_, ok = r.Get("s1")
	require.False(t, ok)
}

func TestSessionIDsListsEveryEntry(t *testing.T) {
	r := registry.New()
	r.Insert(fakeRef{id: "a"})
	r.Insert(fakeRef{id: "b"})
	require.ElementsMatch(t, []string{"a", "b"}, r.SessionIDs())
}

type fakeTransport struct {
	promptDelay time.Duration
}

func (f fakeTransport) SendPrompt(ctx context.Context, _, _ string, _ session.PromptRequest) (session.PromptResponse, error) {
	select {
	case <-time.After(f.promptDelay):
		return session.PromptResponse{Text: "ok"}, nil
	case <-ctx.Done():
		return session.PromptResponse{}, ctx.Err()
	}
}
func (f fakeTransport) SendCancel(context.Context, string, string) error { return nil }
func (f fakeTransport) SendSetMode(context.Context, string, string, model.SessionMode) error {
	return nil
}
func (f fakeTransport) SendGetMode(context.Context, string, string) (model.SessionMode, error) {
	return model.ModeBuild, nil
}
func (f fakeTransport) SendGetHistory(context.Context, string, string) ([]model.AgentMessage, error) {
	return nil, nil
}
func (f fakeTransport) SendUndo(context.Context, string, string, string) (session.UndoResult, error) {
	return session.UndoResult{}, nil
}
func (f fakeTransport) SendRedo(context.Context, string, string) (session.RedoResult, error) {
	return session.RedoResult{}, nil
}
func (f fakeTransport) SendSetSessionModel(context.Context, string, string, string, string) error {
	return nil
}
func (f fakeTransport) SendSubscribeEvents(context.Context, string, string, string) error { return nil }
func (f fakeTransport) SendSetPlanningContext(context.Context, string, string, string) error {
	return nil
}
func (f fakeTransport) SendGetFileIndex(context.Context, string, string) (session.GetFileIndexResponse, error) {
	return session.GetFileIndexResponse{}, nil
}
func (f fakeTransport) SendReadRemoteFile(context.Context, string, string, string, int, int) (session.ReadRemoteFileResponse, error) {
	return session.ReadRemoteFileResponse{}, nil
}

func TestRemoteRefMapsDeadlineToSessionTimeout(t *testing.T) {
	ref := registry.RemoteRef{
		SessionPublicID: "s1",
		PeerLabel:       "peer-a",
		Transport:       fakeTransport{promptDelay: 50 * time.Millisecond},
		PromptTimeout:   5 * time.Millisecond,
	}
	_, err := ref.Prompt(context.Background(), session.PromptRequest{Text: "hi"})
	require.ErrorIs(t, err, registry.ErrSessionTimeout)
}

func TestRemoteRefSucceedsUnderTimeout(t *testing.T) {
	ref := registry.RemoteRef{
		SessionPublicID: "s1",
		PeerLabel:       "peer-a",
		Transport:       fakeTransport{promptDelay: time.Millisecond},
		PromptTimeout:   time.Second,
	}
	resp, err := ref.Prompt(context.Background(), session.PromptRequest{Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
}

func TestRemoveExpiredPeerEvictsOnlyThatPeer(t *testing.T) {
	r := registry.New()
	r.Insert(registry.RemoteRef{SessionPublicID: "s1", PeerLabel: "peer-a"})
	r.Insert(registry.RemoteRef{SessionPublicID: "s2", PeerLabel: "peer-b"})
	r.RemoveExpiredPeer("peer-a")
	require.Equal(t, 1, r.Len())
	_, ok := r.Get("s2")
	require.True(t, ok)
}
