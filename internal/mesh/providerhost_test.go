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
package mesh_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/mesh"
	"github.com/weftagent/weft/internal/session"
)

type fakeProvider struct {
	calls int
}

func (f *fakeProvider) Call(context.Context, session.LlmRequest) (execsm.LlmResponse, error) {
	f.calls++
	return execsm.LlmResponse{Text: "hello", FinishReason: execsm.FinishStop}, nil
}

func (f *fakeProvider) IsRateLimited(error) bool { return false }

func TestProviderHostChatResolvesAndReuses(t *testing.T) {
	client, server, cleanup := newConnectedPair(t)
	defer cleanup()

	provider := &fakeProvider{}
	factoryCalls := 0
	factory := func(name, model string, params map[string]string) (session.LlmProvider, error) {
		factoryCalls++
		return provider, nil
	}
	mesh.NewProviderHostActor(server, factory)

	peer, ok := client.Peer("server")
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		raw, err := peer.Call(context.Background(), "provider.chat", mesh.ProviderChatRequest{
			Provider: "acme", Model: "big-model",
		})
		require.NoError(t, err)
		require.Contains(t, string(raw), "hello")
	}
	// Same (provider, model) key resolves from the LRU cache: the factory
	// runs once and all three calls reach the one instance it built.
	require.Equal(t, 1, factoryCalls)
	require.Equal(t, 3, provider.calls)
}
