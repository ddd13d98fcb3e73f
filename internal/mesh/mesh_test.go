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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/mesh"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newConnectedPair wires a client Mesh to a server Mesh over a real
// websocket connection via httptest, each side adopting the other as a
// peer labeled "client"/"server".
func newConnectedPair(t *testing.T) (client *mesh.Mesh, server *mesh.Mesh, cleanup func()) {
	t.Helper()
	server = mesh.New("server")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		server.Accept(context.Background(), "client", conn)
	}))

	client = mesh.New("client")
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, err := client.Connect(context.Background(), url, "server")
	require.NoError(t, err)

	// give both read loops a moment to register the peer map entry
	time.Sleep(20 * time.Millisecond)

	return client, server, srv.Close
}

func TestPeerCallRoundTrip(t *testing.T) {
	client, server, cleanup := newConnectedPair(t)
	defer cleanup()

	server.Handle("echo", func(_ context.Context, raw json.RawMessage) (interface{}, error) {
		var payload map[string]string
		_ = json.Unmarshal(raw, &payload)
		return map[string]string{"echoed": payload["text"]}, nil
	})

	peer, ok := client.Peer("server")
	require.True(t, ok)

	raw, err := peer.Call(context.Background(), "echo", map[string]string{"text": "hi"})
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, "hi", result["echoed"])
}

func TestPeerCallSurfacesHandlerError(t *testing.T) {
	client, server, cleanup := newConnectedPair(t)
	defer cleanup()

	server.Handle("boom", func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, assertBoom{}
	})

	peer, ok := client.Peer("server")
	require.True(t, ok)

	_, err := peer.Call(context.Background(), "boom", struct{}{})
	require.Error(t, err)
}

type assertBoom struct{}

func (assertBoom) Error() string { return "boom" }

func TestPeerCallUnknownMethod(t *testing.T) {
	client, _, cleanup := newConnectedPair(t)
	defer cleanup()

	peer, ok := client.Peer("server")
	require.True(t, ok)

	_, err := peer.Call(context.Background(), "nope", struct{}{})
	require.Error(t, err)
}

func TestNameTableRegisterLookupEvict(t *testing.T) {
	nt := mesh.NewNameTable()
	nt.Register("session::s1", "peer-a")
	nt.Register("session::s2", "peer-b")

	owner, ok := nt.Lookup("session::s1")
	require.True(t, ok)
	require.Equal(t, "peer-a", owner)

	nt.EvictPeer("peer-a")
	_, ok = nt.Lookup("session::s1")
	require.False(t, ok)
	_, ok = nt.Lookup("session::s2")
	require.True(t, ok)
}

func TestCachedDirectoryPrewarmsFromRegistryExchange(t *testing.T) {
	client, server, cleanup := newConnectedPair(t)
	defer cleanup()

	server.Names.Register("provider_host::server-node", "server")
	server.Names.Register("session::ephemeral-one", "server") // not a durable kind, must not prewarm
	mesh.NewRegistryExchangeActor(server)

	dir := mesh.NewCachedDirectory(client)
	require.NoError(t, dir.OnPeerConnected(context.Background(), "server"))

	owner, ok := client.Names.Lookup("provider_host::server-node")
	require.True(t, ok)
	require.Equal(t, "server", owner)

	_, ok = client.Names.Lookup("session::ephemeral-one")
	require.False(t, ok)
}
