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
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/config"
	"github.com/weftagent/weft/internal/log"
	"github.com/weftagent/weft/internal/mesh"
	"github.com/weftagent/weft/internal/registry"
)

// bootstrapMesh constructs a.Mesh, registers this node's session handlers
// and registry-exchange responder, dials every configured bootstrap peer,
// and registers the config's [[remote_agents]] entries as RemoteRefs. It
// does not open a listening socket: accepting inbound connections needs an
// http.Server, which is cmd/weftd's job — a caller wanting to accept peers
// wires a.Mesh.Accept(ctx, peerLabel, conn) into its own upgrade handler.
func (a *Agent) bootstrapMesh(ctx context.Context, spec *config.MeshSpec) error {
	selfLabel := spec.SelfLabel
	if selfLabel == "" {
		return fmt.Errorf("pkg/agent: [mesh] requires self_label")
	}
	m := mesh.New(selfLabel)
	mesh.RegisterSessionHandlers(m, a.Registry)
	mesh.NewRegistryExchangeActor(m)
	dir := mesh.NewCachedDirectory(m)

	for _, url := range spec.Bootstrap {
		if _, err := m.Connect(ctx, url, peerLabelForURL(url)); err != nil {
			log.Warn("pkg/agent: mesh bootstrap peer unreachable", zap.String("url", url), zap.Error(err))
			continue
		}
		if err := dir.OnPeerConnected(ctx, peerLabelForURL(url)); err != nil {
			log.Warn("pkg/agent: registry exchange with bootstrap peer failed", zap.String("url", url), zap.Error(err))
		}
	}

	a.Mesh = m
	a.closers = append(a.closers, func() error {
		for _, label := range m.Peers() {
			if p, ok := m.Peer(label); ok {
				p.Close()
			}
		}
		return nil
	})

	client := mesh.NewClient(m)
	a.registerRemoteAgents(a.cfg.RemoteAgents, client)
	return nil
}

// peerLabelForURL is a placeholder addressing scheme: bootstrap entries in
// the [mesh] table are bare dial URLs, but Mesh.adopt needs a short peer
// label for its name table and peer map. Using the URL itself as the label
// is stable and unique; a future pass could instead read a label back from
// a handshake RPC the way libp2p's identify protocol would.
func peerLabelForURL(url string) string { return url }

// registerRemoteAgents inserts one registry.RemoteRef per [[remote_agents]]
// entry, so callers can look a delegate up by its session_id through
// a.Registry exactly like a local one.
func (a *Agent) registerRemoteAgents(entries []config.RemoteAgent, transport registry.RemoteTransport) {
	for _, ra := range entries {
		a.Registry.Insert(registry.RemoteRef{
			SessionPublicID: ra.SessionID,
			PeerLabel:       ra.PeerLabel,
			Transport:       transport,
		})
		log.Info("pkg/agent: registered remote agent", zap.String("name", ra.Name), zap.String("peer", ra.PeerLabel))
	}
}
