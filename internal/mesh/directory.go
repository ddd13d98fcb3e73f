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
	"strings"

	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/log"
)

// exchangeEntryKinds are the name-table prefixes a CachedDirectory
// pre-warms on peer discovery; session/relay/stream entries are ephemeral
// and skipped.
var exchangeEntryKinds = []string{"provider_host::", "node_manager::"}

// RegistryExchangeActor serves this node's own name-table registrations
// (filtered to the durable kinds above) to a peer that asks for them
// through the "registry.exchange" method; it has no name-table entry of its
// own.
type RegistryExchangeActor struct {
	mesh *Mesh
}

// NewRegistryExchangeActor registers the "registry.exchange" handler.
func NewRegistryExchangeActor(m *Mesh) *RegistryExchangeActor {
	actor := &RegistryExchangeActor{mesh: m}
	m.Handle("registry.exchange", func(_ context.Context, _ json.RawMessage) (interface{}, error) {
		return actor.localDurableNames(), nil
	})
	return actor
}

func (a *RegistryExchangeActor) localDurableNames() map[string]string {
	all := a.mesh.Names.Snapshot(a.mesh.SelfLabel)
	out := make(map[string]string, len(all))
	for name, owner := range all {
		for _, prefix := range exchangeEntryKinds {
			if strings.HasPrefix(name, prefix) {
				out[name] = owner
				break
			}
		}
	}
	return out
}

// CachedDirectory maintains a local name -> peer cache, pre-warmed from a
// newly-discovered peer's RegistryExchangeActor and evicted eagerly when
// that peer's connection drops.
type CachedDirectory struct {
	mesh *Mesh
}

// NewCachedDirectory wires peer-discovery pre-warming and peer-expiry
// eviction into m.Names. Call this once per node after constructing the
// Mesh and registering RegistryExchangeActor, and invoke OnPeerConnected
// for every peer this node dials or accepts.
func NewCachedDirectory(m *Mesh) *CachedDirectory {
	d := &CachedDirectory{mesh: m}
	m.OnPeerGone(func(peerLabel string) {
		log.Debug("mesh: evicting cached directory entries for expired peer", zap.String("peer", peerLabel))
		m.Names.EvictPeer(peerLabel)
	})
	return d
}

// OnPeerConnected asks peerLabel's RegistryExchangeActor for its durable
// registrations and folds them into the local name table. Call this right
// after Mesh.Connect/Accept completes a handshake.
func (d *CachedDirectory) OnPeerConnected(ctx context.Context, peerLabel string) error {
	peer, ok := d.mesh.Peer(peerLabel)
	if !ok {
		return nil
	}
	raw, err := peer.Call(ctx, "registry.exchange", struct{}{})
	if err != nil {
		// Tolerate peers running an older binary without a
		// RegistryExchangeActor: pre-warming is an optimization, not a
		// correctness requirement.
		log.Debug("mesh: peer has no registry exchange handler", zap.String("peer", peerLabel), zap.Error(err))
		return nil
	}
	var names map[string]string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil
	}
	for name := range names {
		d.mesh.Names.Register(name, peerLabel)
	}
	return nil
}
