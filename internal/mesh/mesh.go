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

// Package mesh implements a peer transport: a websocket connection per
// peer, JSON-RPC 2.0 framed requests/responses/notifications, and a
// gossiped in-process name table resolving logical actor names instead of
// a real Kademlia DHT.
package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/ids"
	"github.com/weftagent/weft/internal/log"
	"github.com/weftagent/weft/internal/mesh/jsonrpc"
)

// NameTable is the in-process registry every peer gossips: logical name ->
// owning peer label, e.g. "session::<public_id>".
// Substitutes the DHT's lookup with a local map kept current by explicit
// Register/Unregister calls plus RegistryExchangeActor-style bulk sync on
// peer discovery.
type NameTable struct {
	mu    sync.RWMutex
	names map[string]string // name -> peer label
}

func NewNameTable() *NameTable {
	return &NameTable{names: make(map[string]string)}
}

func (t *NameTable) Register(name, peerLabel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names[name] = peerLabel
}

func (t *NameTable) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.names, name)
}

func (t *NameTable) Lookup(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peerLabel, ok := t.names[name]
	return peerLabel, ok
}

// Snapshot returns every name this table currently owns for peerLabel
// "" (local) or a specific peer, for RegistryExchangeActor to serve.
func (t *NameTable) Snapshot(peerLabel string) map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string)
	for name, owner := range t.names {
		if owner == peerLabel {
			out[name] = owner
		}
	}
	return out
}

// EvictPeer removes every name owned by peerLabel: a peer expiring evicts
// its names eagerly rather than waiting on TTL.
func (t *NameTable) EvictPeer(peerLabel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, owner := range t.names {
		if owner == peerLabel {
			delete(t.names, name)
		}
	}
}

// Handler answers one inbound JSON-RPC method call; returning (nil, err)
// surfaces err as a JSON-RPC error response. A nil result with a nil error
// is a valid empty success (e.g. for Cancel/SetMode).
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Peer is one websocket connection, framed with JSON-RPC 2.0 requests,
// responses and notifications multiplexed over a single duplex stream.
type Peer struct {
	Label string

	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan jsonrpc.Response

	dispatch func(ctx context.Context, method string) (Handler, bool)

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(label string, conn *websocket.Conn, dispatch func(ctx context.Context, method string) (Handler, bool)) *Peer {
	return &Peer{
		Label:    label,
		conn:     conn,
		pending:  make(map[string]chan jsonrpc.Response),
		dispatch: dispatch,
		closed:   make(chan struct{}),
	}
}

// wireMsg is decoded first to distinguish a request (has "method") from a
// response (has no "method", only "id"/"result"/"error").
type wireMsg struct {
	Method *string `json:"method"`
}

// ReadLoop drains incoming frames until the connection closes or ctx ends.
// The mesh starts it in its own goroutine for every peer that Connect or
// Accept adopts.
func (p *Peer) ReadLoop(ctx context.Context) {
	defer p.Close()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			log.Debug("mesh: peer read loop ended", zap.String("peer", p.Label), zap.Error(err))
			return
		}
		var probe wireMsg
		if err := json.Unmarshal(data, &probe); err != nil {
			log.Warn("mesh: malformed frame", zap.String("peer", p.Label), zap.Error(err))
			continue
		}
		if probe.Method != nil {
			go p.handleRequest(ctx, data)
			continue
		}
		var resp jsonrpc.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Warn("mesh: malformed response frame", zap.String("peer", p.Label), zap.Error(err))
			continue
		}
		p.routeResponse(resp)
	}
}

func (p *Peer) routeResponse(resp jsonrpc.Response) {
	if resp.ID == nil {
		return
	}
	key := resp.ID.String()
	p.pendingMu.Lock()
	ch, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

func (p *Peer) handleRequest(ctx context.Context, data []byte) {
	var req jsonrpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	handler, ok := p.dispatch(ctx, req.Method)
	if !ok {
		if req.ID != nil {
			p.writeResponse(jsonrpc.Response{
				JSONRPC: jsonrpc.Version, ID: req.ID,
				Error: jsonrpc.NewError(jsonrpc.MethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil),
			})
		}
		return
	}

	result, err := handler(ctx, req.Params)
	if req.ID == nil {
		return // notification: no response expected regardless of outcome
	}
	if err != nil {
		p.writeResponse(jsonrpc.Response{
			JSONRPC: jsonrpc.Version, ID: req.ID,
			Error: jsonrpc.NewError(jsonrpc.InternalError, err.Error(), nil),
		})
		return
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		p.writeResponse(jsonrpc.Response{
			JSONRPC: jsonrpc.Version, ID: req.ID,
			Error: jsonrpc.NewError(jsonrpc.InternalError, "marshal result: "+err.Error(), nil),
		})
		return
	}
	p.writeResponse(jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: encoded})
}

func (p *Peer) writeResponse(resp jsonrpc.Response) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.WriteMessage(websocket.TextMessage, encoded)
}

// Call sends a request and blocks for its response, or until ctx ends.
func (p *Peer) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mesh: marshal params for %s: %w", method, err)
	}
	id := ids.New()
	req := jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      jsonrpc.NewStringRequestID(id),
		Method:  method,
		Params:  encodedParams,
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mesh: marshal request for %s: %w", method, err)
	}

	ch := make(chan jsonrpc.Response, 1)
	p.pendingMu.Lock()
	p.pending[id] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	p.writeMu.Lock()
	writeErr := p.conn.WriteMessage(websocket.TextMessage, encoded)
	p.writeMu.Unlock()
	if writeErr != nil {
		return nil, fmt.Errorf("mesh: write %s to %s: %w", method, p.Label, writeErr)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("mesh: peer %s connection closed", p.Label)
	}
}

// Notify sends a fire-and-forget request with no ID, used for
// ProviderStreamRequest/StreamChunkRelay.
func (p *Peer) Notify(method string, params interface{}) error {
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("mesh: marshal params for %s: %w", method, err)
	}
	req := jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: method, Params: encodedParams}
	encoded, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mesh: marshal notification for %s: %w", method, err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, encoded)
}

// Close tears down the underlying connection; idempotent.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// Mesh tracks every connected peer and the shared name table, and answers
// inbound JSON-RPC calls by consulting registered method handlers.
type Mesh struct {
	SelfLabel string
	Names     *NameTable

	mu          sync.RWMutex
	peers       map[string]*Peer
	methods     map[string]Handler
	onPeerGone  []func(peerLabel string)
	dialer      *websocket.Dialer
	dialTimeout time.Duration
}

// New constructs a Mesh for a node identified as selfLabel.
func New(selfLabel string) *Mesh {
	return &Mesh{
		SelfLabel:   selfLabel,
		Names:       NewNameTable(),
		peers:       make(map[string]*Peer),
		methods:     make(map[string]Handler),
		dialer:      websocket.DefaultDialer,
		dialTimeout: 10 * time.Second,
	}
}

// Handle registers the handler for an inbound method name (e.g.
// "session.prompt", "provider.chat").
func (m *Mesh) Handle(method string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[method] = h
}

// OnPeerGone registers a callback fired when a peer's connection drops,
// for the cached directory and session registry to evict entries.
func (m *Mesh) OnPeerGone(fn func(peerLabel string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPeerGone = append(m.onPeerGone, fn)
}

func (m *Mesh) dispatch(_ context.Context, method string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.methods[method]
	return h, ok
}

// Connect dials a peer over websocket (the substitute for mDNS/DHT
// discovery: an explicit bootstrap/seed-list connect) and starts its read
// loop.
func (m *Mesh) Connect(ctx context.Context, url, peerLabel string) (*Peer, error) {
	dctx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()
	conn, _, err := m.dialer.DialContext(dctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("mesh: dial %s: %w", url, err)
	}
	return m.adopt(ctx, peerLabel, conn), nil
}

// Accept wraps an inbound server-side websocket connection as a peer.
func (m *Mesh) Accept(ctx context.Context, peerLabel string, conn *websocket.Conn) *Peer {
	return m.adopt(ctx, peerLabel, conn)
}

func (m *Mesh) adopt(ctx context.Context, peerLabel string, conn *websocket.Conn) *Peer {
	peer := newPeer(peerLabel, conn, m.dispatch)
	m.mu.Lock()
	m.peers[peerLabel] = peer
	m.mu.Unlock()

	go func() {
		peer.ReadLoop(ctx)
		m.mu.Lock()
		if m.peers[peerLabel] == peer {
			delete(m.peers, peerLabel)
		}
		callbacks := append([]func(string){}, m.onPeerGone...)
		m.mu.Unlock()
		m.Names.EvictPeer(peerLabel)
		for _, cb := range callbacks {
			cb(peerLabel)
		}
	}()

	return peer
}

// Peer looks up a connected peer by label.
func (m *Mesh) Peer(label string) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[label]
	return p, ok
}

// Peers returns every currently connected peer label.
func (m *Mesh) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	labels := make([]string, 0, len(m.peers))
	for label := range m.peers {
		labels = append(labels, label)
	}
	return labels
}
