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
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/ids"
	"github.com/weftagent/weft/internal/log"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/session"
)

// ProviderChatRequest is the non-streaming "provider.chat" RPC payload: a
// peer asks this node's ProviderHostActor to run one LLM turn against
// locally-held credentials it does not itself have access to.
type ProviderChatRequest struct {
	Provider string                      `json:"provider"`
	Model    string                      `json:"model"`
	Params   map[string]string           `json:"params,omitempty"`
	Messages []model.AgentMessage        `json:"messages"`
	Tools    []execsm.ToolDefinition     `json:"tools,omitempty"`
}

// ProviderChatResponse mirrors execsm.LlmResponse with FinishReason
// encoded as its canonical wire string.
type ProviderChatResponse struct {
	Text         string         `json:"text"`
	Thinking     string         `json:"thinking,omitempty"`
	ToolCalls    []execsm.ToolCall `json:"tool_calls,omitempty"`
	Usage        execsm.Usage   `json:"usage"`
	FinishReason string         `json:"finish_reason"`
}

// ProviderStreamRequest is the fire-and-forget "provider.stream"
// notification: the host streams chunks back to ReplyPeer's
// StreamReceiverActor named "stream_rx::<RequestID>" via "stream.chunk"
// notifications, rather than returning a single RPC response.
type ProviderStreamRequest struct {
	Provider          string               `json:"provider"`
	Model             string               `json:"model"`
	Params            map[string]string    `json:"params,omitempty"`
	Messages          []model.AgentMessage `json:"messages"`
	Tools             []execsm.ToolDefinition `json:"tools,omitempty"`
	RequestID         string               `json:"request_id"`
	ReplyPeer         string               `json:"reply_peer"`
}

// StreamChunkRelay is the "stream.chunk" notification payload.
type StreamChunkRelay struct {
	RequestID string              `json:"request_id"`
	Chunk     *session.StreamChunk `json:"chunk,omitempty"`
	Err       string              `json:"err,omitempty"`
}

// ProviderFactory resolves a (provider, model) pair to a usable
// session.LlmProvider, given the caller-supplied params (e.g. a friendly
// name or a local-GGUF model path override). The host passes the request's
// params to the factory whenever it builds a provider; the result is cached
// by (provider, model), so a later request for the same pair reuses the
// provider built with the params of the request that created it.
type ProviderFactory func(provider, model string, params map[string]string) (session.LlmProvider, error)

type providerCacheKey struct {
	provider string
	model    string
}

// providerLRU bounds the number of live provider clients this host keeps
// warm, evicting the least-recently-used entry past capacity.
type providerLRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[providerCacheKey]*list.Element
}

type lruEntry struct {
	key      providerCacheKey
	provider session.LlmProvider
}

func newProviderLRU(capacity int) *providerLRU {
	if capacity <= 0 {
		capacity = 8
	}
	return &providerLRU{capacity: capacity, order: list.New(), entries: make(map[providerCacheKey]*list.Element)}
}

func (c *providerLRU) get(key providerCacheKey) (session.LlmProvider, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).provider, true
}

func (c *providerLRU) put(key providerCacheKey, p session.LlmProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*lruEntry).provider = p
		return
	}
	el := c.order.PushFront(&lruEntry{key: key, provider: p})
	c.entries[key] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry).key)
	}
}

// ProviderHostActor exposes this node's LLM credentials to mesh peers that
// lack their own.
type ProviderHostActor struct {
	Factory ProviderFactory
	mesh    *Mesh
	cache   *providerLRU
}

// NewProviderHostActor registers the "provider.chat" and "provider.stream"
// handlers on m.
func NewProviderHostActor(m *Mesh, factory ProviderFactory) *ProviderHostActor {
	host := &ProviderHostActor{Factory: factory, mesh: m, cache: newProviderLRU(8)}

	m.Handle("provider.chat", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var req ProviderChatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return host.chat(ctx, req)
	})

	m.Handle("provider.stream", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var req ProviderStreamRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		go host.stream(ctx, req)
		return nil, nil
	})

	return host
}

func (h *ProviderHostActor) resolve(provider, modelName string, params map[string]string) (session.LlmProvider, error) {
	key := providerCacheKey{provider: provider, model: modelName}
	if p, ok := h.cache.get(key); ok {
		return p, nil
	}
	p, err := h.Factory(provider, modelName, params)
	if err != nil {
		return nil, fmt.Errorf("mesh: resolve provider %s/%s: %w", provider, modelName, err)
	}
	h.cache.put(key, p)
	return p, nil
}

func (h *ProviderHostActor) chat(ctx context.Context, req ProviderChatRequest) (ProviderChatResponse, error) {
	provider, err := h.resolve(req.Provider, req.Model, req.Params)
	if err != nil {
		return ProviderChatResponse{}, err
	}
	resp, err := provider.Call(ctx, session.LlmRequest{
		Context: model.ConversationContext{Messages: req.Messages},
		Tools:   req.Tools,
	})
	if err != nil {
		return ProviderChatResponse{}, err
	}
	return ProviderChatResponse{
		Text: resp.Text, Thinking: resp.Thinking, ToolCalls: resp.ToolCalls,
		Usage: resp.Usage, FinishReason: string(resp.FinishReason),
	}, nil
}

func (h *ProviderHostActor) stream(ctx context.Context, req ProviderStreamRequest) {
	relayErr := func(errMsg string) {
		peer, ok := h.mesh.Peer(req.ReplyPeer)
		if !ok {
			log.Warn("mesh: provider stream reply peer gone", zap.String("peer", req.ReplyPeer))
			return
		}
		_ = peer.Notify("stream.chunk", StreamChunkRelay{RequestID: req.RequestID, Err: errMsg})
	}

	provider, err := h.resolve(req.Provider, req.Model, req.Params)
	if err != nil {
		relayErr(err.Error())
		return
	}
	streaming, ok := provider.(session.StreamingLlmProvider)
	if !ok {
		relayErr(fmt.Sprintf("provider %s/%s does not support streaming", req.Provider, req.Model))
		return
	}

	ch, err := streaming.StreamCall(ctx, session.LlmRequest{
		Context: model.ConversationContext{Messages: req.Messages},
		Tools:   req.Tools,
	})
	if err != nil {
		relayErr(err.Error())
		return
	}

	peer, ok := h.mesh.Peer(req.ReplyPeer)
	if !ok {
		log.Warn("mesh: provider stream reply peer gone before first chunk", zap.String("peer", req.ReplyPeer))
		return
	}
	for chunk := range ch {
		c := chunk
		if err := peer.Notify("stream.chunk", StreamChunkRelay{RequestID: req.RequestID, Chunk: &c}); err != nil {
			log.Warn("mesh: failed to relay stream chunk", zap.String("peer", req.ReplyPeer), zap.Error(err))
			return
		}
	}
}

// StreamReceiverHub answers "stream.chunk" notifications by fanning them
// out to per-request channels, registering each under
// "stream_rx::<request_id>" in the name table while active.
type StreamReceiverHub struct {
	mesh *Mesh

	mu        sync.Mutex
	receivers map[string]chan StreamChunkRelay
}

// NewStreamReceiverHub registers the "stream.chunk" handler on m. One hub
// per node is expected; construct it once during node bootstrap.
func NewStreamReceiverHub(m *Mesh) *StreamReceiverHub {
	hub := &StreamReceiverHub{mesh: m, receivers: make(map[string]chan StreamChunkRelay)}
	m.Handle("stream.chunk", func(_ context.Context, raw json.RawMessage) (interface{}, error) {
		var relay StreamChunkRelay
		if err := json.Unmarshal(raw, &relay); err != nil {
			return nil, err
		}
		hub.mu.Lock()
		ch, ok := hub.receivers[relay.RequestID]
		hub.mu.Unlock()
		if ok {
			ch <- relay
		}
		return nil, nil
	})
	return hub
}

// StreamReceiver is the ephemeral, one-per-streaming-request actor named
// "stream_rx::<request_id>" in the name table.
type StreamReceiver struct {
	hub       *StreamReceiverHub
	requestID string
	ch        chan StreamChunkRelay
}

// NewReceiver registers a new receiver and its name-table entry; callers
// must call Close once the stream ends to deregister it.
func (hub *StreamReceiverHub) NewReceiver() *StreamReceiver {
	requestID := ids.New()
	ch := make(chan StreamChunkRelay, 16)
	hub.mu.Lock()
	hub.receivers[requestID] = ch
	hub.mu.Unlock()
	hub.mesh.Names.Register(fmt.Sprintf("stream_rx::%s", requestID), hub.mesh.SelfLabel)
	return &StreamReceiver{hub: hub, requestID: requestID, ch: ch}
}

// RequestID is threaded into ProviderStreamRequest so the host's relay
// notifications carry the matching StreamChunkRelay.RequestID.
func (r *StreamReceiver) RequestID() string { return r.requestID }

// streamReceiverChunkTimeout bounds how long Next waits for the next
// chunk before the stream is considered stalled.
const streamReceiverChunkTimeout = 60 * time.Second

// Next blocks for the next chunk, erroring out after
// streamReceiverChunkTimeout of silence or a relayed error, and
// self-destructing (closing and deregistering) on the terminal chunk,
// timeout, or relayed error.
func (r *StreamReceiver) Next(ctx context.Context) (session.StreamChunk, error) {
	timer := time.NewTimer(streamReceiverChunkTimeout)
	defer timer.Stop()
	select {
	case relay := <-r.ch:
		if relay.Err != "" {
			r.Close()
			return session.StreamChunk{}, fmt.Errorf("mesh: stream %s: %s", r.requestID, relay.Err)
		}
		if relay.Chunk == nil {
			r.Close()
			return session.StreamChunk{}, fmt.Errorf("mesh: stream %s: empty relay", r.requestID)
		}
		if relay.Chunk.Done {
			r.Close()
		}
		return *relay.Chunk, nil
	case <-timer.C:
		r.Close()
		return session.StreamChunk{}, fmt.Errorf("mesh: stream %s: timed out waiting for next chunk", r.requestID)
	case <-ctx.Done():
		r.Close()
		return session.StreamChunk{}, ctx.Err()
	}
}

// Close deregisters the receiver; idempotent beyond the first call in
// practice since callers invoke it once the terminal chunk/timeout/error
// path fires.
func (r *StreamReceiver) Close() {
	r.hub.mu.Lock()
	delete(r.hub.receivers, r.requestID)
	r.hub.mu.Unlock()
	r.hub.mesh.Names.Unregister(fmt.Sprintf("stream_rx::%s", r.requestID))
}
