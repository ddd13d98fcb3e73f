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

// Package agent is the public assembly facade: it turns a decoded
// internal/config.Config and a set of functional Options into a running
// registry of session actors, wiring every layer below it (storage, event
// sink, permission gate, circuit breakers, middleware, and optionally the
// mesh).
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/builtins"
	"github.com/weftagent/weft/internal/config"
	"github.com/weftagent/weft/internal/eventsink"
	"github.com/weftagent/weft/internal/fork"
	"github.com/weftagent/weft/internal/ids"
	"github.com/weftagent/weft/internal/log"
	"github.com/weftagent/weft/internal/mesh"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/permission"
	"github.com/weftagent/weft/internal/ratelimit"
	"github.com/weftagent/weft/internal/registry"
	"github.com/weftagent/weft/internal/session"
	"github.com/weftagent/weft/internal/snapshot"
	"github.com/weftagent/weft/internal/storage"
	"github.com/weftagent/weft/internal/storage/sqlite"
	"github.com/weftagent/weft/internal/toolexec"
	"github.com/weftagent/weft/internal/toolset"
)

// Agent is the assembled runtime: a SessionRegistry plus every shared,
// process-wide resource. cfg is replaced wholesale (never mutated in
// place) on a hot-reload, behind cfgMu, so a session mid-turn always sees
// a self-consistent config snapshot rather than a torn read.
type Agent struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	Registry *registry.SessionRegistry

	store    storage.Backend
	sink     *eventsink.Sink
	gate     *permission.Gate
	breakers *ratelimit.Manager
	provider session.LlmProvider

	toolRegistry  *toolset.Registry
	mcpTools      map[string]toolset.MCPTool
	providerTools map[string]toolset.Tool

	// contentStore backs every session's snapshot.MerkleBackend so Undo/Redo
	// has bytes to restore from; one store is shared process-wide, keyed by
	// content hash, so identical file content across sessions is stored once.
	contentStore snapshot.ContentStore

	// specMu guards sessionSpecs, the one piece of mutable state New builds
	// up after construction: ForkSession consults it at arbitrary runtime,
	// well after the startup-only sequential writes in spawnConfigured.
	specMu       sync.RWMutex
	sessionSpecs map[string]spawnSpec

	// Mesh is nil unless Config.Mesh was set. cmd/weftd owns accepting
	// inbound websocket upgrades (the http.Server belongs to process
	// bootstrap); Agent only constructs the Mesh, registers this node's
	// handlers, and dials configured bootstrap peers.
	Mesh *mesh.Mesh

	// build retains the resolved Options this Agent was constructed with, so
	// ForkSession can rebuild a child actor's middleware the same way
	// spawnConfigured built its parent's, without re-deriving anything from
	// opts a second time.
	build *buildState

	watcher *config.Watcher
	closers []func() error

	closeOnce sync.Once
}

// spawnSpec is what ForkSession needs to remember about a running session's
// agent config to spin up a child actor in the same shape.
type spawnSpec struct {
	spec            config.AgentSpec
	mwSpecs         []config.MiddlewareSpec
	availableAgents []string
}

// New assembles an Agent from cfg. WithProvider is required; every other
// Option has a documented default.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	b := &buildState{toolRegistry: toolset.NewRegistry()}
	builtins.Register(b.toolRegistry)
	for _, opt := range opts {
		opt(b)
	}
	if b.provider == nil {
		return nil, fmt.Errorf("pkg/agent: WithProvider is required")
	}

	store := b.store
	if store == nil {
		path := cfg.DBPath
		if path == "" {
			path = ":memory:"
		}
		backend, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("pkg/agent: opening storage: %w", err)
		}
		store = backend
	}

	contentStore, err := openContentStore(cfg.DBPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &Agent{
		cfg:           cfg,
		Registry:      registry.New(),
		store:         store,
		sink:          eventsink.New(store.Journal()),
		gate:          permission.New(permission.Config{}, b.permissionBridge),
		breakers:      ratelimit.NewManager(ratelimit.DefaultBreakerConfig()),
		provider:      b.provider,
		toolRegistry:  b.toolRegistry,
		mcpTools:      b.mcpTools,
		providerTools: b.providerTools,
		contentStore:  contentStore,
		sessionSpecs:  make(map[string]spawnSpec),
		build:         b,
	}

	if err := a.spawnConfigured(context.Background(), b); err != nil {
		a.closeStore()
		return nil, err
	}

	if cfg.Mesh != nil {
		if err := a.bootstrapMesh(context.Background(), cfg.Mesh); err != nil {
			a.closeStore()
			return nil, err
		}
	}

	return a, nil
}

// spawnConfigured creates the sessions named by the config's single-agent
// or quorum shape, inserting each into a.Registry as a LocalRef.
func (a *Agent) spawnConfigured(ctx context.Context, b *buildState) error {
	cfg := a.cfg
	switch {
	case cfg.Agent != nil:
		_, err := a.newLocalSession(ctx, *cfg.Agent, cfg.Middleware, nil, b)
		return err

	case cfg.Quorum != nil:
		names := make([]string, 0, len(cfg.Delegates))
		for _, d := range cfg.Delegates {
			names = append(names, d.Name)
		}
		planner, err := a.newLocalSession(ctx, *cfg.Planner, cfg.Middleware, names, b)
		if err != nil {
			return fmt.Errorf("pkg/agent: spawning planner %q: %w", cfg.Planner.Name, err)
		}

		agentNames := make(map[string]string, len(cfg.Delegates))
		for _, d := range cfg.Delegates {
			delegate, err := a.newLocalSession(ctx, d, cfg.Middleware, nil, b)
			if err != nil {
				return fmt.Errorf("pkg/agent: spawning delegate %q: %w", d.Name, err)
			}
			agentNames[d.Name] = delegate.PublicID
		}

		// Only the planner delegates downward; wiring this after every
		// delegate session exists means DelegateRegistry.AgentNames never
		// points at a not-yet-registered session.
		planner.SetAgents(registry.DelegateRegistry{
			Registry:   a.Registry,
			AgentNames: agentNames,
			Origin:     planner,
		})
		return nil
	}
	return nil
}

// newLocalSession creates a fresh model.Session row, builds this agent
// spec's middleware and actor Deps, and starts the actor's goroutine.
// availableAgents is non-empty only for a quorum's planner.
func (a *Agent) newLocalSession(ctx context.Context, spec config.AgentSpec, mwSpecs []config.MiddlewareSpec, availableAgents []string, b *buildState) (*session.Actor, error) {
	now := time.Now()
	sess := model.Session{
		PublicID:  ids.New(),
		Name:      spec.Name,
		Cwd:       spec.Cwd,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.Sessions().Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("agent %q: persisting session row: %w", spec.Name, err)
	}

	actor, err := a.startActor(sess, spec, mwSpecs, availableAgents, b, nil)
	if err != nil {
		return nil, err
	}

	a.specMu.Lock()
	a.sessionSpecs[sess.PublicID] = spawnSpec{spec: spec, mwSpecs: mwSpecs, availableAgents: availableAgents}
	a.specMu.Unlock()
	return actor, nil
}

// ForkSession reconstructs a child of parentSessionID per internal/fork's
// message-index or progress-entry cut point, spins up a SessionActor for it
// seeded with the copied transcript, and registers it the same way
// spawnConfigured registers a configured agent. parentSessionID must name a
// locally-hosted session this process itself spawned (its config.AgentSpec
// is only known here, not on a remote peer).
func (a *Agent) ForkSession(ctx context.Context, parentSessionID string, pointType model.ForkPointType, pointRef, origin, instructions string) (*session.Actor, error) {
	a.specMu.RLock()
	spawned, ok := a.sessionSpecs[parentSessionID]
	a.specMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pkg/agent: no local agent spec known for session %q (not spawned by this process)", parentSessionID)
	}

	parentSess, err := a.store.Sessions().Get(ctx, parentSessionID)
	if err != nil {
		return nil, fmt.Errorf("pkg/agent: loading parent session %q: %w", parentSessionID, err)
	}

	helper := fork.Helper{Store: a.store, Sink: a.sink}
	child, msgs, err := helper.Fork(ctx, parentSess, pointType, pointRef, origin, instructions)
	if err != nil {
		return nil, fmt.Errorf("pkg/agent: forking session %q: %w", parentSessionID, err)
	}

	actor, err := a.startActor(child, spawned.spec, spawned.mwSpecs, spawned.availableAgents, a.build, msgs)
	if err != nil {
		return nil, err
	}

	a.specMu.Lock()
	a.sessionSpecs[child.PublicID] = spawned
	a.specMu.Unlock()
	log.Info("pkg/agent: session forked",
		zap.String("parent", parentSessionID), zap.String("child", child.PublicID), zap.Int("messages", len(msgs)))
	return actor, nil
}

// startActor builds this agent spec's middleware and Deps around an
// already-persisted sess row and starts its actor goroutine, seeding its
// in-memory transcript with initialMessages (nil for a fresh session; the
// copied prefix for a forked one, since SessionActor never re-reads its own
// history from storage at construction time).
func (a *Agent) startActor(sess model.Session, spec config.AgentSpec, mwSpecs []config.MiddlewareSpec, availableAgents []string, b *buildState, initialMessages []model.AgentMessage) (*session.Actor, error) {
	systemPrompt, err := resolveSystemPrompt(spec)
	if err != nil {
		return nil, err
	}

	composite, err := buildMiddleware(mwSpecs, systemPrompt, availableAgents, b)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", spec.Name, err)
	}

	snapshotBackend := snapshot.ForPolicy(snapshot.PolicyDiff, a.contentStore)
	dispatcher := &toolexec.Dispatcher{
		Registry:      a.toolRegistry,
		MCPTools:      resolveMCPTools(spec.Tools, a.mcpTools),
		Provider:      a.providerTools,
		Gate:          a.gate,
		Snapshot:      snapshotBackend,
		Truncation:    toolexec.TruncationPolicy{MaxLines: 2000, MaxBytes: 512 * 1024},
		MutatingTools: map[string]bool{},
	}

	waitPolicy := ""
	if a.cfg.Quorum != nil {
		waitPolicy = a.cfg.Quorum.DelegationWaitPolicy
	}

	actor := session.New(sess, session.Deps{
		Provider:             a.provider,
		Dispatcher:           dispatcher,
		Middleware:           composite,
		Sink:                 a.sink,
		Store:                a.store,
		Gate:                 a.gate,
		Breakers:             a.breakers,
		RetryConfig:          spec.RateLimit.ToRetryConfig(),
		SnapshotBackend:      snapshotBackend,
		Cwd:                  spec.Cwd,
		DelegationWaitPolicy: waitPolicy,
		InitialMessages:      initialMessages,
	})
	if spec.DefaultMode != "" {
		actor.SetMode(model.SessionMode(spec.DefaultMode))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go actor.Run(runCtx)
	a.closers = append(a.closers, func() error { cancel(); return nil })

	a.Registry.Insert(registry.LocalRef{Actor: actor})
	log.Info("pkg/agent: session started", zap.String("agent", spec.Name), zap.String("session_id", sess.PublicID))
	return actor, nil
}

// resolveSystemPrompt reads spec.SystemFile if set (system/system_file
// mutual exclusion is already enforced by config.Config.Validate).
func resolveSystemPrompt(spec config.AgentSpec) (string, error) {
	if spec.SystemFile == "" {
		return spec.System, nil
	}
	raw, err := os.ReadFile(spec.SystemFile)
	if err != nil {
		return "", fmt.Errorf("agent %q: reading system_file %s: %w", spec.Name, spec.SystemFile, err)
	}
	return string(raw), nil
}

// resolveMCPTools filters the process-wide resolved MCP tool set down to
// the tool specs this agent's [agent].tools list actually asks for
// ("server.*" or "server.tool"); builtin specs (no dot) are looked up in
// a.toolRegistry directly by toolexec, not here.
func resolveMCPTools(specs []string, all map[string]toolset.MCPTool) map[string]toolset.MCPTool {
	if len(all) == 0 || len(specs) == 0 {
		return nil
	}
	out := make(map[string]toolset.MCPTool)
	for _, spec := range specs {
		server, toolName, ok := strings.Cut(spec, ".")
		if !ok {
			continue // builtin
		}
		if toolName == "*" {
			for name, t := range all {
				if t.Server == server {
					out[name] = t
				}
			}
			continue
		}
		if t, ok := all[spec]; ok {
			out[spec] = t
		}
	}
	return out
}

// Close stops every session actor's goroutine, the config watcher if
// running, and the storage backend. Idempotent.
func (a *Agent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		for _, c := range a.closers {
			_ = c()
		}
		if a.watcher != nil {
			_ = a.watcher.Stop()
		}
		err = a.closeStore()
	})
	return err
}

func (a *Agent) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// openContentStore roots a snapshot.FileStore next to dbPath (or under the
// process temp dir for an ephemeral ":memory:"/unset database), so Undo/Redo
// has somewhere durable to read restored bytes back from.
func openContentStore(dbPath string) (snapshot.ContentStore, error) {
	dir := filepath.Join(os.TempDir(), "weft-snapshots-"+ids.New())
	if dbPath != "" && dbPath != ":memory:" {
		dir = filepath.Join(filepath.Dir(dbPath), "snapshots")
	}
	store, err := snapshot.NewFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("pkg/agent: opening snapshot content store: %w", err)
	}
	return store, nil
}

// Config returns the currently active configuration. Safe to call
// concurrently with a hot-reload swap (see EnableHotReload).
func (a *Agent) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// EnableHotReload watches path and swaps Config() to the newly parsed,
// validated value on every settled write (internal/config.Watch's
// validate-before-swap guarantee). It does not re-spawn or reconfigure
// already-running session actors: config is immutable after build, so an
// actor's Deps are fixed at construction, and picking up a changed
// [agent]/[quorum]/[[mcp]] shape requires restarting the process
// (or, in a future pass, a explicit Agent.Respawn). What a live reload does
// cover today is anything a caller reads back through Config() per-call
// rather than capturing once at New time.
func (a *Agent) EnableHotReload(path string) error {
	w, err := config.Watch(path, func(cfg *config.Config, err error) {
		if err != nil {
			return
		}
		a.cfgMu.Lock()
		a.cfg = cfg
		a.cfgMu.Unlock()
	})
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}
