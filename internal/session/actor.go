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

// Package session implements the SessionActor: a single goroutine
// per session reading off a buffered inbox, linearizing every operation
// against that session's in-memory runtime, and driving the execution state
// machine (internal/execsm) through the middleware pipeline
// (internal/middleware) and tool dispatch (internal/toolexec).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/event"
	"github.com/weftagent/weft/internal/eventsink"
	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/ids"
	"github.com/weftagent/weft/internal/log"
	"github.com/weftagent/weft/internal/middleware"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/permission"
	"github.com/weftagent/weft/internal/ratelimit"
	"github.com/weftagent/weft/internal/snapshot"
	"github.com/weftagent/weft/internal/storage"
	"github.com/weftagent/weft/internal/toolexec"
	"github.com/weftagent/weft/internal/toolset"
)

// inboxDepth bounds the per-session message queue; a session that cannot
// keep up applies backpressure to its callers rather than growing without
// bound.
const inboxDepth = 64

// PromptRequest is the payload of a Prompt message.
type PromptRequest struct {
	Text string
}

// PromptResponse is returned once the state machine reaches a terminal
// state for this turn.
type PromptResponse struct {
	Text     string
	StopType execsm.StopType
	Error    error
}

// UndoResult/RedoResult are the replies to Undo/Redo.
type UndoResult struct {
	RestoredMessageID string
	Error             error
}

type RedoResult struct {
	RestoredMessageID string
	Error             error
}

type inboxMsg struct {
	kind     string
	text     string
	msgID    string
	mode     model.SessionMode
	bridge   permission.Bridge
	provider string
	model    string
	relayID  string
	offset   int
	limit    int
	succeeded bool
	reply    chan any
}

// Actor owns one session's runtime. Construct with New and call Run in its
// own goroutine; send messages via the Prompt/Cancel/... methods.
type Actor struct {
	PublicID string

	inbox  chan inboxMsg
	cancel atomicCancel

	provider   LlmProvider
	dispatcher *toolexec.Dispatcher
	composite  *middleware.CompositeDriver
	sink       *eventsink.Sink
	store      storage.Backend
	gate       *permission.Gate
	breakers   *ratelimit.Manager
	retryCfg   ratelimit.Config
	snapshotBackend snapshot.Backend
	cwd        string
	agents     toolset.AgentRegistry
	eventRelay func(relayID string, env event.Envelope)
	delegationWaitPolicy string

	mu   sync.Mutex
	mode model.SessionMode
	ctx  model.ConversationContext

	lastToolManifestHash uint64
	relayIDs             map[string]bool
	planningContext      string
	planningInjected     bool

	// pendingWait holds the suspended turn state while WaitingForEvent is
	// outstanding, so a later ResolveDelegation/resolve_delegation message
	// can resume runLoop from exactly where it left off.
	pendingWait *suspendedTurn
	lastUndo    *undoneSnapshot
}

// suspendedTurn is what handlePrompt stashes when a turn suspends on
// WaitingForEvent, so the actor's own goroutine can resume it later without
// re-entering handlePrompt (the user prompt that started this turn has
// already returned its "waiting" PromptResponse to its original caller).
type suspendedTurn struct {
	waitKind    execsm.WaitKind
	waitID      string
	turnCtx     context.Context
	cancel      context.CancelFunc
	state       execsm.State
}

// atomicCancel holds the current turn's cancel func so Cancel() can reach it
// without the actor goroutine's involvement (it's set/cleared only by the
// actor goroutine itself, so a mutex suffices over an atomic.Value).
type atomicCancel struct {
	mu sync.Mutex
	fn context.CancelFunc
}

func (a *atomicCancel) set(fn context.CancelFunc) {
	a.mu.Lock()
	a.fn = fn
	a.mu.Unlock()
}

func (a *atomicCancel) call() {
	a.mu.Lock()
	fn := a.fn
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deps bundles an Actor's collaborators so New's signature stays short.
type Deps struct {
	Provider    LlmProvider
	Dispatcher  *toolexec.Dispatcher
	Middleware  *middleware.CompositeDriver
	Sink        *eventsink.Sink
	Store       storage.Backend
	Gate        *permission.Gate
	Breakers    *ratelimit.Manager
	RetryConfig ratelimit.Config

	// SnapshotBackend drives Undo/Redo; nil disables both (they return an
	// error rather than silently no-op).
	SnapshotBackend snapshot.Backend
	// Cwd is the working directory built-in file tools, GetFileIndex, and
	// ReadRemoteFile resolve relative paths against.
	Cwd string
	// InitialMessages seeds this actor's in-memory transcript at
	// construction, since New never re-reads history from Store itself.
	// Set by internal/fork's caller when starting a forked child session;
	// nil for a fresh one.
	InitialMessages []model.AgentMessage
	// EventRelay is called once per event for every session.SubscribeEvents
	// relay id currently registered; nil disables remote forwarding (a
	// SubscribeEvents call still acks, it just forwards nothing).
	EventRelay func(relayID string, env event.Envelope)
	// DelegationWaitPolicy mirrors config.QuorumSpec.DelegationWaitPolicy:
	// "fail" suspends the issuing turn on WaitingForEvent until the
	// delegation resolves (ResolveDelegation resumes it); any other value
	// (including "continue" and "") is fire-and-forget, matching a
	// delegate call that never blocks the planner's own turn.
	DelegationWaitPolicy string
}

// New constructs an Actor for an already-persisted session row.
func New(sess model.Session, deps Deps) *Actor {
	if deps.Middleware == nil {
		deps.Middleware = middleware.NewComposite()
	}
	cwd := deps.Cwd
	if cwd == "" {
		cwd = sess.Cwd
	}
	return &Actor{
		PublicID:        sess.PublicID,
		inbox:           make(chan inboxMsg, inboxDepth),
		provider:        deps.Provider,
		dispatcher:      deps.Dispatcher,
		composite:       deps.Middleware,
		sink:            deps.Sink,
		store:           deps.Store,
		gate:            deps.Gate,
		breakers:        deps.Breakers,
		retryCfg:        deps.RetryConfig,
		snapshotBackend: deps.SnapshotBackend,
		cwd:             cwd,
		eventRelay:      deps.EventRelay,
		delegationWaitPolicy: deps.DelegationWaitPolicy,
		ctx: model.ConversationContext{
			SessionID: sess.PublicID,
			Messages:  deps.InitialMessages,
		},
	}
}

// SetAgents attaches the delegate-capable agent registry. Separate from New
// because the registry adapter (internal/registry.DelegateRegistry) needs a
// live *Actor to resolve delegation completions back into, so it can only be
// constructed after this Actor exists; pkg/agent wires it immediately after
// New returns, before the actor's goroutine is started.
func (a *Actor) SetAgents(agents toolset.AgentRegistry) {
	a.agents = agents
}

// Run is the actor's goroutine body: it drains the inbox until ctx is done,
// processing exactly one message at a time (the single-writer invariant).
// A handler panic is recovered at this boundary and converted into a
// diagnostic log plus an error reply, never allowed to crash the actor.
func (a *Actor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.inbox:
			a.handle(ctx, m)
		}
	}
}

func (a *Actor) handle(ctx context.Context, m inboxMsg) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("session actor panic recovered",
				zap.String("session_id", a.PublicID), zap.Any("panic", r), zap.String("kind", m.kind))
			if m.reply != nil {
				m.reply <- fmt.Errorf("internal error: %v", r)
			}
		}
	}()

	switch m.kind {
	case "prompt":
		m.reply <- a.handlePrompt(ctx, m.text)
	case "cancel":
		a.cancel.call()
		m.reply <- struct{}{}
	case "set_mode":
		a.mu.Lock()
		a.mode = m.mode
		a.ctx.SessionMode = m.mode
		a.mu.Unlock()
		a.sink.EmitEvent(a.PublicID, event.SessionModeChanged{Mode: string(m.mode)})
		m.reply <- struct{}{}
	case "get_mode":
		a.mu.Lock()
		mode := a.mode
		a.mu.Unlock()
		m.reply <- mode
	case "get_history":
		a.mu.Lock()
		hist := append([]model.AgentMessage(nil), a.ctx.Messages...)
		a.mu.Unlock()
		m.reply <- hist
	case "set_bridge":
		if a.gate != nil {
			a.gate.SetBridge(m.bridge)
		}
		m.reply <- struct{}{}
	case "undo":
		m.reply <- a.handleUndo(ctx, m.msgID)
	case "redo":
		m.reply <- a.handleRedo(ctx)
	case "set_session_model":
		m.reply <- a.handleSetSessionModel(m.provider, m.model)
	case "subscribe_events":
		m.reply <- a.handleSubscribeEvents(ctx, m.relayID)
	case "set_planning_context":
		m.reply <- a.handleSetPlanningContext(m.text)
	case "get_file_index":
		m.reply <- a.handleGetFileIndex()
	case "read_remote_file":
		m.reply <- a.handleReadRemoteFile(m.text, m.offset, m.limit)
	case "resolve_delegation":
		a.handleResolveDelegation(m.msgID, m.succeeded, m.text)
		m.reply <- struct{}{}
	default:
		m.reply <- fmt.Errorf("session actor: unknown message kind %q", m.kind)
	}
}

func (a *Actor) send(kind string, configure func(*inboxMsg)) any {
	m := inboxMsg{kind: kind, reply: make(chan any, 1)}
	if configure != nil {
		configure(&m)
	}
	a.inbox <- m
	return <-m.reply
}

// Prompt submits req and blocks until the turn reaches a terminal state.
func (a *Actor) Prompt(ctx context.Context, req PromptRequest) PromptResponse {
	reply := a.send("prompt", func(m *inboxMsg) { m.text = req.Text })
	resp, _ := reply.(PromptResponse)
	return resp
}

// Cancel signals the current turn's cancellation context, if one is active.
func (a *Actor) Cancel() {
	a.send("cancel", nil)
}

// SetMode changes the session's build/plan mode.
func (a *Actor) SetMode(mode model.SessionMode) {
	a.send("set_mode", func(m *inboxMsg) { m.mode = mode })
}

// GetMode returns the session's current mode.
func (a *Actor) GetMode() model.SessionMode {
	v, _ := a.send("get_mode", nil).(model.SessionMode)
	return v
}

// GetHistory returns the ordered message sequence known to this actor.
func (a *Actor) GetHistory() []model.AgentMessage {
	v, _ := a.send("get_history", nil).([]model.AgentMessage)
	return v
}

// SetBridge attaches the client's interactive permission bridge.
func (a *Actor) SetBridge(bridge permission.Bridge) {
	a.send("set_bridge", func(m *inboxMsg) { m.bridge = bridge })
}

// Undo restores the filesystem to its state before messageID's tool calls,
// per the attached snapshot parts.
func (a *Actor) Undo(messageID string) UndoResult {
	v, _ := a.send("undo", func(m *inboxMsg) { m.msgID = messageID }).(UndoResult)
	return v
}

// Redo re-applies the most recently undone message's changes.
func (a *Actor) Redo() RedoResult {
	v, _ := a.send("redo", nil).(RedoResult)
	return v
}

// undoneSnapshot remembers what Undo just restored so a following Redo
// knows which root hash to restore back to.
type undoneSnapshot struct {
	messageID string
	postHash  string
}

// findSnapshot locates the Snapshot part attached to messageID.
func (a *Actor) findSnapshot(messageID string) (model.SnapshotPart, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, msg := range a.ctx.Messages {
		if msg.ID != messageID {
			continue
		}
		for _, p := range msg.Parts {
			if sp, ok := p.(model.SnapshotPart); ok {
				return sp, true
			}
		}
	}
	return model.SnapshotPart{}, false
}

func (a *Actor) handleUndo(ctx context.Context, messageID string) UndoResult {
	if a.snapshotBackend == nil {
		return UndoResult{Error: fmt.Errorf("undo: no snapshot backend configured for this session")}
	}
	sp, ok := a.findSnapshot(messageID)
	if !ok {
		return UndoResult{Error: fmt.Errorf("undo: message %q has no snapshot part", messageID)}
	}
	if sp.PriorRootHash == "" {
		return UndoResult{Error: fmt.Errorf("undo: message %q has no recorded prior state", messageID)}
	}
	if err := a.snapshotBackend.Restore(a.cwd, sp.PriorRootHash); err != nil {
		return UndoResult{Error: fmt.Errorf("undo: %w", err)}
	}
	a.mu.Lock()
	a.lastUndo = &undoneSnapshot{messageID: messageID, postHash: sp.RootHash}
	a.mu.Unlock()
	return UndoResult{RestoredMessageID: messageID}
}

func (a *Actor) handleRedo(ctx context.Context) RedoResult {
	if a.snapshotBackend == nil {
		return RedoResult{Error: fmt.Errorf("redo: no snapshot backend configured for this session")}
	}
	a.mu.Lock()
	undone := a.lastUndo
	a.mu.Unlock()
	if undone == nil {
		return RedoResult{Error: fmt.Errorf("redo: nothing to redo")}
	}
	if err := a.snapshotBackend.Restore(a.cwd, undone.postHash); err != nil {
		return RedoResult{Error: fmt.Errorf("redo: %w", err)}
	}
	a.mu.Lock()
	a.lastUndo = nil
	a.mu.Unlock()
	return RedoResult{RestoredMessageID: undone.messageID}
}

// handlePrompt runs the outer state-machine loop: apply middleware to every
// proposed state, execute it, repeat until Complete/Cancelled/Stopped, or
// suspend on WaitingForEvent.
func (a *Actor) handlePrompt(parent context.Context, text string) PromptResponse {
	turnCtx, cancel := context.WithCancel(parent)
	a.cancel.set(cancel)

	userMsg := model.AgentMessage{
		ID:        ids.New(),
		SessionID: a.PublicID,
		Role:      model.RoleUser,
		Parts:     []model.MessagePart{model.TextPart{Content: text}},
		CreatedAt: time.Now(),
	}
	a.persistMessage(parent, userMsg)

	a.mu.Lock()
	if a.planningContext != "" && !a.planningInjected {
		planMsg := model.AgentMessage{
			ID: ids.New(), SessionID: a.PublicID, Role: model.RoleSystem,
			Parts: []model.MessagePart{model.TextPart{Content: a.planningContext}}, CreatedAt: time.Now(),
		}
		a.ctx = a.ctx.Append(planMsg)
		a.planningInjected = true
	}
	a.ctx = a.ctx.Append(userMsg)
	state := execsm.State(execsm.BeforeLlmCall{Context: a.ctx})
	a.mu.Unlock()

	return a.runLoop(turnCtx, cancel, state)
}

// runLoop drives the state machine from state until it reaches a terminal
// state, or suspends on WaitingForEvent. It is called both from
// handlePrompt (a fresh turn) and from handleResolveDelegation (resuming a
// previously suspended one), so cancel is only invoked here, in the branches
// that are genuinely done with turnCtx — WaitingForEvent stashes turnCtx and
// cancel in a.pendingWait instead, so a delegation that resolves minutes
// later can still observe the original turn's cancellation.
func (a *Actor) runLoop(turnCtx context.Context, cancel context.CancelFunc, state execsm.State) PromptResponse {
	for {
		select {
		case <-turnCtx.Done():
			state = execsm.Cancelled{}
		default:
		}

		next, err := a.composite.NextState(state)
		if err != nil {
			cancel()
			a.cancel.set(nil)
			return PromptResponse{Error: err}
		}
		state = next

		switch st := state.(type) {
		case execsm.Complete:
			a.mu.Lock()
			a.ctx = st.Context
			a.mu.Unlock()
			cancel()
			a.cancel.set(nil)
			return PromptResponse{Text: lastAssistantText(st.Context)}
		case execsm.Stopped:
			if st.Context != nil {
				a.mu.Lock()
				a.ctx = *st.Context
				a.mu.Unlock()
			}
			cancel()
			a.cancel.set(nil)
			return PromptResponse{StopType: st.StopType, Text: st.Message}
		case execsm.Cancelled:
			cancel()
			a.cancel.set(nil)
			return PromptResponse{StopType: execsm.StopType("cancelled")}
		case execsm.BeforeLlmCall:
			state = a.stepBeforeLlmCall(st)
		case execsm.CallLlm:
			state = a.stepCallLlm(turnCtx, st)
		case execsm.AfterLlm:
			state = a.stepAfterLlm(st)
		case execsm.ProcessingToolCalls:
			state = a.stepProcessingToolCalls(turnCtx, st)
		case execsm.WaitingForEvent:
			// The awaited delegation/elicitation resolves asynchronously,
			// potentially long after this call returns; stash the turn so
			// ResolveDelegation can resume runLoop from exactly here, and
			// yield this message-processing slot so Cancel/GetHistory are
			// not starved in the meantime.
			a.mu.Lock()
			a.pendingWait = &suspendedTurn{
				waitKind: st.Wait.Kind, waitID: st.Wait.ID,
				turnCtx: turnCtx, cancel: cancel, state: st,
			}
			a.mu.Unlock()
			return PromptResponse{StopType: "waiting", Text: string(st.Wait.Kind)}
		default:
			cancel()
			a.cancel.set(nil)
			return PromptResponse{Error: fmt.Errorf("session actor: unhandled state %T", state)}
		}
	}
}

// ResolveDelegation resumes a turn suspended on WaitingForEvent{WaitDelegation,
// delegationID}. Called by internal/registry.DelegateRegistry once the
// delegated session reports a terminal status. The resumed turn's eventual
// PromptResponse has no synchronous receiver (the original Prompt caller
// already got the "waiting" response) — its outcome is observable via
// GetHistory or the event stream, the same as any other async completion in
// an actor model.
func (a *Actor) ResolveDelegation(delegationID string, succeeded bool, result string) {
	a.send("resolve_delegation", func(m *inboxMsg) {
		m.msgID = delegationID
		m.succeeded = succeeded
		m.text = result
	})
}

func (a *Actor) handleResolveDelegation(delegationID string, succeeded bool, result string) {
	a.mu.Lock()
	pending := a.pendingWait
	if pending == nil || pending.waitKind != execsm.WaitDelegation || pending.waitID != delegationID {
		a.mu.Unlock()
		return
	}
	a.pendingWait = nil
	a.mu.Unlock()

	status := model.DelegationSucceeded
	if !succeeded {
		status = model.DelegationFailed
	}
	if a.store != nil {
		completed := model.Delegation{PublicID: delegationID, Status: status}
		if err := a.store.Delegations().SetStatus(context.Background(), delegationID, status, &completed); err != nil {
			log.Warn("session actor: failed to set delegation status", zap.String("session_id", a.PublicID), zap.Error(err))
		}
	}
	if succeeded {
		a.sink.EmitEvent(a.PublicID, event.DelegationSucceeded{PublicID: delegationID})
	} else {
		a.sink.EmitEvent(a.PublicID, event.DelegationFailed{PublicID: delegationID, Reason: result})
	}

	resultMsg := model.AgentMessage{
		ID: ids.New(), SessionID: a.PublicID, Role: model.RoleTool,
		Parts: []model.MessagePart{model.ToolResultPart{CallID: delegationID, ToolName: "delegate", Content: result, IsError: !succeeded}},
		CreatedAt: time.Now(),
	}
	a.persistMessage(context.Background(), resultMsg)

	a.mu.Lock()
	a.ctx = a.ctx.Append(resultMsg)
	nextState := execsm.State(execsm.BeforeLlmCall{Context: a.ctx})
	a.mu.Unlock()

	go func() {
		resp := a.runLoop(pending.turnCtx, pending.cancel, nextState)
		log.Info("session actor: resumed delegation-suspended turn",
			zap.String("session_id", a.PublicID), zap.String("delegation_id", delegationID), zap.String("stop_type", string(resp.StopType)))
	}()
}

// persistMessage writes m to the message repository and touches the
// session's updated_at; failures are logged, never propagated, since the
// in-memory ConversationContext remains the source of truth for the
// remainder of this turn (matching EmitEvent's fire-and-forget durability
// posture for the non-journal persistence edge).
func (a *Actor) persistMessage(ctx context.Context, m model.AgentMessage) {
	if a.store == nil {
		return
	}
	if err := a.store.Messages().Append(ctx, m); err != nil {
		log.Warn("session actor: failed to persist message",
			zap.String("session_id", a.PublicID), zap.Error(err))
		return
	}
	if err := a.store.Sessions().Touch(ctx, a.PublicID); err != nil {
		log.Warn("session actor: failed to touch session", zap.String("session_id", a.PublicID), zap.Error(err))
	}
}

func (a *Actor) recordProgress(ctx context.Context, kind model.ProgressKind, detail string) {
	if a.store == nil {
		return
	}
	entry := model.ProgressEntry{PublicID: ids.New(), SessionID: a.PublicID, Kind: kind, Detail: detail, CreatedAt: time.Now()}
	if err := a.store.Progress().Create(ctx, entry); err != nil {
		log.Warn("session actor: failed to record progress", zap.String("session_id", a.PublicID), zap.Error(err))
	}
}

func lastAssistantText(ctx model.ConversationContext) string {
	for i := len(ctx.Messages) - 1; i >= 0; i-- {
		if ctx.Messages[i].Role != model.RoleAssistant {
			continue
		}
		for _, p := range ctx.Messages[i].Parts {
			if t, ok := p.(model.TextPart); ok {
				return t.Content
			}
		}
	}
	return ""
}

func (a *Actor) stepBeforeLlmCall(st execsm.BeforeLlmCall) execsm.State {
	manifest := toolset.BuildManifest(a.dispatcher.Registry, toolset.Policy{AllowProviderTools: true}, nil, nil)
	if manifest.Hash != a.lastToolManifestHash {
		a.lastToolManifestHash = manifest.Hash
		names := make([]string, len(manifest.Definitions))
		for i, d := range manifest.Definitions {
			names[i] = d.Name
		}
		a.sink.EmitEvent(a.PublicID, event.ToolsAvailable{ManifestHash: manifest.Hash, Names: names})
	}
	tools := make([]execsm.ToolDefinition, len(manifest.Definitions))
	for i, d := range manifest.Definitions {
		tools[i] = execsm.ToolDefinition{Name: d.Name, Description: d.Description, SchemaJSON: d.SchemaJSON}
	}
	return execsm.CallLlm{Context: st.Context, Tools: tools}
}

func (a *Actor) stepCallLlm(ctx context.Context, st execsm.CallLlm) execsm.State {
	a.sink.EmitEvent(a.PublicID, event.LlmRequestStart{MessageCount: len(st.Context.Messages)})

	var breaker *ratelimit.CircuitBreaker
	if a.breakers != nil {
		breaker = a.breakers.Get(a.PublicID)
	}

	var resp execsm.LlmResponse
	call := func() error {
		var err error
		resp, err = a.callProvider(ctx, st)
		return err
	}
	wrapped := call
	if breaker != nil {
		wrapped = func() error { return breaker.Execute(call) }
	}

	isRateLimited := func(error) bool { return false }
	if a.provider != nil {
		isRateLimited = a.provider.IsRateLimited
	}
	err := ratelimit.Retry(ctx, a.retryCfg, isRateLimited, wrapped)

	if err == ratelimit.ErrCancelled {
		return execsm.Cancelled{}
	}
	if err != nil {
		a.sink.EmitEvent(a.PublicID, event.LlmRequestEnd{Error: err.Error()})
		ctx2 := st.Context
		return execsm.Stopped{Message: err.Error(), StopType: execsm.StopError, Context: &ctx2}
	}

	a.mu.Lock()
	cumulative := a.ctx.Stats.CumulativeCostUSD + resp.Usage.CostUSD
	a.mu.Unlock()
	a.sink.EmitEvent(a.PublicID, event.LlmRequestEnd{
		ToolCalls:         len(resp.ToolCalls),
		FinishReason:      string(resp.FinishReason),
		InputTokens:       resp.Usage.InputTokens,
		OutputTokens:      resp.Usage.OutputTokens,
		RequestCostUSD:    resp.Usage.CostUSD,
		CumulativeCostUSD: cumulative,
	})
	return execsm.AfterLlm{Response: resp, Context: st.Context}
}

func (a *Actor) callProvider(ctx context.Context, st execsm.CallLlm) (execsm.LlmResponse, error) {
	if a.provider == nil {
		return execsm.LlmResponse{}, fmt.Errorf("session actor: no LLM provider configured")
	}
	if streaming, ok := a.provider.(StreamingLlmProvider); ok {
		ch, err := streaming.StreamCall(ctx, LlmRequest{Context: st.Context, Tools: st.Tools})
		if err != nil {
			return execsm.LlmResponse{}, err
		}
		return drainStream(ch), nil
	}
	return a.provider.Call(ctx, LlmRequest{Context: st.Context, Tools: st.Tools})
}

func (a *Actor) stepAfterLlm(st execsm.AfterLlm) execsm.State {
	assistantParts := make([]model.MessagePart, 0, 1+len(st.Response.ToolCalls))
	if st.Response.Text != "" {
		assistantParts = append(assistantParts, model.TextPart{Content: st.Response.Text})
	}
	for _, tc := range st.Response.ToolCalls {
		assistantParts = append(assistantParts, model.ToolUsePart{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	msgID := ids.New()
	assistantMsg := model.AgentMessage{
		ID: msgID, SessionID: a.PublicID, Role: model.RoleAssistant,
		Parts: assistantParts, CreatedAt: time.Now(),
	}
	a.persistMessage(context.Background(), assistantMsg)
	ctx := st.Context.Append(assistantMsg)
	a.sink.EmitEvent(a.PublicID, event.AssistantMessageStored{MessageID: msgID, Content: st.Response.Text})

	ctx.Stats.Steps++
	ctx.Stats.TotalInputTokens += st.Response.Usage.InputTokens
	ctx.Stats.TotalOutputTokens += st.Response.Usage.OutputTokens
	ctx.Stats.ReasoningTokens += st.Response.Usage.ReasoningTokens
	ctx.Stats.CacheReadTokens += st.Response.Usage.CacheReadTokens
	ctx.Stats.CacheWriteTokens += st.Response.Usage.CacheWriteTokens
	ctx.Stats.CumulativeCostUSD += st.Response.Usage.CostUSD

	switch st.Response.FinishReason {
	case execsm.FinishToolCalls:
		if len(st.Response.ToolCalls) > 0 {
			return execsm.ProcessingToolCalls{RemainingCalls: st.Response.ToolCalls, Context: ctx}
		}
		return execsm.Complete{Context: ctx}
	case execsm.FinishStop:
		a.finishActiveTask(context.Background())
		return execsm.Complete{Context: ctx}
	case execsm.FinishLength:
		return execsm.Stopped{StopType: execsm.StopModelTokenLimit, Message: "model token limit reached", Context: &ctx}
	case execsm.FinishContentFilter:
		return execsm.Stopped{StopType: execsm.StopContentFilter, Message: "content filtered", Context: &ctx}
	default:
		if len(st.Response.ToolCalls) > 0 {
			return execsm.ProcessingToolCalls{RemainingCalls: st.Response.ToolCalls, Context: ctx}
		}
		return execsm.Complete{Context: ctx}
	}
}

// actorProgress adapts Actor.recordProgress to toolset.ProgressRecorder so
// builtin tool handlers can report progress without importing this package.
type actorProgress struct{ a *Actor }

func (p *actorProgress) RecordProgress(ctx context.Context, kind model.ProgressKind, message string) {
	p.a.recordProgress(ctx, kind, message)
}

func (a *Actor) stepProcessingToolCalls(ctx context.Context, st execsm.ProcessingToolCalls) execsm.State {
	if len(st.RemainingCalls) == 0 {
		return a.storeAllToolResults(st)
	}

	for _, call := range st.RemainingCalls {
		a.sink.EmitEvent(a.PublicID, event.ToolCallStart{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
		a.recordProgress(context.Background(), model.ProgressToolCall, call.Name)
	}

	tc := toolset.ToolContext{SessionID: a.PublicID, Cwd: a.cwd, Agents: a.agents, Progress: &actorProgress{a: a}}
	results := a.dispatcher.ExecuteAll(ctx, tc, st.RemainingCalls)

	smResults := make([]execsm.ToolCallResult, len(results))
	for i, r := range results {
		smResults[i] = execsm.ToolCallResult{Call: r.Call, Content: r.Content, IsError: r.IsError, Snapshot: r.Snapshot}
		a.sink.EmitEvent(a.PublicID, event.ToolCallEnd{ID: r.Call.ID, Name: r.Call.Name, IsError: r.IsError, Result: r.Content})
	}

	return execsm.ProcessingToolCalls{RemainingCalls: nil, Results: append(st.Results, smResults...), Context: st.Context}
}

// storeAllToolResults writes one tool-role message per tool result, folds
// each attached Snapshot's changed paths into the turn's deduplicated
// TurnDiffs, and records the durable side effects (tasks, decisions, intent
// snapshots, artifacts, delegations) that the write_file/apply_patch/
// delegate/start_task/record_decision/update_intent builtins in
// internal/builtins imply. Those handlers only perform the mechanical
// action and hand back a result string; this is the single place that
// decides what gets persisted, so every storage side effect for a turn is
// recorded from one spot regardless of which tool produced it.
func (a *Actor) storeAllToolResults(st execsm.ProcessingToolCalls) execsm.State {
	ctx := st.Context
	background := context.Background()
	var awaitDelegationID string
	for _, r := range st.Results {
		parts := []model.MessagePart{model.ToolResultPart{CallID: r.Call.ID, ToolName: r.Call.Name, Content: r.Content, IsError: r.IsError}}
		if r.Snapshot != nil {
			parts = append(parts, *r.Snapshot)
			ctx.TurnDiffs = mergeChangedPaths(ctx.TurnDiffs, r.Snapshot.ChangedPaths)
		}
		toolMsg := model.AgentMessage{
			ID: ids.New(), SessionID: a.PublicID, Role: model.RoleTool, Parts: parts, CreatedAt: time.Now(),
		}
		a.persistMessage(background, toolMsg)
		ctx = ctx.Append(toolMsg)

		if !r.IsError {
			a.recordSideEffect(background, r)
			if r.Call.Name == "delegate" && a.delegationWaitPolicy == "fail" {
				if dr, ok := parseDelegateResult(r.Content); ok && dr.Status != string(model.DelegationSucceeded) && dr.Status != string(model.DelegationFailed) {
					awaitDelegationID = dr.PublicID
				}
			}
		}
	}
	if awaitDelegationID != "" {
		return execsm.WaitingForEvent{Context: ctx, Wait: execsm.Wait{Kind: execsm.WaitDelegation, ID: awaitDelegationID}}
	}
	return execsm.BeforeLlmCall{Context: ctx}
}

// delegateResult is the "delegate" builtin handler's JSON response, the only
// place the minted delegation id and resolved target session id are known.
type delegateResult struct {
	PublicID      string
	TargetAgentID string
	Status        string
}

func parseDelegateResult(content string) (delegateResult, bool) {
	var result struct {
		PublicID      string `json:"public_id"`
		TargetAgentID string `json:"target_agent_id"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal([]byte(content), &result); err != nil || result.PublicID == "" {
		return delegateResult{}, false
	}
	return delegateResult{PublicID: result.PublicID, TargetAgentID: result.TargetAgentID, Status: result.Status}, true
}

// mergeChangedPaths unions src into dst, deduplicating by path, preserving
// dst's existing order and appending any new paths src contributes.
func mergeChangedPaths(dst model.ChangedPaths, src model.ChangedPaths) model.ChangedPaths {
	dst.Added = dedupAppend(dst.Added, src.Added...)
	dst.Modified = dedupAppend(dst.Modified, src.Modified...)
	dst.Removed = dedupAppend(dst.Removed, src.Removed...)
	return dst
}

func dedupAppend(base []string, items ...string) []string {
	seen := make(map[string]bool, len(base))
	for _, b := range base {
		seen[b] = true
	}
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			base = append(base, it)
		}
	}
	return base
}

// activeTask looks up this session's active task, if any; storage errors are
// swallowed since a missing task is routine (most turns have none active).
func (a *Actor) activeTask(ctx context.Context) *model.Task {
	if a.store == nil {
		return nil
	}
	t, err := a.store.Tasks().Active(ctx, a.PublicID)
	if err != nil {
		return nil
	}
	return t
}

// finishActiveTask marks this session's active task Done, if one is set; a
// turn that ends with FinishStop and no active task is a no-op here.
func (a *Actor) finishActiveTask(ctx context.Context) {
	t := a.activeTask(ctx)
	if t == nil {
		return
	}
	if err := a.store.Tasks().SetStatus(ctx, t.PublicID, model.TaskDone); err != nil {
		log.Warn("session actor: failed to finish active task",
			zap.String("session_id", a.PublicID), zap.String("task_id", t.PublicID), zap.Error(err))
		return
	}
	a.sink.EmitEvent(a.PublicID, event.TaskStatusChanged{PublicID: t.PublicID, Status: string(model.TaskDone)})
}

// updateSessionField loads, mutates, and writes back this actor's session
// row; read-modify-write since storage.SessionRepository exposes whole-row
// Update, not column patches.
func (a *Actor) updateSessionField(ctx context.Context, mutate func(*model.Session)) {
	if a.store == nil {
		return
	}
	sess, err := a.store.Sessions().Get(ctx, a.PublicID)
	if err != nil {
		log.Warn("session actor: failed to load session for update", zap.String("session_id", a.PublicID), zap.Error(err))
		return
	}
	mutate(&sess)
	if err := a.store.Sessions().Update(ctx, sess); err != nil {
		log.Warn("session actor: failed to update session", zap.String("session_id", a.PublicID), zap.Error(err))
	}
}

// recordSideEffect inspects one successful tool result and, for the builtins
// that imply a durable side effect, persists it and emits the matching
// event. r.Call.Arguments is the raw JSON the model emitted (the request);
// for delegate, the real delegation id is only known from r.Content (the
// handler's JSON response), since toolset.AgentRegistry.Delegate mints it.
func (a *Actor) recordSideEffect(ctx context.Context, r execsm.ToolCallResult) {
	if a.store == nil {
		return
	}
	switch r.Call.Name {
	case "write_file", "apply_patch":
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal([]byte(r.Call.Arguments), &args); err != nil || args.Path == "" {
			return
		}
		taskID := ""
		if t := a.activeTask(ctx); t != nil {
			taskID = t.PublicID
		}
		artifact := model.Artifact{
			PublicID: ids.New(), SessionID: a.PublicID, TaskID: taskID,
			Kind: "file", Path: args.Path, Summary: r.Call.Name, CreatedAt: time.Now(),
		}
		if err := a.store.Artifacts().Create(ctx, artifact); err != nil {
			log.Warn("session actor: failed to record artifact", zap.String("session_id", a.PublicID), zap.Error(err))
			return
		}
		a.sink.EmitEvent(a.PublicID, event.ArtifactRecorded{PublicID: artifact.PublicID, Path: artifact.Path, Kind: artifact.Kind})

	case "delegate":
		var args struct {
			TargetAgent string `json:"target_agent"`
			Objective   string `json:"objective"`
		}
		_ = json.Unmarshal([]byte(r.Call.Arguments), &args)
		dr, ok := parseDelegateResult(r.Content)
		if !ok {
			return
		}
		d := model.Delegation{
			PublicID: dr.PublicID, SessionID: a.PublicID, TargetAgentID: dr.TargetAgentID,
			Objective: args.Objective, ObjectiveHash: ids.HashHex([]byte(args.Objective)),
			Status: model.DelegationStatus(dr.Status), CreatedAt: time.Now(),
		}
		if d.Status == "" {
			d.Status = model.DelegationRequested
		}
		if err := a.store.Delegations().Create(ctx, d); err != nil {
			log.Warn("session actor: failed to record delegation", zap.String("session_id", a.PublicID), zap.Error(err))
			return
		}
		a.sink.EmitEvent(a.PublicID, event.DelegationRequested{PublicID: d.PublicID, TargetAgentID: d.TargetAgentID})

	case "start_task":
		var args struct {
			Kind                string `json:"kind"`
			ExpectedDeliverable string `json:"expected_deliverable"`
			AcceptanceCriteria  string `json:"acceptance_criteria"`
		}
		if err := json.Unmarshal([]byte(r.Call.Arguments), &args); err != nil || args.Kind == "" {
			return
		}
		task := model.Task{
			PublicID: ids.New(), SessionID: a.PublicID, Kind: args.Kind, Status: model.TaskActive,
			ExpectedDeliverable: args.ExpectedDeliverable, AcceptanceCriteria: args.AcceptanceCriteria, CreatedAt: time.Now(),
		}
		if err := a.store.Tasks().Create(ctx, task); err != nil {
			log.Warn("session actor: failed to record task", zap.String("session_id", a.PublicID), zap.Error(err))
			return
		}
		a.updateSessionField(ctx, func(s *model.Session) { s.ActiveTaskID = task.PublicID })
		a.sink.EmitEvent(a.PublicID, event.TaskStatusChanged{PublicID: task.PublicID, Status: string(model.TaskActive)})

	case "record_decision":
		var args struct {
			Summary   string `json:"summary"`
			Rationale string `json:"rationale"`
		}
		if err := json.Unmarshal([]byte(r.Call.Arguments), &args); err != nil || args.Summary == "" {
			return
		}
		taskID := ""
		if t := a.activeTask(ctx); t != nil {
			taskID = t.PublicID
		}
		decision := model.Decision{
			PublicID: ids.New(), SessionID: a.PublicID, TaskID: taskID,
			Summary: args.Summary, Rationale: args.Rationale, CreatedAt: time.Now(),
		}
		if err := a.store.Decisions().Create(ctx, decision); err != nil {
			log.Warn("session actor: failed to record decision", zap.String("session_id", a.PublicID), zap.Error(err))
			return
		}
		a.sink.EmitEvent(a.PublicID, event.DecisionRecorded{PublicID: decision.PublicID, Summary: decision.Summary})

	case "update_intent":
		var args struct {
			Summary      string `json:"summary"`
			Constraints  string `json:"constraints"`
			NextStepHint string `json:"next_step_hint"`
		}
		if err := json.Unmarshal([]byte(r.Call.Arguments), &args); err != nil || args.Summary == "" {
			return
		}
		taskID := ""
		if t := a.activeTask(ctx); t != nil {
			taskID = t.PublicID
		}
		snap := model.IntentSnapshot{
			PublicID: ids.New(), SessionID: a.PublicID, TaskID: taskID,
			Summary: args.Summary, Constraints: args.Constraints, NextStepHint: args.NextStepHint, CreatedAt: time.Now(),
		}
		if err := a.store.Intents().Create(ctx, snap); err != nil {
			log.Warn("session actor: failed to record intent snapshot", zap.String("session_id", a.PublicID), zap.Error(err))
			return
		}
		a.updateSessionField(ctx, func(s *model.Session) { s.CurrentIntentSnapshotID = snap.PublicID })
		a.sink.EmitEvent(a.PublicID, event.IntentSnapshotRecorded{PublicID: snap.PublicID, Summary: snap.Summary})
	}
}
