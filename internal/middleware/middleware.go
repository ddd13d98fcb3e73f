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

// Package middleware implements the pipeline wrapping the execution state
// machine: a Driver rewrites one ExecutionState into the next;
// CompositeDriver applies a fixed, ordered list of drivers to a fixed point
// or a bounded number of passes, whichever comes first.
package middleware

import (
	"fmt"
	"reflect"

	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/model"
)

// Driver rewrites state into its replacement. Returning the same state value
// unchanged signals "no opinion"; CompositeDriver treats that as a no-op for
// fixed-point detection.
type Driver interface {
	NextState(state execsm.State) (execsm.State, error)
}

// Resetter is optionally implemented by a Driver that carries state across
// transitions within one turn (e.g. a first-turn-only injection flag) and
// needs to clear it between turns.
type Resetter interface {
	Reset()
}

// maxPasses bounds CompositeDriver against a pathological pair of drivers
// that keep rewriting each other's output (a cycle rather than a fixed
// point).
const maxPasses = 8

// CompositeDriver applies every driver, in insertion order, on every state
// transition until a full pass leaves the state unchanged or maxPasses is
// reached.
type CompositeDriver struct {
	drivers []Driver
}

// NewComposite builds a CompositeDriver. If a LimitsMiddleware is present
// in drivers it is moved first, since step/turn limits must be checked
// before any other driver gets a chance to act.
func NewComposite(drivers ...Driver) *CompositeDriver {
	ordered := make([]Driver, 0, len(drivers))
	for _, d := range drivers {
		if _, ok := d.(*LimitsMiddleware); ok {
			ordered = append([]Driver{d}, ordered...)
			continue
		}
		ordered = append(ordered, d)
	}
	return &CompositeDriver{drivers: ordered}
}

// NextState applies every driver in order, repeating until a pass changes
// nothing or maxPasses is hit.
func (c *CompositeDriver) NextState(state execsm.State) (execsm.State, error) {
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for _, d := range c.drivers {
			next, err := d.NextState(state)
			if err != nil {
				return nil, fmt.Errorf("middleware: %T: %w", d, err)
			}
			// States carry slices, so they are compared deeply; == on
			// two such interface values panics.
			if !reflect.DeepEqual(next, state) {
				changed = true
			}
			state = next
		}
		if !changed {
			return state, nil
		}
	}
	return state, nil
}

// Reset calls Reset on every driver that implements Resetter.
func (c *CompositeDriver) Reset() {
	for _, d := range c.drivers {
		if r, ok := d.(Resetter); ok {
			r.Reset()
		}
	}
}

func appendSystemReminder(ctx model.ConversationContext, text string) model.ConversationContext {
	return ctx.Append(model.AgentMessage{
		SessionID: ctx.SessionID,
		Role:      model.RoleSystem,
		Parts:     []model.MessagePart{model.TextPart{Content: text}},
	})
}

// LimitsMiddleware stops a turn once the session has taken max_steps steps,
// surfacing GetLimits() for a client UI to render remaining budget.
type LimitsMiddleware struct {
	MaxSteps int
}

func (m *LimitsMiddleware) NextState(state execsm.State) (execsm.State, error) {
	before, ok := state.(execsm.BeforeLlmCall)
	if !ok {
		return state, nil
	}
	if m.MaxSteps > 0 && before.Context.Stats.Steps >= m.MaxSteps {
		ctx := before.Context
		return execsm.Stopped{
			Message:  fmt.Sprintf("session step limit reached (%d)", m.MaxSteps),
			StopType: execsm.StopSessionStepLimit,
			Context:  &ctx,
		}, nil
	}
	return state, nil
}

// GetLimits reports the configured step budget for a client UI.
func (m *LimitsMiddleware) GetLimits() (maxSteps int) {
	return m.MaxSteps
}

// Summarizer asks the LLM to compact a message prefix into one summary
// message; ContextMiddleware is injected with one rather than importing an
// LLM client directly.
type Summarizer interface {
	Summarize(messages []model.AgentMessage) (model.AgentMessage, error)
}

// ContextMiddleware replaces the message prefix with an LLM-produced summary
// once the running context token count crosses AutoCompactThreshold.
type ContextMiddleware struct {
	Auto                 bool
	AutoCompactThreshold int64
	Summarizer           Summarizer

	// compacting is true only while NextState returns a compacted state, so
	// the check below never sees it set; a second compaction in the same
	// pass is avoided because the compacted context's ContextTokens is zero.
	compacting bool
}

func (m *ContextMiddleware) NextState(state execsm.State) (execsm.State, error) {
	call, ok := state.(execsm.CallLlm)
	if !ok {
		return state, nil
	}
	if !m.Auto || m.Summarizer == nil || m.compacting {
		return state, nil
	}
	if call.Context.Stats.ContextTokens <= m.AutoCompactThreshold {
		return state, nil
	}
	if len(call.Context.Messages) < 2 {
		return state, nil
	}

	keepFrom := len(call.Context.Messages) - 1
	summary, err := m.Summarizer.Summarize(call.Context.Messages[:keepFrom])
	if err != nil {
		return nil, fmt.Errorf("context compaction: %w", err)
	}

	m.compacting = true
	defer func() { m.compacting = false }()

	compacted := call.Context
	compacted.Messages = append([]model.AgentMessage{summary}, call.Context.Messages[keepFrom:]...)
	compacted.Stats.ContextTokens = 0
	return execsm.CallLlm{Context: compacted, Tools: call.Tools}, nil
}

// DelegationMiddleware injects a "you may delegate to ..." system reminder
// when the session has a non-empty agent registry.
type DelegationMiddleware struct {
	AvailableAgents []string
	FirstTurnOnly   bool

	injected bool
}

func (m *DelegationMiddleware) NextState(state execsm.State) (execsm.State, error) {
	before, ok := state.(execsm.BeforeLlmCall)
	if !ok || len(m.AvailableAgents) == 0 {
		return state, nil
	}
	if m.FirstTurnOnly && m.injected {
		return state, nil
	}

	reminder := "You may delegate to: "
	for i, name := range m.AvailableAgents {
		if i > 0 {
			reminder += ", "
		}
		reminder += name
	}
	m.injected = true
	return execsm.BeforeLlmCall{Context: appendSystemReminder(before.Context, reminder)}, nil
}

func (m *DelegationMiddleware) Reset() {
	m.injected = false
}

// DuplicateAnalyzer runs the (out-of-scope) dedup algorithm against the
// session's function index, given the paths a tool round changed.
type DuplicateAnalyzer interface {
	FindDuplicates(changedPaths []string) (matches []string, aboveThreshold bool)
}

// DedupCheckMiddleware inspects the results of a completed tool round and,
// when the dedup analyzer reports matches above threshold, injects a
// reminder for the next LLM call.
type DedupCheckMiddleware struct {
	Analyzer  DuplicateAnalyzer
	OnDetect  func(matches []string) // hook the session uses to emit DuplicateCodeDetected
	reminder  string
}

func (m *DedupCheckMiddleware) NextState(state execsm.State) (execsm.State, error) {
	processing, ok := state.(execsm.ProcessingToolCalls)
	if !ok || len(processing.RemainingCalls) != 0 || m.Analyzer == nil {
		return state, nil
	}

	var changed []string
	for _, r := range processing.Results {
		if r.Snapshot == nil {
			continue
		}
		changed = append(changed, r.Snapshot.ChangedPaths.Added...)
		changed = append(changed, r.Snapshot.ChangedPaths.Modified...)
	}
	if len(changed) == 0 {
		return state, nil
	}

	matches, above := m.Analyzer.FindDuplicates(changed)
	if !above {
		return state, nil
	}
	if m.OnDetect != nil {
		m.OnDetect(matches)
	}
	m.reminder = "Similar code was detected; consider reusing the existing implementation instead of duplicating it."
	return state, nil
}

// PendingReminder returns and clears any reminder queued by the last dedup
// check, for the caller to fold into the next BeforeLlmCall context.
func (m *DedupCheckMiddleware) PendingReminder() string {
	r := m.reminder
	m.reminder = ""
	return r
}

// AgentModeMiddleware injects a mode-specific reminder (currently only for
// Plan mode) on every BeforeLlmCall.
type AgentModeMiddleware struct {
	PlanReminder string // defaults used if empty
}

func (m *AgentModeMiddleware) NextState(state execsm.State) (execsm.State, error) {
	before, ok := state.(execsm.BeforeLlmCall)
	if !ok || before.Context.SessionMode != model.ModePlan {
		return state, nil
	}
	reminder := m.PlanReminder
	if reminder == "" {
		reminder = "You are in plan mode: describe the approach, do not make edits yet."
	}
	// Already the newest message: leave the state alone so a composite
	// pass over the same BeforeLlmCall reaches its fixed point.
	if n := len(before.Context.Messages); n > 0 {
		last := before.Context.Messages[n-1]
		if last.Role == model.RoleSystem && len(last.Parts) == 1 && last.Parts[0] == (model.TextPart{Content: reminder}) {
			return state, nil
		}
	}
	return execsm.BeforeLlmCall{Context: appendSystemReminder(before.Context, reminder)}, nil
}

// SystemPromptMiddleware appends a session's system prompt as a system
// message at the first BeforeLlmCall it sees, after that turn's user
// message. The prompt text rides in on the same first-turn-only injection
// path DelegationMiddleware uses; pkg/agent fills session.Deps.InitialMessages
// only with a forked session's copied transcript.
type SystemPromptMiddleware struct {
	Text string

	injected bool
}

func (m *SystemPromptMiddleware) NextState(state execsm.State) (execsm.State, error) {
	before, ok := state.(execsm.BeforeLlmCall)
	if !ok || m.Text == "" || m.injected {
		return state, nil
	}
	m.injected = true
	return execsm.BeforeLlmCall{Context: appendSystemReminder(before.Context, m.Text)}, nil
}

func (m *SystemPromptMiddleware) Reset() {
	m.injected = false
}
