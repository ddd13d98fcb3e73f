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
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/weftagent/weft/internal/ids"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/session"
)

// DelegateRegistry implements toolset.AgentRegistry (defined there, not
// imported here, to avoid a toolset<->registry import cycle) for one
// issuing session: it resolves a delegate name against the quorum's
// available-agent set, forwards the objective as a Prompt to that peer's
// actor, and reports the outcome back to Origin once the peer's turn
// reaches a terminal state. Built for the planner session in
// pkg/agent.spawnConfigured's quorum branch, since Origin must point back
// at the very actor this registry serves.
type DelegateRegistry struct {
	Registry   *SessionRegistry
	AgentNames map[string]string // delegate name -> session public_id
	Origin     *session.Actor
}

// Delegate resolves targetAgentID (a config-level delegate name, e.g.
// "researcher") to a running session, hands it objective as a fresh prompt
// in a background goroutine, and returns a Requested delegation immediately;
// the goroutine reports back to Origin.ResolveDelegation once that prompt
// reaches a terminal PromptResponse, regardless of how long it takes.
func (d DelegateRegistry) Delegate(ctx context.Context, targetAgentID, objective string) (model.Delegation, error) {
	sessionID, ok := d.AgentNames[targetAgentID]
	if !ok {
		return model.Delegation{}, fmt.Errorf("registry: no delegate agent named %q available to this session", targetAgentID)
	}
	ref, ok := d.Registry.Get(sessionID)
	if !ok {
		return model.Delegation{}, fmt.Errorf("registry: delegate agent %q's session %q is not registered", targetAgentID, sessionID)
	}

	delegation := model.Delegation{
		PublicID:      ids.New(),
		TargetAgentID: sessionID,
		Objective:     objective,
		ObjectiveHash: ids.HashHex([]byte(objective)),
		Status:        model.DelegationRequested,
		CreatedAt:     time.Now(),
	}

	go func() {
		resp, err := ref.Prompt(context.Background(), session.PromptRequest{Text: objective})
		succeeded := err == nil && resp.Error == nil
		result := resp.Text
		if err != nil {
			result = err.Error()
		} else if resp.Error != nil {
			result = resp.Error.Error()
		}
		d.Origin.ResolveDelegation(delegation.PublicID, succeeded, result)
	}()

	return delegation, nil
}
