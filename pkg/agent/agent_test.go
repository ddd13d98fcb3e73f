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
package agent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/config"
	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/session"
	"github.com/weftagent/weft/pkg/agent"
)

type fakeProvider struct{}

func (fakeProvider) Call(context.Context, session.LlmRequest) (execsm.LlmResponse, error) {
	return execsm.LlmResponse{Text: "ok", FinishReason: execsm.FinishStop}, nil
}

func (fakeProvider) IsRateLimited(error) bool { return false }

const singleAgentTOML = `
[agent]
name = "main"
provider = "acme"
model = "m1"
system = "you are helpful"
`

const quorumTOML = `
[quorum]
name = "q"

[planner]
name = "planner"
provider = "acme"
model = "big"

[[delegates]]
name = "worker-a"
provider = "acme"
model = "small"

[[delegates]]
name = "worker-b"
provider = "acme"
model = "small"
`

func TestNewRequiresProvider(t *testing.T) {
	cfg, err := config.Parse([]byte(singleAgentTOML))
	require.NoError(t, err)

	_, err = agent.New(cfg)
	require.Error(t, err)
}

func TestNewSingleAgentSpawnsSession(t *testing.T) {
	cfg, err := config.Parse([]byte(singleAgentTOML))
	require.NoError(t, err)

	a, err := agent.New(cfg, agent.WithProvider(fakeProvider{}))
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 1, a.Registry.Len())
}

func TestNewQuorumSpawnsPlannerAndDelegates(t *testing.T) {
	cfg, err := config.Parse([]byte(quorumTOML))
	require.NoError(t, err)

	a, err := agent.New(cfg, agent.WithProvider(fakeProvider{}))
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 3, a.Registry.Len())
}

func TestClosingTwiceIsSafe(t *testing.T) {
	cfg, err := config.Parse([]byte(singleAgentTOML))
	require.NoError(t, err)

	a, err := agent.New(cfg, agent.WithProvider(fakeProvider{}))
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestConfigReturnsActiveConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(singleAgentTOML))
	require.NoError(t, err)

	a, err := agent.New(cfg, agent.WithProvider(fakeProvider{}))
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, "main", a.Config().Agent.Name)
}
