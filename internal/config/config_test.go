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
package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/config"
)

func TestParseSingleAgent(t *testing.T) {
	t.Setenv("WEFT_MODEL", "claude-x")

	raw := []byte(`
[agent]
name = "main"
provider = "acme"
model = "${WEFT_MODEL}"
system = "you are helpful"
tools = ["edit", "grep.*", "grep.search"]
`)
	cfg, err := config.Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, cfg.Agent)
	require.Nil(t, cfg.Quorum)
	require.Equal(t, "claude-x", cfg.Agent.Model)
}

func TestParseMissingRequiredEnvFails(t *testing.T) {
	raw := []byte(`
[agent]
name = "main"
provider = "acme"
model = "${DEFINITELY_UNSET_VAR}"
`)
	_, err := config.Parse(raw)
	require.Error(t, err)
}

func TestParseEnvDefault(t *testing.T) {
	raw := []byte(`
[agent]
name = "main"
provider = "acme"
model = "${UNSET_MODEL:-fallback-model}"
`)
	cfg, err := config.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "fallback-model", cfg.Agent.Model)
}

func TestValidateRejectsSystemAndSystemFile(t *testing.T) {
	raw := []byte(`
[agent]
name = "main"
provider = "acme"
model = "m"
system = "a"
system_file = "b.txt"
`)
	_, err := config.Parse(raw)
	require.Error(t, err)
}

func TestValidateRejectsDuplicateMCPNames(t *testing.T) {
	raw := []byte(`
[agent]
name = "main"
provider = "acme"
model = "m"

[[mcp]]
transport = "stdio"
name = "fs"
command = "fs-server"

[[mcp]]
transport = "http"
name = "fs"
url = "http://localhost:9000"
`)
	_, err := config.Parse(raw)
	require.Error(t, err)
}

func TestValidateRejectsAgentAndQuorumTogether(t *testing.T) {
	raw := []byte(`
[agent]
name = "main"
provider = "acme"
model = "m"

[quorum]
name = "q"

[planner]
name = "p"
provider = "acme"
model = "m"
`)
	_, err := config.Parse(raw)
	require.Error(t, err)
}

func TestValidateQuorumRequiresPlanner(t *testing.T) {
	raw := []byte(`
[quorum]
name = "q"
`)
	_, err := config.Parse(raw)
	require.Error(t, err)
}

func TestParseQuorumWithDelegates(t *testing.T) {
	raw := []byte(`
[quorum]
name = "q"
delegation_wait_policy = "continue"

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
`)
	cfg, err := config.Parse(raw)
	require.NoError(t, err)
	require.Nil(t, cfg.Agent)
	require.NotNil(t, cfg.Quorum)
	require.Len(t, cfg.Delegates, 2)
}

func TestRateLimitSpecToRetryConfigFallsBackToDefaults(t *testing.T) {
	spec := config.RateLimitSpec{MaxRetries: 3}
	cfg := spec.ToRetryConfig()
	require.Equal(t, 3, cfg.MaxRetries)
	require.Greater(t, cfg.InitialBackoff, time.Duration(0))
}

func TestValidateRejectsMalformedToolSpec(t *testing.T) {
	raw := []byte(`
[agent]
name = "main"
provider = "acme"
model = "m"
tools = ["server."]
`)
	_, err := config.Parse(raw)
	require.Error(t, err)
}
