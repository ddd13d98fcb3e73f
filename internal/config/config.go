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

// Package config decodes the TOML configuration file: either a single
// [agent] or a [quorum]+[planner]+[[delegates]] shape,
// shared [[mcp]], [[middleware]], [[remote_agents]] and [mesh] sections,
// ${VAR}/${VAR:-default} environment interpolation, and hot-reload via
// fsnotify.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/weftagent/weft/internal/ratelimit"
)

// Config is the decoded, post-validation shape of the configuration file.
// Exactly one of Agent or Quorum is populated, the two top-level shapes
// this format allows.
type Config struct {
	Agent  *AgentSpec   `toml:"agent"`
	Quorum *QuorumSpec  `toml:"quorum"`
	Planner *AgentSpec  `toml:"planner"`
	Delegates []AgentSpec `toml:"delegates"`

	MCP          []MCPServer      `toml:"mcp"`
	Middleware   []MiddlewareSpec `toml:"middleware"`
	RemoteAgents []RemoteAgent    `toml:"remote_agents"`
	Mesh         *MeshSpec        `toml:"mesh"`

	// DBPath is the sqlite file backing the session store and event
	// journal; empty (or ":memory:") runs ephemeral, matching
	// internal/storage/sqlite.Open's convention.
	DBPath string `toml:"db_path"`
}

// AgentSpec is one [agent], [planner], or [[delegates]] entry.
type AgentSpec struct {
	Name       string `toml:"name"`
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	System     string `toml:"system"`
	SystemFile string `toml:"system_file"`
	Tools      []string `toml:"tools"`
	DefaultMode string `toml:"default_mode"`
	// Cwd is the working directory built-in file tools and the snapshot
	// backend operate against; empty runs against the process cwd.
	Cwd string `toml:"cwd"`

	ExecutionTimeoutSecs       int `toml:"execution_timeout_secs"`
	DelegationWaitTimeoutSecs  int `toml:"delegation_wait_timeout_secs"`
	DelegationCancelGraceSecs  int `toml:"delegation_cancel_grace_secs"`

	RateLimit RateLimitSpec `toml:"rate_limit"`
}

// RateLimitSpec mirrors ratelimit.Config; durations are given in
// milliseconds in the TOML surface and converted by ToRetryConfig.
type RateLimitSpec struct {
	MaxRetries        int     `toml:"max_retries"`
	InitialBackoffMs  int     `toml:"initial_backoff_ms"`
	MaxBackoffMs      int     `toml:"max_backoff_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	Jitter            float64 `toml:"jitter"`
}

// ToRetryConfig converts the TOML millisecond fields into the durations
// internal/ratelimit.Retry expects, falling back to ratelimit.DefaultConfig
// for any field left at its zero value.
func (r RateLimitSpec) ToRetryConfig() ratelimit.Config {
	def := ratelimit.DefaultConfig()
	cfg := def
	if r.MaxRetries > 0 {
		cfg.MaxRetries = r.MaxRetries
	}
	if r.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	if r.BackoffMultiplier > 0 {
		cfg.BackoffMultiplier = r.BackoffMultiplier
	}
	if r.Jitter > 0 {
		cfg.Jitter = r.Jitter
	}
	return cfg
}

// QuorumSpec is the [quorum] table; the planner and delegates live in their
// own top-level tables/arrays alongside it.
type QuorumSpec struct {
	Name                 string `toml:"name"`
	DelegationWaitPolicy string `toml:"delegation_wait_policy"` // "fail" | "continue"
}

// MCPServer is one [[mcp]] entry.
type MCPServer struct {
	Transport string            `toml:"transport"` // "stdio" | "http" | "sse"
	Name      string            `toml:"name"`
	Command   string            `toml:"command"`
	Args      []string          `toml:"args"`
	Env       map[string]string `toml:"env"`
	URL       string            `toml:"url"`
	Headers   map[string]string `toml:"headers"`
}

// MiddlewareSpec is one [[middleware]] entry; Type selects one of the
// built-in drivers in internal/middleware and Options carries its
// driver-specific knobs (e.g. max_steps for "limits").
type MiddlewareSpec struct {
	Type    string         `toml:"type"`
	Options map[string]any `toml:"options"`
}

// RemoteAgent is one [[remote_agents]] entry: a named pointer at a session
// hosted on another mesh node.
type RemoteAgent struct {
	Name      string `toml:"name"`
	PeerLabel string `toml:"peer_label"`
	SessionID string `toml:"session_id"`
}

// MeshSpec is the optional [mesh] table.
type MeshSpec struct {
	SelfLabel string   `toml:"self_label"`
	Listen    string   `toml:"listen"`
	Bootstrap []string `toml:"bootstrap"`
}

// Load reads path, applies environment interpolation, decodes the TOML, and
// validates the result. This is the single entrypoint callers should use.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse interpolates and decodes raw TOML bytes without touching the
// filesystem; exported mainly for tests and for the hot-reload watcher's
// validate-before-swap step.
func Parse(raw []byte) (*Config, error) {
	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding TOML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// interpolateEnv substitutes ${VAR} with os.Getenv(VAR), failing if VAR is
// unset and no ":-default" was given; ${VAR:-default} falls back to default
// in that case.
func interpolateEnv(raw string) (string, error) {
	var firstErr error
	out := envPattern.ReplaceAllStringFunc(raw, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := envPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if hasDefault {
			return def
		}
		firstErr = fmt.Errorf("config: required environment variable %q is not set", name)
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Validate checks the structural invariants of the configuration: exactly
// one of agent/quorum, system/system_file mutually exclusive on every
// agent-shaped section, unique MCP server names, and well-formed tool specs.
func (c *Config) Validate() error {
	if c.Agent == nil && c.Quorum == nil {
		return fmt.Errorf("config: one of [agent] or [quorum] is required")
	}
	if c.Agent != nil && c.Quorum != nil {
		return fmt.Errorf("config: [agent] and [quorum] are mutually exclusive")
	}
	if c.Quorum != nil && c.Planner == nil {
		return fmt.Errorf("config: [quorum] requires a [planner]")
	}

	agents := c.agentSpecs()
	for _, a := range agents {
		if a.System != "" && a.SystemFile != "" {
			return fmt.Errorf("config: agent %q: system and system_file are mutually exclusive", a.Name)
		}
		for _, spec := range a.Tools {
			if err := validateToolSpec(spec); err != nil {
				return fmt.Errorf("config: agent %q: %w", a.Name, err)
			}
		}
	}

	seen := make(map[string]bool, len(c.MCP))
	for _, m := range c.MCP {
		if seen[m.Name] {
			return fmt.Errorf("config: duplicate mcp server name %q", m.Name)
		}
		seen[m.Name] = true
		switch m.Transport {
		case "stdio", "http", "sse":
		default:
			return fmt.Errorf("config: mcp server %q: unknown transport %q", m.Name, m.Transport)
		}
	}

	if c.Quorum != nil {
		switch c.Quorum.DelegationWaitPolicy {
		case "", "fail", "continue":
		default:
			return fmt.Errorf("config: quorum: unknown delegation_wait_policy %q", c.Quorum.DelegationWaitPolicy)
		}
	}
	return nil
}

func (c *Config) agentSpecs() []AgentSpec {
	var out []AgentSpec
	if c.Agent != nil {
		out = append(out, *c.Agent)
	}
	if c.Planner != nil {
		out = append(out, *c.Planner)
	}
	out = append(out, c.Delegates...)
	return out
}

// validateToolSpec accepts a builtin name ("edit"), an MCP wildcard
// ("server.*"), or an MCP-specific tool ("server.tool").
func validateToolSpec(spec string) error {
	if spec == "" {
		return fmt.Errorf("empty tool spec")
	}
	if !strings.Contains(spec, ".") {
		return nil // builtin
	}
	parts := strings.SplitN(spec, ".", 2)
	if parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("malformed mcp tool spec %q", spec)
	}
	return nil
}
