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
package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/config"
	"github.com/weftagent/weft/internal/log"
	"github.com/weftagent/weft/internal/middleware"
)

// buildMiddleware turns one agent's [[middleware]] entries plus its
// system prompt and delegate roster into a CompositeDriver. Unknown types
// are a config error; "context"/"dedup" entries that need a collaborator
// the caller never supplied via Option are skipped with a warning rather
// than failing the whole build, since every other middleware still applies.
func buildMiddleware(specs []config.MiddlewareSpec, systemPrompt string, availableAgents []string, b *buildState) (*middleware.CompositeDriver, error) {
	drivers := make([]middleware.Driver, 0, len(specs)+1)
	if systemPrompt != "" {
		drivers = append(drivers, &middleware.SystemPromptMiddleware{Text: systemPrompt})
	}

	for _, spec := range specs {
		switch spec.Type {
		case "limits":
			drivers = append(drivers, &middleware.LimitsMiddleware{
				MaxSteps: optionInt(spec.Options, "max_steps", 0),
			})

		case "context":
			if b.summarizer == nil {
				log.Warn("pkg/agent: skipping context middleware: no Summarizer configured via WithSummarizer", zap.Any("options", spec.Options))
				continue
			}
			drivers = append(drivers, &middleware.ContextMiddleware{
				Auto:                 optionBool(spec.Options, "auto", true),
				AutoCompactThreshold: int64(optionInt(spec.Options, "auto_compact_threshold", 0)),
				Summarizer:           b.summarizer,
			})

		case "delegation":
			drivers = append(drivers, &middleware.DelegationMiddleware{
				AvailableAgents: availableAgents,
				FirstTurnOnly:   optionBool(spec.Options, "first_turn_only", true),
			})

		case "dedup":
			if b.duplicateAnalyzer == nil {
				log.Warn("pkg/agent: skipping dedup middleware: no DuplicateAnalyzer configured via WithDuplicateAnalyzer")
				continue
			}
			drivers = append(drivers, &middleware.DedupCheckMiddleware{Analyzer: b.duplicateAnalyzer})

		case "agent_mode":
			drivers = append(drivers, &middleware.AgentModeMiddleware{
				PlanReminder: optionString(spec.Options, "plan_reminder", ""),
			})

		default:
			return nil, fmt.Errorf("pkg/agent: unknown middleware type %q", spec.Type)
		}
	}

	return middleware.NewComposite(drivers...), nil
}

func optionInt(opts map[string]any, key string, def int) int {
	v, ok := opts[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func optionBool(opts map[string]any, key string, def bool) bool {
	v, ok := opts[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func optionString(opts map[string]any, key, def string) string {
	v, ok := opts[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}
