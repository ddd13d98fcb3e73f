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
package session

import (
	"context"

	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/model"
)

// LlmRequest is what CallLlm sends a provider.
type LlmRequest struct {
	Context model.ConversationContext
	Tools   []execsm.ToolDefinition
}

// LlmProvider is the injected abstraction for "the LLM"; concrete vendor
// SDKs bind to this at the pkg/agent assembly layer, not here.
type LlmProvider interface {
	Call(ctx context.Context, req LlmRequest) (execsm.LlmResponse, error)
	// IsRateLimited classifies a returned error as the provider's
	// rate-limited case, for internal/ratelimit.Retry's Classifier.
	IsRateLimited(err error) bool
}

// StreamChunk is one piece of a streamed LLM response.
type StreamChunk struct {
	TextDelta    string
	ToolCall     *execsm.ToolCall
	Usage        *execsm.Usage
	FinishReason execsm.FinishReason
	Done         bool
}

// StreamingLlmProvider is optionally implemented by a provider that can
// stream mid-turn tool use; the session actor uses it whenever the provider
// implements it.
type StreamingLlmProvider interface {
	LlmProvider
	StreamCall(ctx context.Context, req LlmRequest) (<-chan StreamChunk, error)
}

// drainStream accumulates chunks into a single LlmResponse, matching the
// non-streaming shape so the rest of the state machine need not care which
// path produced it.
func drainStream(ch <-chan StreamChunk) execsm.LlmResponse {
	var resp execsm.LlmResponse
	for chunk := range ch {
		resp.Text += chunk.TextDelta
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if chunk.Done {
			resp.FinishReason = chunk.FinishReason
		}
	}
	return resp
}
