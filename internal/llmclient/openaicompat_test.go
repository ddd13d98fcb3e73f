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
package llmclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/llmclient"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/session"
)

func TestCallReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message":       map[string]any{"role": "assistant", "content": "hello"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 2},
		})
	}))
	defer srv.Close()

	c := llmclient.NewClient(llmclient.Config{Endpoint: srv.URL, APIKey: "test"})
	resp, err := c.Call(context.Background(), session.LlmRequest{
		Context: model.ConversationContext{
			Messages: []model.AgentMessage{
				{Role: model.RoleUser, Parts: []model.MessagePart{model.TextPart{Content: "hi"}}},
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Text)
	require.Equal(t, execsm.FinishStop, resp.FinishReason)
	require.EqualValues(t, 10, resp.Usage.InputTokens)
	require.EqualValues(t, 2, resp.Usage.OutputTokens)
}

func TestCallReturnsToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role": "assistant",
						"tool_calls": []map[string]any{
							{
								"id":   "call_1",
								"type": "function",
								"function": map[string]any{
									"name":      "read_file",
									"arguments": `{"path":"a.txt"}`,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
		})
	}))
	defer srv.Close()

	c := llmclient.NewClient(llmclient.Config{Endpoint: srv.URL})
	resp, err := c.Call(context.Background(), session.LlmRequest{
		Tools: []execsm.ToolDefinition{{Name: "read_file", Description: "reads a file", SchemaJSON: `{"type":"object"}`}},
	})
	require.NoError(t, err)
	require.Equal(t, execsm.FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "read_file", resp.ToolCalls[0].Name)
	require.Equal(t, `{"path":"a.txt"}`, resp.ToolCalls[0].Arguments)
}

func TestCallSurfacesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := llmclient.NewClient(llmclient.Config{Endpoint: srv.URL})
	_, err := c.Call(context.Background(), session.LlmRequest{})
	require.Error(t, err)
	require.True(t, c.IsRateLimited(err))
}

func TestCallWrapsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad model", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	c := llmclient.NewClient(llmclient.Config{Endpoint: srv.URL})
	_, err := c.Call(context.Background(), session.LlmRequest{})
	require.Error(t, err)
	require.False(t, c.IsRateLimited(err))
}
