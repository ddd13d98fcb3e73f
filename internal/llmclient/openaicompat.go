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

// Package llmclient is the one concrete session.LlmProvider binding this
// module ships: a client for the OpenAI chat-completions wire format, which
// a wide enough range of hosted and self-hosted backends (OpenAI itself,
// most local inference servers' "OpenAI-compatible" endpoint) speak that it
// is a reasonable default rather than a vendor-specific one. Building the
// full multi-vendor provider factory (Anthropic, Bedrock, Gemini, ...) is
// out of scope; cmd/weftd wires this one in, and a deployment that needs a
// different vendor supplies its own session.LlmProvider via pkg/agent's
// WithProvider option instead.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/weftagent/weft/internal/execsm"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/session"
)

// Config holds the client's connection and sampling parameters.
type Config struct {
	APIKey      string
	Model       string
	Endpoint    string // default: https://api.openai.com/v1/chat/completions
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

const (
	DefaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	DefaultModel       = "gpt-4o-mini"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0
)

// Client implements session.LlmProvider over net/http; no vendor SDK.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// NewClient fills unset Config fields from OPENAI_API_KEY/OPENAI_MODEL/
// OPENAI_API_ENDPOINT and package defaults, falling back to sane defaults
// wherever none of those is set.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		if m := os.Getenv("OPENAI_MODEL"); m != "" {
			cfg.Model = m
		} else {
			cfg.Model = DefaultModel
		}
	}
	if cfg.Endpoint == "" {
		if e := os.Getenv("OPENAI_API_ENDPOINT"); e != "" {
			cfg.Endpoint = e
		} else {
			cfg.Endpoint = DefaultEndpoint
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		endpoint:    cfg.Endpoint,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function chatToolCallFunction `json:"function"`
}

type chatToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// StatusError wraps a non-2xx HTTP response so callers (and IsRateLimited)
// can inspect the status code without parsing the message body twice.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llmclient: http %d: %s", e.StatusCode, e.Body)
}

// Call implements session.LlmProvider.
func (c *Client) Call(ctx context.Context, req session.LlmRequest) (execsm.LlmResponse, error) {
	modelName := c.model
	if req.Context.Model != "" {
		modelName = req.Context.Model // per-session override set by SetSessionModel
	}
	body := chatRequest{
		Model:       modelName,
		Messages:    toChatMessages(req.Context.Messages),
		Tools:       toChatTools(req.Tools),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return execsm.LlmResponse{}, fmt.Errorf("llmclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return execsm.LlmResponse{}, fmt.Errorf("llmclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return execsm.LlmResponse{}, fmt.Errorf("llmclient: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return execsm.LlmResponse{}, fmt.Errorf("llmclient: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return execsm.LlmResponse{}, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return execsm.LlmResponse{}, fmt.Errorf("llmclient: unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return execsm.LlmResponse{}, fmt.Errorf("llmclient: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return execsm.LlmResponse{}, fmt.Errorf("llmclient: empty choices in response")
	}

	choice := parsed.Choices[0]
	out := execsm.LlmResponse{
		Text:         choice.Message.Content,
		FinishReason: execsm.ParseFinishReason(mapFinishReason(choice.FinishReason)),
		Usage: execsm.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}
	for i, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, execsm.ToolCall{
			Index:     i,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if len(out.ToolCalls) > 0 && out.FinishReason != execsm.FinishToolCalls {
		out.FinishReason = execsm.FinishToolCalls
	}
	return out, nil
}

// IsRateLimited implements session.LlmProvider's ratelimit.Classifier hook.
func (c *Client) IsRateLimited(err error) bool {
	var statusErr *StatusError
	if ok := asStatusError(err, &statusErr); ok {
		return statusErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func asStatusError(err error, target **StatusError) bool {
	for err != nil {
		if se, ok := err.(*StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// mapFinishReason normalizes the OpenAI wire vocabulary ("stop", "length",
// "tool_calls", "content_filter") onto execsm.FinishReason's wire strings.
func mapFinishReason(s string) string {
	switch s {
	case "stop":
		return string(execsm.FinishStop)
	case "length":
		return string(execsm.FinishLength)
	case "tool_calls", "function_call":
		return string(execsm.FinishToolCalls)
	case "content_filter":
		return string(execsm.FinishContentFilter)
	default:
		return string(execsm.FinishOther)
	}
}

func toChatTools(defs []execsm.ToolDefinition) []chatTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  json.RawMessage(d.SchemaJSON),
			},
		})
	}
	return out
}

func toChatMessages(msgs []model.AgentMessage) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleTool:
			for _, part := range m.Parts {
				if tr, ok := part.(model.ToolResultPart); ok {
					out = append(out, chatMessage{Role: "tool", ToolCallID: tr.CallID, Content: tr.Content})
				}
			}
		case model.RoleAssistant:
			cm := chatMessage{Role: "assistant"}
			for _, part := range m.Parts {
				switch p := part.(type) {
				case model.TextPart:
					cm.Content += p.Content
				case model.ToolUsePart:
					cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
						ID:   p.ID,
						Type: "function",
						Function: chatToolCallFunction{
							Name:      p.Name,
							Arguments: p.Arguments,
						},
					})
				}
			}
			out = append(out, cm)
		default:
			cm := chatMessage{Role: string(m.Role)}
			for _, part := range m.Parts {
				if tp, ok := part.(model.TextPart); ok {
					cm.Content += tp.Content
				}
			}
			out = append(out, cm)
		}
	}
	return out
}
