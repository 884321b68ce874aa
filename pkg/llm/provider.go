// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm defines the provider-neutral request and response types used
// to talk to chat-completion backends.
package llm

import (
	"context"
)

// Provider is a chat-completion backend.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g., "openrouter").
	Name() string

	// Complete sends a synchronous completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a streaming completion request and returns a channel of chunks.
	// The channel is closed after the final chunk. Errors during streaming
	// are sent as a StreamChunk with Error set.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// ModelLister is implemented by providers that can enumerate their models
// together with pricing.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	ID            string
	Name          string
	ContextLength int

	// Prices are in currency units per million tokens.
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Messages is the conversation history including the current prompt.
	Messages []Message

	// Model is the concrete model identifier (e.g., "deepseek/deepseek-chat").
	Model string

	// Temperature controls randomness. Nil leaves it to the provider.
	Temperature *float64

	// MaxTokens limits the response length. Nil leaves it to the provider.
	MaxTokens *int

	// Tools defines functions the model may call.
	Tools []Tool
}

// Message represents a single message in a conversation.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`

	// ToolCalls is set on assistant messages that invoke tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result to the call that requested it.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name identifies the tool that produced a tool message.
	Name string `json:"name,omitempty"`
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// ToolCall represents a function invocation by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool defines a function the model can invoke.
type Tool struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema describing the function parameters.
	InputSchema map[string]any
}

// CompletionResponse contains the full response from a non-streaming completion.
type CompletionResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        TokenUsage
	// Model is the model that served the request as reported by the backend.
	Model     string
	RequestID string
}

// StreamChunk represents a single piece of a streaming response.
type StreamChunk struct {
	// Content is the text added in this chunk.
	Content string

	// FinishReason is set on the final chunk.
	FinishReason FinishReason

	// Usage is set once the backend reports token counts.
	Usage *TokenUsage

	// Error is set on a terminal failure; the channel closes after it.
	Error error
}

// FinishReason indicates why completion generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonError     FinishReason = "error"
)

// TokenUsage tracks token consumption for cost calculation.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
