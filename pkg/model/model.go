// Copyright 2025 Kadir Pekel
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

// Package model defines the chat-model interface implemented by each LLM
// provider.
//
//   - A single GenerateContent method covers streaming and non-streaming
//   - It returns iter.Seq2[*Response, error] in both modes
//   - Streaming yields Partial deltas followed by one aggregated Response
package model

import (
	"context"
	"iter"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier sent to the provider.
	Name() string

	// Provider returns the provider slug.
	Provider() Provider

	// GenerateContent produces responses for the given request.
	//
	// When stream=false it yields exactly one Response with Partial=false.
	//
	// When stream=true it yields Partial=true deltas as they arrive, then a
	// final aggregated Response with Partial=false.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases any resources held by the LLM.
	Close() error
}

// Provider identifies the LLM provider.
type Provider string

const (
	ProviderOpenAI  Provider = "openai"
	ProviderOllama  Provider = "ollama"
	ProviderUnknown Provider = "unknown"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role
	Content string

	// ToolCalls are set on assistant messages that requested tools.
	ToolCalls []tool.ToolCall

	// ToolCallID and Name are set on tool messages carrying a result.
	ToolCallID string
	Name       string
}

// Request contains the input for an LLM call.
type Request struct {
	Messages []Message

	// Tools available for the model to call.
	Tools []tool.Definition

	Config *GenerateConfig

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string
}

// GenerateConfig contains per-request generation settings. Nil fields fall
// back to the values the client was built with.
type GenerateConfig struct {
	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	StopSequences []string
}

// Clone creates a deep copy of the GenerateConfig.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		v := *c.Temperature
		clone.Temperature = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		clone.TopP = &v
	}
	if c.StopSequences != nil {
		clone.StopSequences = append([]string(nil), c.StopSequences...)
	}
	return &clone
}

// Response contains the result of an LLM call.
type Response struct {
	// Content is the generated text. For partial responses it is the delta.
	Content string

	// Partial marks a streaming delta. The final aggregated response has
	// Partial=false.
	Partial bool

	ToolCalls []tool.ToolCall

	Usage *Usage

	FinishReason FinishReason

	// Model is the model identifier reported by the provider, if any.
	Model string
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonContent   FinishReason = "content_filter"
	FinishReasonError     FinishReason = "error"
)

// HasToolCalls returns whether the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// ToMessage converts a final response into an assistant message.
func (r *Response) ToMessage() Message {
	return Message{
		Role:      RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}
