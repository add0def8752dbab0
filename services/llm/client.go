// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "context"

// Chat roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the single-prompt interface used for auxiliary calls
// such as re-ranking retrieved policy text.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatMessage is one turn of a multi-turn conversation. Assistant turns may
// carry ToolCalls; tool turns carry the ToolCallID they answer.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolSpec advertises a callable tool to the model. Parameters is a JSON
// schema value (typically a jsonschema.Definition).
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// ChatRequest is a single chat completion request.
type ChatRequest struct {
	Messages []ChatMessage
	Tools    []ToolSpec
	// JSONMode asks the backend to constrain output to a JSON object.
	JSONMode bool
	Params   GenerationParams
}

// ChatResponse is the assistant turn returned by a chat completion.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// HasToolCalls reports whether the model asked for tools.
func (r ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Message converts the response into the assistant turn that must be
// appended to the conversation before tool results.
func (r ChatResponse) Message() ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: r.Content, ToolCalls: r.ToolCalls}
}

// ChatClient is a multi-turn chat backend with function calling.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Embedder turns text into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
