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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

var (
	// ErrMissingAPIKey is returned when no API key was supplied.
	ErrMissingAPIKey = errors.New("OpenAI API key not set")

	// ErrNoChoices is returned when the API answers without any choice.
	ErrNoChoices = errors.New("OpenAI returned no choices")
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey string
	// Model is the chat model. Default: gpt-4o-mini.
	Model string
	// EmbeddingModel is the embedding model. Default: text-embedding-3-small.
	EmbeddingModel string
	// BaseURL overrides the API endpoint (proxies, tests).
	BaseURL string
	// RequestsPerSecond paces outgoing calls. Zero disables pacing.
	RequestsPerSecond float64
	// Burst is the limiter burst size. Default: 1.
	Burst int
	// SystemPrompt is the persona used by Generate.
	SystemPrompt string
	Logger       *slog.Logger
}

// OpenAIClient implements LLMClient, ChatClient and Embedder over the
// OpenAI API.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	systemPrompt   string
	limiter        *rate.Limiter
	logger         *slog.Logger
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
		logger.Warn("OPENAI_MODEL not set, defaulting", slog.String("model", model))
	}
	embeddingModel := openai.SmallEmbedding3
	if cfg.EmbeddingModel != "" {
		embeddingModel = openai.EmbeddingModel(cfg.EmbeddingModel)
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger.Info("Initializing OpenAI client", slog.String("model", model))
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
		systemPrompt:   systemPrompt,
		limiter:        limiter,
		logger:         logger,
	}, nil
}

// Model returns the configured chat model.
func (o *OpenAIClient) Model() string {
	return o.model
}

func (o *OpenAIClient) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	resp, err := o.Chat(ctx, ChatRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: o.systemPrompt},
			{Role: RoleUser, Content: prompt},
		},
		Params: params,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Chat implements the ChatClient interface.
func (o *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := o.wait(ctx); err != nil {
		return ChatResponse{}, err
	}
	o.logger.Debug("Chat completion via OpenAI",
		slog.String("model", o.model),
		slog.Int("messages", len(req.Messages)),
		slog.Int("tools", len(req.Tools)),
	)

	creq := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: toOpenAIMessages(req.Messages),
	}
	for _, t := range req.Tools {
		creq.Tools = append(creq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if req.JSONMode {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	applyParams(&creq, req.Params)

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		o.logger.Error("OpenAI API call failed", slog.String("error", err.Error()))
		return ChatResponse{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, ErrNoChoices
	}

	choice := resp.Choices[0]
	out := ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	o.logger.Debug("Received response from OpenAI",
		slog.String("finish_reason", out.FinishReason),
		slog.Int("tool_calls", len(out.ToolCalls)),
	)
	return out, nil
}

// Embed implements the Embedder interface.
func (o *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := o.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: o.embeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("OpenAI returned embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func toOpenAIMessages(msgs []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func applyParams(req *openai.ChatCompletionRequest, params GenerationParams) {
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
}

var (
	_ LLMClient  = (*OpenAIClient)(nil)
	_ ChatClient = (*OpenAIClient)(nil)
	_ Embedder   = (*OpenAIClient)(nil)
)
