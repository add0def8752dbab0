// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracle defines the two judgment collaborators of the decision
// graph and their implementations.
//
// # Description
//
// The assessment oracle drives a tool-calling conversation that ends in a
// numeric risk assessment. The decision oracle turns that assessment plus
// policy context into a raw route decision. Each has a model-backed
// implementation (any llm.ChatClient) and a deterministic rules
// implementation used offline and in tests.
package oracle

import (
	"context"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// AssessmentOracle answers one round of the assessment conversation:
// either tool calls to run, or final content holding the assessment JSON.
type AssessmentOracle interface {
	Assess(ctx context.Context, conversation []llm.ChatMessage, tools []llm.ToolSpec) (llm.ChatResponse, error)
}

// DecisionRequest is everything the decision oracle sees for one event.
type DecisionRequest struct {
	Event         datatypes.TelemetryEvent
	Assessment    datatypes.RiskAssessment
	PolicyContext []string
}

// DecisionOracle returns a raw decision as JSON text.
type DecisionOracle interface {
	Decide(ctx context.Context, req DecisionRequest) (string, error)
}

// =============================================================================
// Model-backed oracles
// =============================================================================

var zeroTemperature float32

// ChatAssessor is an AssessmentOracle backed by a chat model with
// function calling.
type ChatAssessor struct {
	client llm.ChatClient
}

func NewChatAssessor(client llm.ChatClient) *ChatAssessor {
	return &ChatAssessor{client: client}
}

// Assess implements AssessmentOracle.
func (a *ChatAssessor) Assess(ctx context.Context, conversation []llm.ChatMessage, tools []llm.ToolSpec) (llm.ChatResponse, error) {
	return a.client.Chat(ctx, llm.ChatRequest{
		Messages: conversation,
		Tools:    tools,
		Params:   llm.GenerationParams{Temperature: &zeroTemperature},
	})
}

// ChatDecider is a DecisionOracle backed by a chat model in JSON mode.
type ChatDecider struct {
	client     llm.ChatClient
	thresholds datatypes.Thresholds
}

func NewChatDecider(client llm.ChatClient, thresholds datatypes.Thresholds) *ChatDecider {
	return &ChatDecider{client: client, thresholds: thresholds}
}

// Decide implements DecisionOracle.
func (d *ChatDecider) Decide(ctx context.Context, req DecisionRequest) (string, error) {
	resp, err := d.client.Chat(ctx, llm.ChatRequest{
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: DecideSystemPrompt(d.thresholds)},
			{Role: llm.RoleUser, Content: DecideUserPrompt(req)},
		},
		JSONMode: true,
		Params:   llm.GenerationParams{Temperature: &zeroTemperature},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

var (
	_ AssessmentOracle = (*ChatAssessor)(nil)
	_ DecisionOracle   = (*ChatDecider)(nil)
)
