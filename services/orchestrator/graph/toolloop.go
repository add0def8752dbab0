// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/oracle"
)

// MaxToolRounds bounds the number of assessment oracle calls per event.
const MaxToolRounds = 4

// runToolLoop drives the assessment conversation. Tools requested in
// rounds 1 to MaxToolRounds-1 are executed and their results appended;
// whatever the last round returns is parsed as the final answer.
func (e *Engine) runToolLoop(ctx context.Context, event datatypes.TelemetryEvent, logger *slog.Logger) (datatypes.RiskAssessment, int, error) {
	conversation := []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: oracle.AssessSystemPrompt(e.thresholds)},
		{Role: llm.RoleUser, Content: oracle.AssessUserMessage(event)},
	}
	specs := e.tools.Specs()

	var (
		resp   llm.ChatResponse
		rounds int
	)
	for rounds < MaxToolRounds {
		rounds++
		var err error
		resp, err = e.assessor.Assess(ctx, conversation, specs)
		if err != nil {
			return datatypes.RiskAssessment{}, rounds, &StageError{Stage: NodeAssessRisk, Fault: FaultOracle, Err: err}
		}
		if !resp.HasToolCalls() {
			break
		}
		if rounds == MaxToolRounds {
			logger.Warn("tool round limit reached, using final round content",
				slog.Int("rounds", rounds),
				slog.Int("pending_tool_calls", len(resp.ToolCalls)))
			break
		}

		conversation = append(conversation, resp.Message())
		for _, tc := range resp.ToolCalls {
			out, err := e.tools.Call(ctx, tc.Name, tc.Arguments)
			if err != nil {
				return datatypes.RiskAssessment{}, rounds, &StageError{Stage: NodeAssessRisk, Fault: FaultTool, Err: err}
			}
			logger.Debug("tool executed",
				slog.Int("round", rounds),
				slog.String("tool", tc.Name))
			conversation = append(conversation, llm.ChatMessage{
				Role:       llm.RoleTool,
				Name:       tc.Name,
				ToolCallID: tc.ID,
				Content:    out,
			})
		}
	}

	a, err := oracle.ParseAssessment(resp.Content)
	if err != nil {
		return datatypes.RiskAssessment{}, rounds, classify(NodeAssessRisk, err)
	}
	return a, rounds, nil
}
