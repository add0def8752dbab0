// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/tools"
)

// ErrNoTelemetry is returned by RulesAssessor when the conversation has no
// telemetry turn.
var ErrNoTelemetry = errors.New("conversation has no telemetry message")

// RulesAssessor is a deterministic AssessmentOracle. It requests the same
// tools a model would, in three rounds: ceiling and trajectory (plus
// visibility when reported), then risk, then the final answer.
type RulesAssessor struct{}

// Assess implements AssessmentOracle.
func (RulesAssessor) Assess(ctx context.Context, conversation []llm.ChatMessage, _ []llm.ToolSpec) (llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}

	var (
		event   datatypes.TelemetryEvent
		found   bool
		round   = 1
		results = make(map[string]string)
	)
	for _, m := range conversation {
		switch m.Role {
		case llm.RoleUser:
			if e, ok := parseTelemetryMessage(m.Content); ok && !found {
				event, found = e, true
			}
		case llm.RoleAssistant:
			round++
		case llm.RoleTool:
			results[m.Name] = m.Content
		}
	}
	if !found {
		return llm.ChatResponse{}, ErrNoTelemetry
	}

	call := func(name string, args any) llm.ToolCall {
		b, _ := json.Marshal(args)
		return llm.ToolCall{ID: fmt.Sprintf("call_%d_%s", round, name), Name: name, Arguments: string(b)}
	}

	_, haveCeiling := results[tools.CeilingToolName]
	_, haveTrajectory := results[tools.TrajectoryToolName]
	if !haveCeiling || !haveTrajectory {
		calls := []llm.ToolCall{
			call(tools.CeilingToolName, map[string]float64{"lat": event.Lat, "lon": event.Lon}),
			call(tools.TrajectoryToolName, map[string]float64{
				"current_altitude_ft": event.AltitudeFt,
				"vertical_speed_fps":  event.VerticalSpeedFps,
			}),
		}
		if event.VisibilityKm != nil {
			calls = append(calls, call(tools.VisibilityToolName, map[string]float64{"visibility_km": *event.VisibilityKm}))
		}
		return llm.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls"}, nil
	}

	var ceiling tools.CeilingResult
	if err := json.Unmarshal([]byte(results[tools.CeilingToolName]), &ceiling); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("read ceiling result: %w", err)
	}
	var trajectory tools.TrajectoryResult
	if err := json.Unmarshal([]byte(results[tools.TrajectoryToolName]), &trajectory); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("read trajectory result: %w", err)
	}

	riskRaw, haveRisk := results[tools.RiskToolName]
	if !haveRisk {
		return llm.ChatResponse{
			ToolCalls: []llm.ToolCall{call(tools.RiskToolName, map[string]float64{
				"predicted_altitude_ft": trajectory.PredictedAltitudeFt,
				"ceiling_ft":            ceiling.CeilingFt,
				"vertical_speed_fps":    event.VerticalSpeedFps,
			})},
			FinishReason: "tool_calls",
		}, nil
	}

	var risk tools.RiskResult
	if err := json.Unmarshal([]byte(riskRaw), &risk); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("read risk result: %w", err)
	}
	confidence := risk.Confidence
	if visRaw, ok := results[tools.VisibilityToolName]; ok {
		var vis tools.VisibilityImpact
		if err := json.Unmarshal([]byte(visRaw), &vis); err == nil {
			confidence -= vis.ConfidenceReduction
		}
	}

	answer, _ := json.Marshal(map[string]float64{
		"predicted_altitude_ft": trajectory.PredictedAltitudeFt,
		"ceiling_ft":            ceiling.CeilingFt,
		"risk_score":            risk.RiskScore,
		"confidence":            datatypes.Clamp01(confidence),
	})
	return llm.ChatResponse{Content: string(answer), FinishReason: "stop"}, nil
}

// RulesDecider is a deterministic DecisionOracle applying the alert and
// auto-notify thresholds.
type RulesDecider struct {
	Thresholds datatypes.Thresholds
}

// Decide implements DecisionOracle.
func (d RulesDecider) Decide(ctx context.Context, req DecisionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a := req.Assessment
	t := d.Thresholds

	route, alert := datatypes.RouteMonitor, false
	if a.RiskScore >= t.AlertRisk {
		alert = true
		route = datatypes.RouteHITLReview
		if a.Confidence >= t.AutoNotifyConfidence {
			route = datatypes.RouteAutoNotify
		}
	}

	band := datatypes.BandLow
	switch {
	case a.RiskScore >= t.AlertRisk:
		band = datatypes.BandHigh
	case a.RiskScore >= 0.5:
		band = datatypes.BandMed
	}

	rationale := fmt.Sprintf("Projected %.1fft vs ceiling %.1fft; risk %.2f, confidence %.2f.",
		a.PredictedAltitudeFt, a.CeilingFt, a.RiskScore, a.Confidence)
	if len(req.PolicyContext) > 0 {
		rationale += " Part 107 altitude limits apply [S1]."
	}

	out, err := json.Marshal(datatypes.RawDecision{
		Route:       string(route),
		RiskBand:    string(band),
		ShouldAlert: alert,
		Rationale:   rationale,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var (
	_ AssessmentOracle = RulesAssessor{}
	_ DecisionOracle   = RulesDecider{}
)
