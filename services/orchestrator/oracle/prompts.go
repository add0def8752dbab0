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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// telemetryPrefix introduces the telemetry JSON in the assessment user turn.
const telemetryPrefix = "Telemetry: "

// AssessSystemPrompt is the assessment oracle instruction. The review
// guidance is rendered from t so it always matches the routing backstop.
func AssessSystemPrompt(t datatypes.Thresholds) string {
	return fmt.Sprintf(
		"You are an FAA safety agent. Use tools to compute ceiling and projected altitude "+
			"(horizon %d seconds). Then compute risk score and confidence from those values and "+
			"the telemetry; use risk_tool if helpful and visibility_tool when visibility is reported. "+
			"Use FAA Part 107 guidance for altitude safety expectations. Any event with risk above "+
			"%.2f and confidence below %.2f will be escalated to a human reviewer. "+
			"Call tools as needed. When done, respond ONLY with a JSON object: "+
			`{"predicted_altitude_ft": number, "ceiling_ft": number, "risk_score": number, "confidence": number}.`,
		t.HorizonSeconds, t.HITLRisk, t.HITLConfidence,
	)
}

// AssessUserMessage renders one event as the opening user turn.
func AssessUserMessage(e datatypes.TelemetryEvent) string {
	b, err := json.Marshal(e)
	if err != nil {
		// TelemetryEvent has only plain fields; Marshal cannot fail.
		return telemetryPrefix + "{}"
	}
	return telemetryPrefix + string(b)
}

// parseTelemetryMessage recovers the event from an AssessUserMessage turn.
func parseTelemetryMessage(content string) (datatypes.TelemetryEvent, bool) {
	if !strings.HasPrefix(content, telemetryPrefix) {
		return datatypes.TelemetryEvent{}, false
	}
	var e datatypes.TelemetryEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(content, telemetryPrefix)), &e); err != nil {
		return datatypes.TelemetryEvent{}, false
	}
	return e, true
}

// DecideSystemPrompt is the decision oracle instruction.
func DecideSystemPrompt(t datatypes.Thresholds) string {
	return fmt.Sprintf(
		"You are an FAA safety agent. Decide the next route for a drone safety event. "+
			"Follow FAA Part 107 guidance for altitude operations and safety margins. "+
			"Alert when risk is at least %.2f; notify automatically only when confidence is at least %.2f, "+
			"otherwise request human review. Risk above %.2f with confidence below %.2f always requires "+
			"human review, and a HIGH risk band always requires human review. "+
			"Use the policy context to justify your rationale and include at least one citation tag. "+
			"Citations must match the snippet tags provided (for example: [S1], [S2]). "+
			"Return a JSON object with: route (auto_notify | hitl_review | monitor), "+
			"risk_band (LOW | MED | HIGH), should_alert (true/false), and rationale (short).",
		t.AlertRisk, t.AutoNotifyConfidence, t.HITLRisk, t.HITLConfidence,
	)
}

// DecideUserPrompt renders the decision request.
func DecideUserPrompt(req DecisionRequest) string {
	ctx := "none"
	if len(req.PolicyContext) > 0 {
		ctx = strings.Join(req.PolicyContext, "\n")
	}
	return fmt.Sprintf(
		"Telemetry: altitude_ft=%g, vertical_speed_fps=%g. "+
			"Projection: predicted_altitude_ft=%g, ceiling_ft=%g. "+
			"Risk: risk_score=%.4f, confidence=%.4f. "+
			"Policy context (use citations in your rationale): %s.",
		req.Event.AltitudeFt, req.Event.VerticalSpeedFps,
		req.Assessment.PredictedAltitudeFt, req.Assessment.CeilingFt,
		req.Assessment.RiskScore, req.Assessment.Confidence,
		ctx,
	)
}
