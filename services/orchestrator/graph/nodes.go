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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/guardrail"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/oracle"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/policy"
)

// Node names, as they appear in traces and the state diagram.
const (
	NodeAssessRisk     = "assess_risk"
	NodeRetrievePolicy = "retrieve_policy"
	NodeDecideRoute    = "decide_route"
	NodeHITLApproval   = "hitl_approval"
	NodeEmitDecision   = "emit_decision"
	NodeHandleError    = "handle_error"

	// End is the terminal pseudo-node.
	End = "__end__"
)

// Fixed decision texts.
const (
	NoAlertMessage   = "No alert: drone remains within projected ceiling."
	EscalationSuffix = " Escalated for human review."
	ErrorRationale   = "error recovery: escalating to human review"
	NoteHITLBackstop = "[hitl] escalated by review threshold"
)

var (
	errNoAssessment = errors.New("no risk assessment on state")
	errNoDecision   = errors.New("no route decision on state")
)

// Node is one stage of the graph.
type Node func(ctx context.Context, s State) Update

func (e *Engine) assessRisk(ctx context.Context, s State) Update {
	in := map[string]any{
		"drone_id":           s.Event.DroneID,
		"lat":                s.Event.Lat,
		"lon":                s.Event.Lon,
		"altitude_ft":        s.Event.AltitudeFt,
		"vertical_speed_fps": s.Event.VerticalSpeedFps,
	}
	a, rounds, err := e.runToolLoop(ctx, s.Event, e.eventLogger(ctx, s))
	if err != nil {
		se := classify(NodeAssessRisk, err)
		return Update{
			Failure: se,
			Inputs:  in,
			Outputs: map[string]any{"error": se.Error(), "tool_rounds": rounds},
		}
	}
	return Update{
		Assessment: &a,
		Inputs:     in,
		Outputs: map[string]any{
			"predicted_altitude_ft": a.PredictedAltitudeFt,
			"ceiling_ft":            a.CeilingFt,
			"risk_score":            a.RiskScore,
			"confidence":            a.Confidence,
			"tool_rounds":           rounds,
		},
	}
}

func (e *Engine) retrievePolicy(ctx context.Context, s State) Update {
	var a datatypes.RiskAssessment
	if s.Assessment != nil {
		a = *s.Assessment
	}
	query := policy.BuildQuery(s.Event, a)
	in := map[string]any{"query": query, "top_k": e.topK}

	snippets, err := e.retrieve(ctx, query)
	if err != nil {
		se := &StageError{Stage: NodeRetrievePolicy, Fault: FaultRetrieval, Err: err}
		e.eventLogger(ctx, s).Warn("policy retrieval failed, continuing without policy context",
			slog.String("error", se.Error()))
		return Update{
			PolicyContext: []string{},
			Inputs:        in,
			Outputs:       map[string]any{"snippet_count": 0, "degraded": true},
		}
	}

	lines := policy.FormatSnippets(snippets)
	sources := make([]string, 0, len(snippets))
	for _, sn := range snippets {
		sources = append(sources, fmt.Sprintf("%s p.%d", sn.Source, sn.Page))
	}
	return Update{
		PolicyContext: lines,
		Inputs:        in,
		Outputs:       map[string]any{"snippet_count": len(lines), "sources": sources, "degraded": false},
	}
}

// retrieve calls the retriever, turning a panic into an error so that
// retrieval can only ever degrade.
func (e *Engine) retrieve(ctx context.Context, query string) (snippets []datatypes.PolicySnippet, err error) {
	if e.retriever == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retriever panic: %v", r)
		}
	}()
	return e.retriever.Retrieve(ctx, query, e.topK)
}

func (e *Engine) decideRoute(ctx context.Context, s State) Update {
	if s.Assessment == nil {
		se := &StageError{Stage: NodeDecideRoute, Fault: FaultOracle, Err: errNoAssessment}
		return Update{Failure: se, Outputs: map[string]any{"error": se.Error()}}
	}
	in := map[string]any{
		"risk_score":      s.Assessment.RiskScore,
		"confidence":      s.Assessment.Confidence,
		"policy_snippets": len(s.PolicyContext),
	}

	content, err := e.decider.Decide(ctx, oracle.DecisionRequest{
		Event:         s.Event,
		Assessment:    *s.Assessment,
		PolicyContext: s.PolicyContext,
	})
	if err != nil {
		se := &StageError{Stage: NodeDecideRoute, Fault: FaultOracle, Err: err}
		return Update{Failure: se, Inputs: in, Outputs: map[string]any{"error": se.Error()}}
	}
	raw, err := oracle.ParseDecision(content)
	if err != nil {
		se := classify(NodeDecideRoute, err)
		return Update{Failure: se, Inputs: in, Outputs: map[string]any{"error": se.Error()}}
	}

	d, corrections := guardrail.Check(raw, len(s.PolicyContext) > 0)
	names := make([]string, len(corrections))
	for i, c := range corrections {
		names[i] = string(c)
	}
	if len(corrections) > 0 {
		e.eventLogger(ctx, s).Info("guardrail corrected decision",
			slog.Any("corrections", names),
			slog.String("route", string(d.Route)),
			slog.String("risk_band", string(d.RiskBand)))
	}
	return Update{
		Decision:    &d,
		Corrections: corrections,
		Inputs:      in,
		Outputs: map[string]any{
			"route":        string(d.Route),
			"risk_band":    string(d.RiskBand),
			"should_alert": d.ShouldAlert,
			"corrections":  names,
		},
	}
}

func (e *Engine) hitlApproval(ctx context.Context, s State) Update {
	if s.Assessment == nil || s.Decision == nil {
		se := &StageError{Stage: NodeHITLApproval, Fault: FaultOracle, Err: errNoDecision}
		return Update{Failure: se, Outputs: map[string]any{"error": se.Error()}}
	}
	d := *s.Decision
	in := map[string]any{"route": string(d.Route)}

	backstop := d.Route != datatypes.RouteHITLReview
	if backstop {
		d.Route = datatypes.RouteHITLReview
		d.Rationale = fmt.Sprintf("%s (risk %.2f, confidence %.2f) | %s",
			NoteHITLBackstop, s.Assessment.RiskScore, s.Assessment.Confidence, d.Rationale)
	}

	queued := false
	if e.review != nil {
		err := e.review.Enqueue(ctx, ReviewRequest{
			TraceID:    s.TraceID,
			Event:      s.Event,
			Assessment: *s.Assessment,
			Decision:   d,
		})
		if err != nil {
			e.eventLogger(ctx, s).Warn("review queue notification failed", slog.String("error", err.Error()))
		} else {
			queued = true
		}
	}

	return Update{
		Decision:  &d,
		Escalated: true,
		Inputs:    in,
		Outputs:   map[string]any{"route": string(d.Route), "backstop": backstop, "queued": queued},
	}
}

func (e *Engine) emitDecision(_ context.Context, s State) Update {
	if s.Assessment == nil || s.Decision == nil {
		se := &StageError{Stage: NodeEmitDecision, Fault: FaultOracle, Err: errNoDecision}
		return Update{Failure: se, Outputs: map[string]any{"error": se.Error()}}
	}
	a, d := *s.Assessment, *s.Decision

	status, message := datatypes.StatusMonitoring, NoAlertMessage
	if d.ShouldAlert {
		status = datatypes.StatusAlerted
		message = fmt.Sprintf("Likely ceiling breach in %ds: projected %.1fft vs ceiling %.1fft",
			e.thresholds.HorizonSeconds, a.PredictedAltitudeFt, a.CeilingFt)
	}
	if s.Escalated {
		message += EscalationSuffix
	}

	alert := d.ShouldAlert
	a.Route = d.Route
	a.ShouldAlert = &alert

	final := datatypes.AlertDecision{
		DroneID:     s.Event.DroneID,
		Status:      status,
		Message:     message,
		Route:       d.Route,
		RiskBand:    d.RiskBand,
		RiskScore:   a.RiskScore,
		Confidence:  a.Confidence,
		ShouldAlert: d.ShouldAlert,
		Rationale:   d.Rationale,
		Escalated:   s.Escalated,
	}
	return Update{
		Assessment: &a,
		Final:      &final,
		Inputs:     map[string]any{"route": string(d.Route), "should_alert": d.ShouldAlert},
		Outputs:    map[string]any{"status": string(status), "message": message},
	}
}

func (e *Engine) handleError(_ context.Context, s State) Update {
	final, a := errorDecision(s)
	return Update{
		Assessment: &a,
		Final:      &final,
		Inputs:     map[string]any{"error": s.ErrorMessage()},
		Outputs:    map[string]any{"status": string(final.Status), "route": string(final.Route)},
	}
}

// errorDecision builds the escalation returned for any failed event. It
// has no failure modes of its own.
func errorDecision(s State) (datatypes.AlertDecision, datatypes.RiskAssessment) {
	msg := s.ErrorMessage()
	if msg == "" {
		msg = "unknown error"
	}

	a := datatypes.RiskAssessment{RiskScore: 1.0, Confidence: 0.0}
	if s.Assessment != nil {
		a = *s.Assessment
	}
	alert := true
	a.Route = datatypes.RouteHITLReview
	a.ShouldAlert = &alert

	return datatypes.AlertDecision{
		DroneID:     s.Event.DroneID,
		Status:      datatypes.StatusError,
		Message:     fmt.Sprintf("Processing error (%s).%s", msg, EscalationSuffix),
		Route:       datatypes.RouteHITLReview,
		RiskBand:    datatypes.BandHigh,
		RiskScore:   1.0,
		Confidence:  0.0,
		ShouldAlert: true,
		Rationale:   ErrorRationale,
		Escalated:   true,
	}, a
}
