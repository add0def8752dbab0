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
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/guardrail"
)

// State is the record threaded through one pass of the graph. Nodes
// receive it by value and return an Update; only the engine merges.
type State struct {
	Event   datatypes.TelemetryEvent
	TraceID string

	Assessment    *datatypes.RiskAssessment
	PolicyContext []string
	Decision      *datatypes.RouteDecision
	Corrections   []guardrail.Correction
	Escalated     bool
	Final         *datatypes.AlertDecision

	// Failure is set by a failed stage and consumed by handle_error.
	Failure *StageError

	Trace []datatypes.TraceStep
}

// ErrorMessage returns the failure string, or "" when no stage failed.
func (s State) ErrorMessage() string {
	if s.Failure == nil {
		return ""
	}
	return s.Failure.Error()
}

// Update is the delta a node returns. Nil fields leave the state unchanged;
// a node clears the policy context by returning a non-nil empty slice.
type Update struct {
	Assessment    *datatypes.RiskAssessment
	PolicyContext []string
	Decision      *datatypes.RouteDecision
	Corrections   []guardrail.Correction
	Escalated     bool
	Final         *datatypes.AlertDecision
	Failure       *StageError

	// Inputs and Outputs are the trace snapshots for the step.
	Inputs  map[string]any
	Outputs map[string]any
}

// merge returns a new state with u applied.
func (s State) merge(u Update) State {
	if u.Assessment != nil {
		a := *u.Assessment
		s.Assessment = &a
	}
	if u.PolicyContext != nil {
		s.PolicyContext = append([]string{}, u.PolicyContext...)
	}
	if u.Decision != nil {
		d := *u.Decision
		s.Decision = &d
	}
	if u.Corrections != nil {
		s.Corrections = append([]guardrail.Correction(nil), u.Corrections...)
	}
	if u.Escalated {
		s.Escalated = true
	}
	if u.Final != nil {
		f := *u.Final
		s.Final = &f
	}
	if u.Failure != nil {
		s.Failure = u.Failure
	}
	return s
}
