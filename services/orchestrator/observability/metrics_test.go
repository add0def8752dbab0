// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/graph"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/guardrail"
)

// newTestMetrics uses an isolated registry so tests never collide with
// the global one.
func newTestMetrics(t *testing.T) (*DecisionMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewDecisionMetrics(reg), reg
}

func TestNewDecisionMetrics_Registers(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.EventStarted()
	m.RecordSinkFailure("decision_log")
	m.StageFailuresTotal.WithLabelValues("assess_risk", "ToolFault").Inc()

	n, err := testutil.GatherAndCount(reg,
		"altitude_orchestrator_in_flight_events",
		"altitude_orchestrator_sink_failures_total",
		"altitude_orchestrator_stage_failures_total",
	)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Panics(t, func() { NewDecisionMetrics(reg) }, "duplicate registration")
}

func TestObserveStage(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveStage(graph.NodeAssessRisk, 20*time.Millisecond, "")
	m.ObserveStage(graph.NodeDecideRoute, 5*time.Millisecond, graph.FaultOracleParse)

	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDurationSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailuresTotal.WithLabelValues("decide_route", "OracleParseFault")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageFailuresTotal))
}

func TestObserveDecision(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveDecision(graph.Result{
		Decision: datatypes.AlertDecision{
			Status:    datatypes.StatusAlerted,
			Route:     datatypes.RouteHITLReview,
			RiskScore: 0.89,
			Escalated: true,
		},
		LatencyMs:   12.5,
		Corrections: []guardrail.Correction{guardrail.CorrectionConsistency, guardrail.CorrectionCitation},
	})
	m.ObserveDecision(graph.Result{
		Decision: datatypes.AlertDecision{Status: datatypes.StatusMonitoring, Route: datatypes.RouteMonitor, RiskScore: 0.1},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("alerted", "hitl_review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("monitoring", "monitor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CorrectionsTotal.WithLabelValues("citation")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.CorrectionsTotal))
}

func TestInFlightEvents(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.EventStarted()
	m.EventStarted()
	m.EventEnded()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlightEvents))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *DecisionMetrics
	assert.NotPanics(t, func() {
		m.ObserveStage("assess_risk", time.Millisecond, graph.FaultTool)
		m.ObserveDecision(graph.Result{})
		m.RecordSinkFailure("influx")
		m.EventStarted()
		m.EventEnded()
	})
}
