// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the decision
// orchestrator.
//
// # Description
//
// DecisionMetrics implements graph.Observer, so the engine reports every
// stage and every emitted decision without depending on Prometheus.
// Metrics include:
//   - Decisions by status and route
//   - Stage latency and stage failures by fault class
//   - Escalations and guardrail corrections
//   - Sink write failures and in-flight events (recorded by the service)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/graph"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace  = "altitude"
	decisionSubsystem = "orchestrator"
)

// DecisionMetrics holds the Prometheus collectors for event processing.
//
// # Fields
//
//   - DecisionsTotal: decisions by status and route
//   - StageDurationSeconds: per-stage latency
//   - StageFailuresTotal: stage failures by stage and fault
//   - ProcessDurationSeconds: end-to-end latency per event
//   - RiskScore: distribution of emitted risk scores
//   - EscalationsTotal: decisions sent to human review
//   - CorrectionsTotal: guardrail repairs by kind
//   - SinkFailuresTotal: persistence failures by sink
//   - InFlightEvents: events currently being processed
type DecisionMetrics struct {
	DecisionsTotal         *prometheus.CounterVec
	StageDurationSeconds   *prometheus.HistogramVec
	StageFailuresTotal     *prometheus.CounterVec
	ProcessDurationSeconds prometheus.Histogram
	RiskScore              prometheus.Histogram
	EscalationsTotal       prometheus.Counter
	CorrectionsTotal       *prometheus.CounterVec
	SinkFailuresTotal      *prometheus.CounterVec
	InFlightEvents         prometheus.Gauge
}

// NewDecisionMetrics creates the collectors and registers them with reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in the service and a fresh
// prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if the collectors are already registered with reg.
func NewDecisionMetrics(reg prometheus.Registerer) *DecisionMetrics {
	factory := promauto.With(reg)
	return &DecisionMetrics{
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "decisions_total",
				Help:      "Total emitted decisions by status and route",
			},
			[]string{"status", "route"},
		),
		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each decision graph stage",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),
		StageFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "stage_failures_total",
				Help:      "Stage failures by stage and fault class",
			},
			[]string{"stage", "fault"},
		),
		ProcessDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "process_duration_seconds",
				Help:      "End-to-end time to decide one telemetry event",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		RiskScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "risk_score",
				Help:      "Distribution of emitted risk scores",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		EscalationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "escalations_total",
				Help:      "Decisions escalated for human review",
			},
		),
		CorrectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "guardrail_corrections_total",
				Help:      "Guardrail repairs applied to raw decisions by kind",
			},
			[]string{"correction"},
		),
		SinkFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "sink_failures_total",
				Help:      "Failed writes to persistence sinks",
			},
			[]string{"sink"},
		),
		InFlightEvents: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "in_flight_events",
				Help:      "Telemetry events currently being processed",
			},
		),
	}
}

// =============================================================================
// graph.Observer
// =============================================================================

// ObserveStage implements graph.Observer.
func (m *DecisionMetrics) ObserveStage(stage string, duration time.Duration, fault graph.Fault) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
	if fault != "" {
		m.StageFailuresTotal.WithLabelValues(stage, string(fault)).Inc()
	}
}

// ObserveDecision implements graph.Observer.
func (m *DecisionMetrics) ObserveDecision(res graph.Result) {
	if m == nil {
		return
	}
	d := res.Decision
	m.DecisionsTotal.WithLabelValues(string(d.Status), string(d.Route)).Inc()
	m.ProcessDurationSeconds.Observe(res.LatencyMs / 1000)
	m.RiskScore.Observe(d.RiskScore)
	if d.Escalated {
		m.EscalationsTotal.Inc()
	}
	for _, c := range res.Corrections {
		m.CorrectionsTotal.WithLabelValues(string(c)).Inc()
	}
}

// =============================================================================
// Service-level recording
// =============================================================================

// RecordSinkFailure counts one failed persistence write.
func (m *DecisionMetrics) RecordSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailuresTotal.WithLabelValues(sink).Inc()
}

// EventStarted increments the in-flight gauge. Pair with EventEnded.
func (m *DecisionMetrics) EventStarted() {
	if m == nil {
		return
	}
	m.InFlightEvents.Inc()
}

// EventEnded decrements the in-flight gauge.
func (m *DecisionMetrics) EventEnded() {
	if m == nil {
		return
	}
	m.InFlightEvents.Dec()
}

var _ graph.Observer = (*DecisionMetrics)(nil)
