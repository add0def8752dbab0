// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "math"

// =============================================================================
// Vocabularies
// =============================================================================

// Route is the handling path chosen for an event.
type Route string

const (
	RouteAutoNotify Route = "auto_notify"
	RouteHITLReview Route = "hitl_review"
	RouteMonitor    Route = "monitor"
)

// Valid reports whether r is one of the known routes.
func (r Route) Valid() bool {
	switch r {
	case RouteAutoNotify, RouteHITLReview, RouteMonitor:
		return true
	}
	return false
}

// RiskBand is the coarse severity label attached to a decision.
type RiskBand string

const (
	BandLow  RiskBand = "LOW"
	BandMed  RiskBand = "MED"
	BandHigh RiskBand = "HIGH"
)

// Valid reports whether b is one of the known bands.
func (b RiskBand) Valid() bool {
	switch b {
	case BandLow, BandMed, BandHigh:
		return true
	}
	return false
}

// AlertStatus is the final disposition of an event.
type AlertStatus string

const (
	StatusAlerted    AlertStatus = "alerted"
	StatusMonitoring AlertStatus = "monitoring"
	StatusError      AlertStatus = "error"
)

// =============================================================================
// Assessment and decisions
// =============================================================================

// RiskAssessment is the numeric result of the assessment stage.
//
// RiskScore and Confidence are always within [0, 1] once the assessment
// stage returns. Route and ShouldAlert are filled in at emission time.
type RiskAssessment struct {
	PredictedAltitudeFt float64 `json:"predicted_altitude_ft"`
	CeilingFt           float64 `json:"ceiling_ft"`
	RiskScore           float64 `json:"risk_score"`
	Confidence          float64 `json:"confidence"`
	Route               Route   `json:"route,omitempty"`
	ShouldAlert         *bool   `json:"should_alert,omitempty"`
}

// Clamped returns a copy with RiskScore and Confidence forced into [0, 1].
func (a RiskAssessment) Clamped() RiskAssessment {
	a.RiskScore = Clamp01(a.RiskScore)
	a.Confidence = Clamp01(a.Confidence)
	return a
}

// Clamp01 bounds v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// RawDecision is a route decision as proposed by the decision oracle,
// before any normalization. ShouldAlert is deliberately untyped: oracles
// return booleans, strings and numbers interchangeably.
type RawDecision struct {
	Route       string `json:"route"`
	RiskBand    string `json:"risk_band"`
	ShouldAlert any    `json:"should_alert"`
	Rationale   string `json:"rationale"`
}

// RouteDecision is a guardrailed decision. Every field is guaranteed to be
// within its vocabulary.
type RouteDecision struct {
	Route       Route    `json:"route"`
	RiskBand    RiskBand `json:"risk_band"`
	ShouldAlert bool     `json:"should_alert"`
	Rationale   string   `json:"rationale"`
}

// Raw converts the decision back into oracle form.
func (d RouteDecision) Raw() RawDecision {
	return RawDecision{
		Route:       string(d.Route),
		RiskBand:    string(d.RiskBand),
		ShouldAlert: d.ShouldAlert,
		Rationale:   d.Rationale,
	}
}

// =============================================================================
// Output
// =============================================================================

// TraceStep records one executed graph stage.
type TraceStep struct {
	Step       string         `json:"step"`
	Inputs     map[string]any `json:"inputs"`
	Outputs    map[string]any `json:"outputs"`
	DurationMs float64        `json:"duration_ms"`
}

// AlertDecision is the single final record produced per event.
type AlertDecision struct {
	DroneID     string      `json:"drone_id"`
	Status      AlertStatus `json:"status"`
	Message     string      `json:"message"`
	Route       Route       `json:"route"`
	RiskBand    RiskBand    `json:"risk_band"`
	RiskScore   float64     `json:"risk_score"`
	Confidence  float64     `json:"confidence"`
	ShouldAlert bool        `json:"should_alert"`
	Rationale   string      `json:"rationale,omitempty"`
	Escalated   bool        `json:"hitl,omitempty"`
	TraceID     string      `json:"trace_id,omitempty"`
	Trace       []TraceStep `json:"trace,omitempty"`
}

// PolicySnippet is one retrieved chunk of regulatory text.
type PolicySnippet struct {
	ID           string  `json:"id"`
	Text         string  `json:"text"`
	Source       string  `json:"source"`
	Page         int     `json:"page"`
	ChunkIndex   int     `json:"chunk_index"`
	SectionTitle string  `json:"section_title,omitempty"`
	Structure    string  `json:"structure,omitempty"`
	Distance     float64 `json:"distance"`
}
