// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools implements the deterministic calculators the assessment
// oracle may call: ceiling lookup, trajectory projection, risk scoring and
// visibility impact.
//
// All functions are pure. The Registry exposes them to the oracle by name
// with JSON arguments and JSON results.
package tools

import (
	"fmt"
	"math"
)

// DefaultHorizonSeconds is the projection horizon used when the caller does
// not provide one.
const DefaultHorizonSeconds = 8

// Ceiling returns the simulated altitude ceiling in feet for a location.
// The controlled pocket north-west of (37.6, -122.2) is capped at 300 ft;
// everywhere else uses the 400 ft Part 107 limit.
func Ceiling(lat, lon float64) float64 {
	if lat > 37.6 && lon < -122.2 {
		return 300.0
	}
	return 400.0
}

// Trajectory projects altitude forward assuming a constant vertical speed.
func Trajectory(currentAltitudeFt, verticalSpeedFps float64, horizonSeconds int) float64 {
	return currentAltitudeFt + verticalSpeedFps*float64(horizonSeconds)
}

// Risk scores a projected altitude against a ceiling.
//
// A projection above the ceiling always scores at least 0.82. Climbing
// increases both risk and confidence; descending does not reduce them.
// Both outputs are within [0, 1].
func Risk(predictedAltitudeFt, ceilingFt, verticalSpeedFps float64) (riskScore, confidence float64) {
	if ceilingFt <= 0 {
		return 1.0, 0.3
	}

	marginRatio := (predictedAltitudeFt - ceilingFt) / ceilingFt
	climbFactor := math.Max(verticalSpeedFps, 0) / 10.0

	if predictedAltitudeFt > ceilingFt {
		riskScore = clamp(0.82 + math.Min(0.15, marginRatio*2.0) + 0.05*climbFactor)
	} else {
		riskScore = clamp(0.55 + marginRatio + 0.2*climbFactor)
	}
	confidence = clamp(0.6 + 0.25*climbFactor)
	return riskScore, confidence
}

// VisibilityImpact classifies how visibility affects flight safety.
type VisibilityImpact struct {
	Impact              string  `json:"impact"`
	VisibilityKm        float64 `json:"visibility_km"`
	ConfidenceReduction float64 `json:"confidence_reduction"`
	Guidance            string  `json:"guidance"`
}

// Visibility maps a visibility reading to an impact class and the
// confidence penalty the assessor should apply.
func Visibility(visibilityKm float64) VisibilityImpact {
	var impact string
	var reduction float64
	switch {
	case visibilityKm < 1.0:
		impact, reduction = "critical", 0.35
	case visibilityKm < 3.0:
		impact, reduction = "poor", 0.20
	case visibilityKm < 5.0:
		impact, reduction = "marginal", 0.10
	default:
		impact, reduction = "good", 0.0
	}
	return VisibilityImpact{
		Impact:              impact,
		VisibilityKm:        visibilityKm,
		ConfidenceReduction: reduction,
		Guidance: fmt.Sprintf("Visibility %gkm classified as %s. Apply %.0f%% confidence penalty.",
			visibilityKm, impact, reduction*100),
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
