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

// Thresholds holds every numeric decision boundary. The HITL pair is read
// both by the routing backstop and by the oracle prompt text, so the two
// can never disagree.
type Thresholds struct {
	// HITLRisk and HITLConfidence define the backstop: risk strictly above
	// HITLRisk with confidence strictly below HITLConfidence is always sent
	// to human review.
	HITLRisk       float64 `yaml:"hitl_risk" json:"hitl_risk" validate:"gte=0,lte=1"`
	HITLConfidence float64 `yaml:"hitl_confidence" json:"hitl_confidence" validate:"gte=0,lte=1"`

	// AlertRisk is the risk at or above which the rules oracle alerts.
	AlertRisk float64 `yaml:"alert_risk" json:"alert_risk" validate:"gte=0,lte=1"`
	// AutoNotifyConfidence is the confidence at or above which an alert is
	// sent without review.
	AutoNotifyConfidence float64 `yaml:"auto_notify_confidence" json:"auto_notify_confidence" validate:"gte=0,lte=1"`

	// HorizonSeconds is the trajectory projection window.
	HorizonSeconds int `yaml:"horizon_seconds" json:"horizon_seconds" validate:"gt=0"`
}

// DefaultThresholds returns the production boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HITLRisk:             0.7,
		HITLConfidence:       0.6,
		AlertRisk:            0.80,
		AutoNotifyConfidence: 0.75,
		HorizonSeconds:       8,
	}
}

// RequiresReview reports whether the backstop escalates this score pair.
func (t Thresholds) RequiresReview(riskScore, confidence float64) bool {
	return riskScore > t.HITLRisk && confidence < t.HITLConfidence
}
