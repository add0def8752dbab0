// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardrail normalizes route decisions proposed by the decision
// oracle before the graph acts on them.
//
// # Description
//
// The guard forces every field into its vocabulary and repairs the known
// inconsistency patterns. Repairs never make a decision less cautious:
// a HIGH band is escalated to human review rather than having its alert
// flag rewritten. Every repair is recorded as a prefix note on the
// rationale, keeping the original text as the suffix.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package guardrail

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// Rationale markers. None of them contains a citation token, so a note can
// never satisfy the citation check by itself.
const (
	NoRationale           = "no rationale provided"
	NoteHighRiskNoAlert   = "[guardrail] HIGH risk band without alert: escalated to human review"
	NoteHighRiskEscalated = "[guardrail] HIGH risk band requires human review: route overridden"
	NoteMissingCitation   = "[guardrail] missing citation: rationale does not reference the policy context"
	NoteApplied           = "[guardrail] applied: out-of-vocabulary fields normalized"

	noteSeparator = " | "
)

// Correction identifies one repair made by the guard.
type Correction string

const (
	CorrectionRiskBand    Correction = "risk_band"
	CorrectionRoute       Correction = "route"
	CorrectionShouldAlert Correction = "should_alert"
	CorrectionRationale   Correction = "rationale"
	CorrectionConsistency Correction = "consistency"
	CorrectionCitation    Correction = "citation"
)

var citationPattern = regexp.MustCompile(`\[S\d+\]`)

// HasCitation reports whether text contains a policy citation such as [S1].
func HasCitation(text string) bool {
	return citationPattern.MatchString(text)
}

// Guard returns the normalized form of raw. hasPolicyContext reports
// whether policy snippets were supplied to the oracle for this decision.
//
// Guard is idempotent: Guard(Guard(x).Raw(), c) == Guard(x, c).
func Guard(raw datatypes.RawDecision, hasPolicyContext bool) datatypes.RouteDecision {
	d, _ := Check(raw, hasPolicyContext)
	return d
}

// Check is Guard that also reports which repairs were made, in rule order.
func Check(raw datatypes.RawDecision, hasPolicyContext bool) (datatypes.RouteDecision, []Correction) {
	var corrections []Correction

	band := datatypes.RiskBand(raw.RiskBand)
	if !band.Valid() {
		band = datatypes.BandMed
		corrections = append(corrections, CorrectionRiskBand)
	}

	route := datatypes.Route(raw.Route)
	if !route.Valid() {
		route = datatypes.RouteMonitor
		corrections = append(corrections, CorrectionRoute)
	}

	shouldAlert, coerced := CoerceBool(raw.ShouldAlert)
	if coerced {
		corrections = append(corrections, CorrectionShouldAlert)
	}
	vocabularyRepaired := len(corrections) > 0

	rationale := strings.TrimSpace(raw.Rationale)
	if rationale == "" {
		rationale = NoRationale
		corrections = append(corrections, CorrectionRationale)
	}

	if band == datatypes.BandHigh {
		switch {
		case !shouldAlert:
			var noted bool
			rationale, noted = prependNote(rationale, NoteHighRiskNoAlert)
			if noted || route != datatypes.RouteHITLReview {
				corrections = append(corrections, CorrectionConsistency)
			}
			route = datatypes.RouteHITLReview
		case route != datatypes.RouteHITLReview:
			route = datatypes.RouteHITLReview
			rationale, _ = prependNote(rationale, NoteHighRiskEscalated)
			corrections = append(corrections, CorrectionConsistency)
		}
	}

	if hasPolicyContext && !HasCitation(rationale) {
		if prepended, ok := prependNote(rationale, NoteMissingCitation); ok {
			rationale = prepended
			corrections = append(corrections, CorrectionCitation)
		}
	}

	if vocabularyRepaired {
		rationale, _ = prependNote(rationale, NoteApplied)
	}

	return datatypes.RouteDecision{
		Route:       route,
		RiskBand:    band,
		ShouldAlert: shouldAlert,
		Rationale:   rationale,
	}, corrections
}

// prependNote adds note in front of rationale unless it is already there.
// The boolean reports whether the rationale changed.
func prependNote(rationale, note string) (string, bool) {
	if strings.Contains(rationale, note) {
		return rationale, false
	}
	return note + noteSeparator + rationale, true
}

// CoerceBool converts a loosely typed JSON value into a boolean. The second
// result reports whether a conversion was needed, i.e. v was not already
// a bool.
func CoerceBool(v any) (value bool, coerced bool) {
	switch t := v.(type) {
	case bool:
		return t, false
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true, true
		}
		return false, true
	case float64:
		return t != 0, true
	case float32:
		return t != 0, true
	case int:
		return t != 0, true
	case int64:
		return t != 0, true
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0, true
	default:
		return false, true
	}
}
