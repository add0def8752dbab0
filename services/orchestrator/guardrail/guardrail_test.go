// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guardrail

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

func TestGuard_Rules(t *testing.T) {
	tests := []struct {
		name            string
		raw             datatypes.RawDecision
		hasContext      bool
		wantRoute       datatypes.Route
		wantBand        datatypes.RiskBand
		wantAlert       bool
		wantPrefix      string
		wantSuffix      string
		wantCorrections []Correction
	}{
		{
			name:       "valid decision untouched",
			raw:        datatypes.RawDecision{Route: "monitor", RiskBand: "LOW", ShouldAlert: false, Rationale: "within ceiling [S1]"},
			hasContext: true,
			wantRoute:  datatypes.RouteMonitor, wantBand: datatypes.BandLow,
			wantPrefix: "within ceiling [S1]",
		},
		{
			name:      "unknown band becomes MED",
			raw:       datatypes.RawDecision{Route: "auto_notify", RiskBand: "SEVERE", ShouldAlert: true, Rationale: "r"},
			wantRoute: datatypes.RouteAutoNotify, wantBand: datatypes.BandMed, wantAlert: true,
			wantPrefix:      NoteApplied,
			wantSuffix:      "r",
			wantCorrections: []Correction{CorrectionRiskBand},
		},
		{
			name:      "lowercase band is out of vocabulary",
			raw:       datatypes.RawDecision{Route: "monitor", RiskBand: "low", ShouldAlert: false, Rationale: "r"},
			wantRoute: datatypes.RouteMonitor, wantBand: datatypes.BandMed,
			wantPrefix:      NoteApplied,
			wantCorrections: []Correction{CorrectionRiskBand},
		},
		{
			name:      "unknown route becomes monitor",
			raw:       datatypes.RawDecision{Route: "escalate", RiskBand: "MED", ShouldAlert: false, Rationale: "r"},
			wantRoute: datatypes.RouteMonitor, wantBand: datatypes.BandMed,
			wantPrefix:      NoteApplied,
			wantCorrections: []Correction{CorrectionRoute},
		},
		{
			name:      "string should_alert coerced",
			raw:       datatypes.RawDecision{Route: "auto_notify", RiskBand: "MED", ShouldAlert: "true", Rationale: "r"},
			wantRoute: datatypes.RouteAutoNotify, wantBand: datatypes.BandMed, wantAlert: true,
			wantPrefix:      NoteApplied,
			wantCorrections: []Correction{CorrectionShouldAlert},
		},
		{
			name:      "empty rationale replaced",
			raw:       datatypes.RawDecision{Route: "monitor", RiskBand: "LOW", ShouldAlert: false, Rationale: "   "},
			wantRoute: datatypes.RouteMonitor, wantBand: datatypes.BandLow,
			wantPrefix:      NoRationale,
			wantCorrections: []Correction{CorrectionRationale},
		},
		{
			name:      "HIGH without alert escalates and keeps alert false",
			raw:       datatypes.RawDecision{Route: "monitor", RiskBand: "HIGH", ShouldAlert: false, Rationale: "odd call"},
			wantRoute: datatypes.RouteHITLReview, wantBand: datatypes.BandHigh, wantAlert: false,
			wantPrefix:      NoteHighRiskNoAlert,
			wantSuffix:      "odd call",
			wantCorrections: []Correction{CorrectionConsistency},
		},
		{
			name:      "HIGH with alert on auto_notify is escalated",
			raw:       datatypes.RawDecision{Route: "auto_notify", RiskBand: "HIGH", ShouldAlert: true, Rationale: "breach"},
			wantRoute: datatypes.RouteHITLReview, wantBand: datatypes.BandHigh, wantAlert: true,
			wantPrefix:      NoteHighRiskEscalated,
			wantCorrections: []Correction{CorrectionConsistency},
		},
		{
			name:      "missing citation flagged only with context",
			raw:       datatypes.RawDecision{Route: "monitor", RiskBand: "LOW", ShouldAlert: false, Rationale: "fine"},
			hasContext: true,
			wantRoute:  datatypes.RouteMonitor, wantBand: datatypes.BandLow,
			wantPrefix:      NoteMissingCitation,
			wantCorrections: []Correction{CorrectionCitation},
		},
		{
			name:      "no context no citation check",
			raw:       datatypes.RawDecision{Route: "monitor", RiskBand: "LOW", ShouldAlert: false, Rationale: "fine"},
			wantRoute: datatypes.RouteMonitor, wantBand: datatypes.BandLow,
			wantPrefix: "fine",
		},
		{
			name:       "applied note is outermost",
			raw:        datatypes.RawDecision{Route: "bogus", RiskBand: "HIGH", ShouldAlert: nil, Rationale: ""},
			hasContext: true,
			wantRoute:  datatypes.RouteHITLReview, wantBand: datatypes.BandHigh, wantAlert: false,
			wantPrefix: NoteApplied + " | " + NoteMissingCitation + " | " + NoteHighRiskNoAlert + " | " + NoRationale,
			wantCorrections: []Correction{
				CorrectionRoute, CorrectionShouldAlert, CorrectionRationale, CorrectionConsistency, CorrectionCitation,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, corrections := Check(tt.raw, tt.hasContext)
			assert.Equal(t, tt.wantRoute, got.Route)
			assert.Equal(t, tt.wantBand, got.RiskBand)
			assert.Equal(t, tt.wantAlert, got.ShouldAlert)
			assert.True(t, strings.HasPrefix(got.Rationale, tt.wantPrefix), "rationale %q", got.Rationale)
			if tt.wantSuffix != "" {
				assert.True(t, strings.HasSuffix(got.Rationale, tt.wantSuffix), "rationale %q", got.Rationale)
			}
			assert.Equal(t, tt.wantCorrections, corrections)
		})
	}
}

// rawCorpus enumerates combinations of valid and invalid field values.
func rawCorpus() []datatypes.RawDecision {
	routes := []string{"auto_notify", "hitl_review", "monitor", "", "escalate"}
	bands := []string{"LOW", "MED", "HIGH", "", "high"}
	alerts := []any{true, false, "true", "no", 1.0, 0.0, nil, json.Number("1"), []string{"x"}}
	rationales := []string{"", "  ", "breach likely [S2]", "breach likely", NoteHighRiskNoAlert + " | pre-noted"}

	var out []datatypes.RawDecision
	for _, r := range routes {
		for _, b := range bands {
			for _, a := range alerts {
				for _, why := range rationales {
					out = append(out, datatypes.RawDecision{Route: r, RiskBand: b, ShouldAlert: a, Rationale: why})
				}
			}
		}
	}
	return out
}

func TestGuard_Idempotent(t *testing.T) {
	for _, hasContext := range []bool{false, true} {
		for i, raw := range rawCorpus() {
			once := Guard(raw, hasContext)
			twice := Guard(once.Raw(), hasContext)
			if diff := cmp.Diff(once, twice); diff != "" {
				t.Fatalf("case %d (context=%v, raw=%+v) not idempotent (-once +twice):\n%s", i, hasContext, raw, diff)
			}
		}
	}
}

func TestGuard_Invariants(t *testing.T) {
	for _, hasContext := range []bool{false, true} {
		for _, raw := range rawCorpus() {
			d, _ := Check(raw, hasContext)
			label := fmt.Sprintf("%+v context=%v", raw, hasContext)

			assert.True(t, d.Route.Valid(), label)
			assert.True(t, d.RiskBand.Valid(), label)
			assert.NotEmpty(t, strings.TrimSpace(d.Rationale), label)
			if d.RiskBand == datatypes.BandHigh {
				assert.Equal(t, datatypes.RouteHITLReview, d.Route, label)
			}
			if hasContext && !HasCitation(raw.Rationale) {
				assert.Contains(t, d.Rationale, NoteMissingCitation, label)
			}
			// Original content survives as the suffix.
			if trimmed := strings.TrimSpace(raw.Rationale); trimmed != "" {
				assert.True(t, strings.HasSuffix(d.Rationale, trimmed), label)
			}
		}
	}
}

func TestNotes_HaveNoCitation(t *testing.T) {
	for _, note := range []string{NoRationale, NoteHighRiskNoAlert, NoteHighRiskEscalated, NoteMissingCitation, NoteApplied} {
		assert.False(t, HasCitation(note), note)
	}
}

func TestHasCitation(t *testing.T) {
	assert.True(t, HasCitation("per [S1] and [S12]"))
	assert.False(t, HasCitation("per S1"))
	assert.False(t, HasCitation("per [S]"))
	assert.False(t, HasCitation("per [s1]"))
}

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		in          any
		want        bool
		wantCoerced bool
	}{
		{true, true, false},
		{false, false, false},
		{"TRUE", true, true},
		{" yes ", true, true},
		{"1", true, true},
		{"false", false, true},
		{"maybe", false, true},
		{1.0, true, true},
		{0.0, false, true},
		{3, true, true},
		{json.Number("0"), false, true},
		{nil, false, true},
		{map[string]any{}, false, true},
	}
	for _, tt := range tests {
		got, coerced := CoerceBool(tt.in)
		assert.Equal(t, tt.want, got, "%#v", tt.in)
		assert.Equal(t, tt.wantCoerced, coerced, "%#v", tt.in)
	}
}
