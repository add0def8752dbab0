// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

func TestRecorder_Disabled(t *testing.T) {
	r := New(false)
	assert.False(t, r.Enabled())

	trace := r.Record(nil, "assess_risk", map[string]any{"a": 1}, nil, time.Now())
	assert.Nil(t, trace)

	existing := []datatypes.TraceStep{{Step: "x"}}
	assert.Equal(t, existing, r.Record(existing, "y", nil, nil, time.Now()))

	var zero Recorder
	assert.Nil(t, zero.Record(nil, "z", nil, nil, time.Now()))
}

func TestRecorder_AppendsWithoutAliasing(t *testing.T) {
	r := New(true)

	first := r.Record(nil, "assess_risk", map[string]any{"drone_id": "D-1"}, map[string]any{"risk": 0.9}, r.Start())
	require.Len(t, first, 1)

	// Give the first slice spare capacity to expose aliasing bugs.
	withCap := make([]datatypes.TraceStep, 1, 8)
	copy(withCap, first)

	a := r.Record(withCap, "retrieve_policy", nil, nil, r.Start())
	b := r.Record(withCap, "decide_route", nil, nil, r.Start())

	require.Len(t, a, 2)
	require.Len(t, b, 2)
	assert.Equal(t, "retrieve_policy", a[1].Step)
	assert.Equal(t, "decide_route", b[1].Step)
	assert.Len(t, withCap, 1)
}

func TestRecorder_Duration(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := Recorder{enabled: true, now: func() time.Time { return base }}

	trace := r.Record(nil, "slow", nil, nil, base.Add(-1234567*time.Nanosecond))
	assert.Equal(t, 1.23, trace[0].DurationMs)

	// Start in the future: skew must not produce a negative duration.
	trace = r.Record(nil, "skewed", nil, nil, base.Add(time.Second))
	assert.Equal(t, 0.0, trace[0].DurationMs)
}

func TestDurationMs(t *testing.T) {
	assert.Equal(t, 0.0, durationMs(-time.Millisecond))
	assert.Equal(t, 2.5, durationMs(2500*time.Microsecond))
	assert.Equal(t, 0.01, durationMs(7*time.Microsecond))
}
