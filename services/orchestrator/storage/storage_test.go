// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var recordTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleRecord(traceID string) Record {
	return Record{
		TraceID: traceID,
		Event: datatypes.TelemetryEvent{
			DroneID:          "D-1001",
			Lat:              37.62,
			Lon:              -122.35,
			AltitudeFt:       280,
			VerticalSpeedFps: 3.5,
			TimestampISO:     "2025-06-01T12:00:00Z",
		},
		Decision: datatypes.AlertDecision{
			DroneID:     "D-1001",
			Status:      datatypes.StatusAlerted,
			Message:     "Likely ceiling breach in 8s: projected 308.0ft vs ceiling 300.0ft Escalated for human review.",
			Route:       datatypes.RouteHITLReview,
			RiskBand:    datatypes.BandHigh,
			RiskScore:   0.8908,
			Confidence:  0.6875,
			ShouldAlert: true,
			Rationale:   "Part 107 altitude limits apply [S1].",
			Escalated:   true,
		},
		Assessment:    datatypes.RiskAssessment{PredictedAltitudeFt: 308, CeilingFt: 300, RiskScore: 0.8908, Confidence: 0.6875},
		PolicyContext: []string{"[S1] [part107.pdf p.12] Maximum altitude is 400 feet AGL."},
		LatencyMs:     1.25,
		Trace: []datatypes.TraceStep{
			{Step: "assess_risk", Inputs: map[string]any{"drone_id": "D-1001"}, Outputs: map[string]any{"tool_rounds": 3}, DurationMs: 0.4},
			{Step: "emit_decision", Outputs: map[string]any{"status": "alerted"}, DurationMs: 0.1},
		},
		RecordedAt: recordTime,
	}
}

func openTestLog(t *testing.T) *DecisionLog {
	t.Helper()
	log, err := OpenDecisionLog(DecisionLogConfig{
		Path:   filepath.Join(t.TempDir(), "decisions.db"),
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestMultiSink(t *testing.T) {
	var got []string
	ok := SinkFunc(func(_ context.Context, rec Record) error {
		got = append(got, "ok:"+rec.TraceID)
		assert.False(t, rec.RecordedAt.IsZero())
		return nil
	})
	failing := SinkFunc(func(context.Context, Record) error {
		got = append(got, "failing")
		return errors.New("disk full")
	})

	m := NewMultiSink(quietLogger())
	m.Add("first", ok)
	m.Add("nil", nil)
	m.Add("second", failing)
	m.Add("third", ok)
	assert.Equal(t, 3, m.Len())

	rec := sampleRecord("t-1")
	rec.RecordedAt = time.Time{}
	err := m.Record(context.Background(), rec)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "second: disk full")
	assert.Equal(t, []string{"ok:t-1", "failing", "ok:t-1"}, got, "a failing sink does not stop the others")
}

func TestMultiSink_Empty(t *testing.T) {
	assert.NoError(t, NewMultiSink(nil).Record(context.Background(), sampleRecord("t-1")))
}
