// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recorder builds the per-event execution trace.
package recorder

import (
	"math"
	"time"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// Recorder appends timed steps to a trace. The zero value is disabled.
//
// Thread Safety: Recorder holds no mutable state and is safe for
// concurrent use.
type Recorder struct {
	enabled bool
	now     func() time.Time
}

// New returns a recorder. A disabled recorder never allocates.
func New(enabled bool) Recorder {
	return Recorder{enabled: enabled, now: time.Now}
}

// Enabled reports whether steps are being recorded.
func (r Recorder) Enabled() bool {
	return r.enabled
}

// Start returns the timestamp to pass to Record for a step beginning now.
func (r Recorder) Start() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

// Record returns trace with one more step appended.
//
// When disabled, trace is returned unchanged. When enabled, the result is
// a fresh slice; the caller's slice is never written to, so earlier
// snapshots of the trace stay valid.
func (r Recorder) Record(
	trace []datatypes.TraceStep,
	step string,
	inputs, outputs map[string]any,
	start time.Time,
) []datatypes.TraceStep {
	if !r.enabled {
		return trace
	}
	out := make([]datatypes.TraceStep, len(trace), len(trace)+1)
	copy(out, trace)
	return append(out, datatypes.TraceStep{
		Step:       step,
		Inputs:     inputs,
		Outputs:    outputs,
		DurationMs: durationMs(r.Start().Sub(start)),
	})
}

// durationMs converts d to milliseconds rounded to two decimals. Clock
// skew can make d negative; that is reported as zero.
func durationMs(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
