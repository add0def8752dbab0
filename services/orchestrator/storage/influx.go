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
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// DecisionMeasurement is the InfluxDB measurement written per decision.
const DecisionMeasurement = "altitude_decisions"

// InfluxSink writes one point per decision so dashboards can chart risk
// and status per drone over time.
type InfluxSink struct {
	writer api.WriteAPIBlocking
}

// NewInfluxSink writes to org/bucket through client.
func NewInfluxSink(client influxdb2.Client, org, bucket string) *InfluxSink {
	return &InfluxSink{writer: client.WriteAPIBlocking(org, bucket)}
}

// NewInfluxSinkWithWriter uses an existing blocking write API.
func NewInfluxSinkWithWriter(w api.WriteAPIBlocking) *InfluxSink {
	return &InfluxSink{writer: w}
}

// DecisionPoint converts a record into its InfluxDB point.
func DecisionPoint(rec Record) *write.Point {
	at := rec.RecordedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	d := rec.Decision
	return influxdb2.NewPoint(
		DecisionMeasurement,
		map[string]string{
			"drone_id":  d.DroneID,
			"status":    string(d.Status),
			"route":     string(d.Route),
			"risk_band": string(d.RiskBand),
		},
		map[string]interface{}{
			"risk_score":            d.RiskScore,
			"confidence":            d.Confidence,
			"predicted_altitude_ft": rec.Assessment.PredictedAltitudeFt,
			"ceiling_ft":            rec.Assessment.CeilingFt,
			"altitude_ft":           rec.Event.AltitudeFt,
			"vertical_speed_fps":    rec.Event.VerticalSpeedFps,
			"latency_ms":            rec.LatencyMs,
			"should_alert":          d.ShouldAlert,
			"escalated":             d.Escalated,
			"trace_id":              rec.TraceID,
		},
		at,
	)
}

// Record implements Sink.
func (s *InfluxSink) Record(ctx context.Context, rec Record) error {
	if err := s.writer.WritePoint(ctx, DecisionPoint(rec)); err != nil {
		return fmt.Errorf("write decision point: %w", err)
	}
	return nil
}

var _ Sink = (*InfluxSink)(nil)
