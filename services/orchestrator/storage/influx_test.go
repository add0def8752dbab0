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
	"testing"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriteAPI struct {
	written []*write.Point
	err     error
}

func (m *mockWriteAPI) WritePoint(_ context.Context, point ...*write.Point) error {
	m.written = append(m.written, point...)
	return m.err
}

func (m *mockWriteAPI) WriteRecord(context.Context, ...string) error { return nil }
func (m *mockWriteAPI) EnableBatching()                              {}
func (m *mockWriteAPI) Flush(context.Context) error                  { return nil }

func TestDecisionPoint(t *testing.T) {
	p := DecisionPoint(sampleRecord("trace-1"))

	assert.Equal(t, DecisionMeasurement, p.Name())
	assert.True(t, recordTime.Equal(p.Time()))

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{
		"drone_id":  "D-1001",
		"status":    "alerted",
		"route":     "hitl_review",
		"risk_band": "HIGH",
	}, tags)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 0.8908, fields["risk_score"])
	assert.Equal(t, 308.0, fields["predicted_altitude_ft"])
	assert.Equal(t, true, fields["escalated"])
	assert.Equal(t, "trace-1", fields["trace_id"])
}

func TestInfluxSink_Record(t *testing.T) {
	w := &mockWriteAPI{}
	sink := NewInfluxSinkWithWriter(w)

	require.NoError(t, sink.Record(context.Background(), sampleRecord("trace-1")))
	assert.Len(t, w.written, 1)

	w.err = errors.New("unauthorized")
	err := sink.Record(context.Background(), sampleRecord("trace-2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}
