// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists processed events after the decision graph has
// produced them.
//
// Three sinks exist, each optional:
//
//	TraceStore   badger, trace id -> recorded steps, with TTL
//	DecisionLog  sqlite, one audit row per decision plus the review queue
//	InfluxSink   InfluxDB, one time-series point per decision
//
// Sinks never influence a decision. A MultiSink fans a Record out to all
// configured sinks and reports failures without stopping at the first one.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// Record is one processed event as seen by the sinks.
type Record struct {
	TraceID       string
	Event         datatypes.TelemetryEvent
	Decision      datatypes.AlertDecision
	Assessment    datatypes.RiskAssessment
	PolicyContext []string
	LatencyMs     float64
	Trace         []datatypes.TraceStep
	RecordedAt    time.Time
}

// Sink accepts processed events.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

type namedSink struct {
	name string
	sink Sink
}

// MultiSink writes each record to every registered sink in order.
//
// Thread Safety: Add must not race with Record. Record is safe for
// concurrent use when every registered sink is.
type MultiSink struct {
	sinks  []namedSink
	logger *slog.Logger
}

// NewMultiSink returns an empty fan-out sink.
func NewMultiSink(logger *slog.Logger) *MultiSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiSink{logger: logger.With(slog.String("component", "storage.multisink"))}
}

// Add registers sink under name. Nil sinks are ignored.
func (m *MultiSink) Add(name string, sink Sink) {
	if sink == nil {
		return
	}
	m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
}

// Len returns the number of registered sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Record implements Sink. Every sink is attempted; the returned error
// joins the individual failures, each prefixed with the sink name.
func (m *MultiSink) Record(ctx context.Context, rec Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Record(ctx, rec); err != nil {
			m.logger.Warn("sink write failed",
				slog.String("sink", s.name),
				slog.String("trace_id", rec.TraceID),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

var _ Sink = (*MultiSink)(nil)
