// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package simulator supplies telemetry scenarios for the CLI, the
// injection endpoint and tests.
package simulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// DefaultScenarioPath is checked when no scenario path is given.
const DefaultScenarioPath = "data/scenarios/altitude_breach.json"

// ErrInvalidEvent is wrapped for each event that fails validation.
var ErrInvalidEvent = errors.New("invalid scenario event")

// Scenario is the on-disk format.
type Scenario struct {
	Name   string                     `json:"name,omitempty"`
	Events []datatypes.TelemetryEvent `json:"events"`
}

// LoadScenario reads a scenario file and validates every event. A file
// with no events yields an empty slice.
func LoadScenario(path string) ([]datatypes.TelemetryEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario %s: %w", path, err)
	}
	for i := range sc.Events {
		if err := sc.Events[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w %d: %v", ErrInvalidEvent, i, err)
		}
	}
	if sc.Events == nil {
		sc.Events = []datatypes.TelemetryEvent{}
	}
	return sc.Events, nil
}

// DefaultEvents returns the built-in altitude breach scenario stamped with
// the current time.
func DefaultEvents() []datatypes.TelemetryEvent {
	return eventsAt(time.Now().UTC())
}

func eventsAt(now time.Time) []datatypes.TelemetryEvent {
	ts := now.Format(time.RFC3339Nano)
	return []datatypes.TelemetryEvent{
		{DroneID: "D-1001", Lat: 37.62, Lon: -122.35, AltitudeFt: 280.0, VerticalSpeedFps: 3.5, TimestampISO: ts},
		{DroneID: "D-1001", Lat: 37.62, Lon: -122.35, AltitudeFt: 288.0, VerticalSpeedFps: 3.0, TimestampISO: ts},
	}
}

// Resolve returns the events for an optional scenario path. An explicit
// path must load. With no path, DefaultScenarioPath is used when present
// and the built-in events otherwise.
func Resolve(path string) ([]datatypes.TelemetryEvent, error) {
	if path != "" {
		return LoadScenario(path)
	}
	if _, err := os.Stat(DefaultScenarioPath); err == nil {
		return LoadScenario(DefaultScenarioPath)
	}
	return DefaultEvents(), nil
}
