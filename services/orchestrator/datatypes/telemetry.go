// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the value types exchanged between the decision
// graph, its oracles, the HTTP layer and the persistence sinks.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// telemetryValidate is the validator instance for inbound telemetry.
// Initialized in init() with custom validators.
var telemetryValidate *validator.Validate

func init() {
	telemetryValidate = validator.New()

	// rfc3339 accepts the timestamp layouts produced by the simulators and
	// the flight controllers (with or without fractional seconds).
	_ = telemetryValidate.RegisterValidation("rfc3339", validateRFC3339)
}

func validateRFC3339(fl validator.FieldLevel) bool {
	_, err := time.Parse(time.RFC3339, fl.Field().String())
	return err == nil
}

// TelemetryEvent is a single telemetry snapshot from one drone.
//
// # Description
//
// Events are immutable inputs to the decision graph. Weather fields are
// optional; a nil pointer means the reading was not reported.
//
// # Validation Rules
//
//   - DroneID: required
//   - Lat: -90..90, Lon: -180..180
//   - TimestampISO: RFC 3339
//   - Weather readings: non-negative when present
type TelemetryEvent struct {
	DroneID          string   `json:"drone_id" validate:"required,max=128"`
	Lat              float64  `json:"lat" validate:"gte=-90,lte=90"`
	Lon              float64  `json:"lon" validate:"gte=-180,lte=180"`
	AltitudeFt       float64  `json:"altitude_ft"`
	VerticalSpeedFps float64  `json:"vertical_speed_fps"`
	TimestampISO     string   `json:"timestamp_iso" validate:"required,rfc3339"`
	WindMps          *float64 `json:"wind_mps,omitempty" validate:"omitempty,gte=0"`
	GustMps          *float64 `json:"gust_mps,omitempty" validate:"omitempty,gte=0"`
	VisibilityKm     *float64 `json:"visibility_km,omitempty" validate:"omitempty,gte=0"`
}

// Validate checks the event against its struct tags.
func (e *TelemetryEvent) Validate() error {
	if err := telemetryValidate.Struct(e); err != nil {
		return fmt.Errorf("invalid telemetry event: %w", err)
	}
	return nil
}

// Timestamp parses TimestampISO. The zero time is returned when the field
// does not parse.
func (e TelemetryEvent) Timestamp() time.Time {
	ts, err := time.Parse(time.RFC3339, e.TimestampISO)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// HasWeather reports whether any weather reading is present.
func (e TelemetryEvent) HasWeather() bool {
	return e.WindMps != nil || e.GustMps != nil || e.VisibilityKm != nil
}

// Float64 returns a pointer to v. Used to populate optional weather fields.
func Float64(v float64) *float64 {
	return &v
}
