// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers of the altitude
// orchestrator. Each constructor takes the collaborators it needs and
// returns a gin.HandlerFunc; routes.SetupRoutes wires them together.
package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/graph"
)

// EventProcessor decides one event and records it in the configured sinks.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event datatypes.TelemetryEvent, includeTrace bool) graph.Result
}

// DecisionPayload is the API view of a processed event.
type DecisionPayload struct {
	DroneID             string                `json:"drone_id"`
	Route               datatypes.Route       `json:"route"`
	Status              datatypes.AlertStatus `json:"status"`
	Message             string                `json:"message"`
	RiskBand            datatypes.RiskBand    `json:"risk_band"`
	Rationale           string                `json:"rationale"`
	ShouldAlert         bool                  `json:"should_alert"`
	Escalated           bool                  `json:"hitl"`
	RiskScore           float64               `json:"risk_score"`
	Confidence          float64               `json:"confidence"`
	PredictedAltitudeFt float64               `json:"predicted_altitude_ft"`
	CeilingFt           float64               `json:"ceiling_ft"`
	LatencyMs           float64               `json:"latency_ms"`
	TraceID             string                `json:"trace_id,omitempty"`
	Trace               []datatypes.TraceStep `json:"trace,omitempty"`
}

// NewDecisionPayload rounds scores to 3 places, the projection to 1 and
// latency to 2. Trace fields are only filled when includeTrace is set.
func NewDecisionPayload(res graph.Result, includeTrace bool) DecisionPayload {
	d := res.Decision
	p := DecisionPayload{
		DroneID:             d.DroneID,
		Route:               d.Route,
		Status:              d.Status,
		Message:             d.Message,
		RiskBand:            d.RiskBand,
		Rationale:           d.Rationale,
		ShouldAlert:         d.ShouldAlert,
		Escalated:           d.Escalated,
		RiskScore:           round(d.RiskScore, 3),
		Confidence:          round(d.Confidence, 3),
		PredictedAltitudeFt: round(res.Assessment.PredictedAltitudeFt, 1),
		CeilingFt:           res.Assessment.CeilingFt,
		LatencyMs:           round(res.LatencyMs, 2),
	}
	if includeTrace {
		p.TraceID = d.TraceID
		if p.TraceID == "" {
			p.TraceID = res.TraceID
		}
		p.Trace = d.Trace
	}
	return p
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// errorResponse writes the standard {"error": ...} body.
func errorResponse(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

var errBadBool = errors.New("must be true or false")

// boolQuery parses an optional boolean query parameter.
func boolQuery(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errBadBool
	}
	return v, nil
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return v, nil
}

// HandleEvent decides one posted TelemetryEvent.
//
// POST /v1/events?include_trace=bool
//
// Responds 400 for malformed or invalid events. Decision failures are not
// HTTP errors: the graph always produces a decision, with status "error"
// when a stage failed.
func HandleEvent(proc EventProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeTrace, err := boolQuery(c, "include_trace")
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "include_trace "+err.Error())
			return
		}
		var event datatypes.TelemetryEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if err := event.Validate(); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		res := proc.ProcessEvent(c.Request.Context(), event, includeTrace)
		c.JSON(http.StatusOK, NewDecisionPayload(res, includeTrace))
	}
}
