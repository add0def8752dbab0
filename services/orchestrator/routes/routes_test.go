// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/config"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/graph"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/middleware"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

type stubProcessor struct{}

func (stubProcessor) ProcessEvent(_ context.Context, e datatypes.TelemetryEvent, _ bool) graph.Result {
	return graph.Result{Decision: datatypes.AlertDecision{
		DroneID: e.DroneID,
		Status:  datatypes.StatusMonitoring,
		Route:   datatypes.RouteMonitor,
	}}
}

func TestSetupRoutes_Registered(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{Processor: stubProcessor{}})

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/events"},
		{"GET", "/v1/sim/inject/altitude-breach"},
		{"GET", "/v1/traces/:traceId"},
		{"GET", "/v1/decisions"},
		{"GET", "/v1/reviews"},
		{"POST", "/v1/reviews/:traceId/resolve"},
	}

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, e := range expected {
		assert.True(t, registered[e.method+" "+e.path], "route %s %s not registered", e.method, e.path)
	}
}

func TestSetupRoutes_DisabledStores(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{Processor: stubProcessor{}})

	for _, path := range []string{"/v1/traces/abc", "/v1/decisions", "/v1/reviews"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestSetupRoutes_EventRoundTrip(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{Processor: stubProcessor{}})

	body := `{"drone_id":"D-7","lat":10,"lon":10,"altitude_ft":100,"vertical_speed_fps":0,"timestamp_iso":"2025-06-01T12:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"drone_id":"D-7"`)
	assert.Contains(t, w.Body.String(), `"status":"monitoring"`)
}

func TestSetupRoutes_Metrics(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{
		Processor: stubProcessor{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("altitude_orchestrator_decisions_total 3\n"))
		}),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "decisions_total")
}

func TestSetupRoutes_ReviewAuth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{
		Processor:  stubProcessor{},
		ReviewAuth: middleware.StaticToken{Name: "operator", Token: config.NewSecret([]byte("tok"))},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/reviews", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/reviews", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	// Authenticated, but no review store is configured.
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader("{}")))
	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
}
