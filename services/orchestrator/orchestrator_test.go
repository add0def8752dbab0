// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/config"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/graph"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/oracle"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/policy"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Setup
// =============================================================================

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DecisionDB = filepath.Join(t.TempDir(), "decisions.db")
	return &cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithRegistry(prometheus.NewRegistry())}, opts...)
	svc, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, svc.Close()) })
	return svc
}

func breachEvent() datatypes.TelemetryEvent {
	return datatypes.TelemetryEvent{
		DroneID:          "D-1001",
		Lat:              37.62,
		Lon:              -122.35,
		AltitudeFt:       280,
		VerticalSpeedFps: 3.5,
		TimestampISO:     "2025-06-01T12:00:00Z",
	}
}

func calmEvent() datatypes.TelemetryEvent {
	e := breachEvent()
	e.DroneID = "D-2040"
	e.AltitudeFt = 120
	e.VerticalSpeedFps = 0
	return e
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_NilConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}

func TestNew_OpenAIBackendNeedsKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Backend = config.BackendOpenAI

	_, err := New(context.Background(), cfg, WithRegistry(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrSecretNotSet)
}

func TestNew_OracleOverrideSkipsKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Backend = config.BackendOpenAI

	svc := newTestOrchestrator(t, cfg,
		WithOracles(oracle.RulesAssessor{}, oracle.RulesDecider{Thresholds: cfg.Thresholds}))
	res := svc.ProcessEvent(context.Background(), breachEvent(), false)
	assert.Equal(t, datatypes.RouteHITLReview, res.Decision.Route)
}

func TestRetrievalMode_Disabled(t *testing.T) {
	svc := newTestOrchestrator(t, testConfig(t))
	assert.Equal(t, "disabled", svc.RetrievalMode())
}

// =============================================================================
// Processing
// =============================================================================

func TestProcessEvent_BreachIsEscalatedAndPersisted(t *testing.T) {
	svc := newTestOrchestrator(t, testConfig(t))
	ctx := context.Background()

	res := svc.ProcessEvent(ctx, breachEvent(), true)

	assert.Equal(t, datatypes.RouteHITLReview, res.Decision.Route)
	assert.Equal(t, datatypes.StatusAlerted, res.Decision.Status)
	assert.True(t, res.Decision.Escalated)
	require.NotEmpty(t, res.TraceID)
	require.NotEmpty(t, res.Trace)

	stored, err := svc.traces.Get(ctx, res.TraceID)
	require.NoError(t, err)
	assert.Equal(t, "D-1001", stored.DroneID)
	assert.Len(t, stored.Steps, len(res.Trace))

	rows, err := svc.decisions.List(ctx, storage.DecisionQuery{DroneID: "D-1001"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, res.TraceID, rows[0].TraceID)
	assert.Equal(t, datatypes.RouteHITLReview, rows[0].Route)

	reviews, err := svc.decisions.ListReviews(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, res.TraceID, reviews[0].TraceID)
	assert.Equal(t, storage.ReviewPending, reviews[0].Outcome)

	var req graph.ReviewRequest
	require.NoError(t, json.Unmarshal(reviews[0].Payload, &req))
	assert.Equal(t, "D-1001", req.Event.DroneID)
}

func TestProcessEvent_NoTraceNotStored(t *testing.T) {
	svc := newTestOrchestrator(t, testConfig(t))
	ctx := context.Background()

	res := svc.ProcessEvent(ctx, calmEvent(), false)
	assert.Equal(t, datatypes.RouteMonitor, res.Decision.Route)
	assert.Equal(t, datatypes.StatusMonitoring, res.Decision.Status)

	_, err := svc.traces.Get(ctx, res.TraceID)
	assert.ErrorIs(t, err, storage.ErrTraceNotFound)

	reviews, err := svc.decisions.ListReviews(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestProcessEvent_WithoutDecisionLog(t *testing.T) {
	cfg := config.Default()
	svc := newTestOrchestrator(t, &cfg)

	res := svc.ProcessEvent(context.Background(), breachEvent(), false)
	assert.Equal(t, datatypes.RouteHITLReview, res.Decision.Route)
	assert.Nil(t, svc.decisions)
}

func TestProcessEvent_PolicyContextFromRetriever(t *testing.T) {
	retriever := policy.RetrieverFunc(func(context.Context, string, int) ([]datatypes.PolicySnippet, error) {
		return []datatypes.PolicySnippet{{Text: "Maximum altitude 400 ft AGL.", Source: "part107.pdf", Page: 12}}, nil
	})
	svc := newTestOrchestrator(t, testConfig(t), WithRetriever(retriever))

	res := svc.ProcessEvent(context.Background(), breachEvent(), false)
	require.Len(t, res.PolicyContext, 1)
	assert.Contains(t, res.PolicyContext[0], "[S1]")
	assert.Contains(t, res.Decision.Rationale, "[S1]")
}

func TestProcessEvent_SinkFailureKeepsDecision(t *testing.T) {
	svc := newTestOrchestrator(t, testConfig(t))
	svc.sinks.Add("broken", storage.SinkFunc(func(context.Context, storage.Record) error {
		return errors.New("disk full")
	}))

	res := svc.ProcessEvent(context.Background(), breachEvent(), false)
	assert.Equal(t, datatypes.StatusAlerted, res.Decision.Status)
}

// =============================================================================
// HTTP
// =============================================================================

func TestRouter_EventAndAudit(t *testing.T) {
	svc := newTestOrchestrator(t, testConfig(t))
	router := svc.Router()

	body, err := json.Marshal(breachEvent())
	require.NoError(t, err)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/events?include_trace=true", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "hitl_review", payload["route"])
	traceID, _ := payload["trace_id"].(string)
	require.NotEmpty(t, traceID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/traces/"+traceID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions?drone_id=D-1001", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), traceID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/reviews/"+traceID+"/resolve",
		strings.NewReader(`{"outcome":"approved","note":"ceiling confirmed"}`)))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/reviews?outcome=approved", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ceiling confirmed")
}

func TestRouter_ReviewTokenRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.Secrets.ReviewToken = config.NewSecret([]byte("operator-token"))
	svc := newTestOrchestrator(t, cfg)
	res := svc.ProcessEvent(context.Background(), breachEvent(), false)

	resolve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/reviews/"+res.TraceID+"/resolve",
			strings.NewReader(`{"outcome":"rejected"}`))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		svc.Router().ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, resolve("").Code)

	w := resolve("Bearer operator-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"trace_id":"`+res.TraceID+`","outcome":"rejected","reviewer":"operator"}`, w.Body.String())
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	svc := newTestOrchestrator(t, testConfig(t))
	svc.ProcessEvent(context.Background(), calmEvent(), false)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","policy_retrieval":"disabled"}`, w.Body.String())

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "altitude_")
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	svc := newTestOrchestrator(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
