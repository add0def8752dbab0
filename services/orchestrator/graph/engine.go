// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph runs the altitude decision graph for one telemetry event.
//
// # Description
//
// The graph is fixed: assess_risk, retrieve_policy and decide_route run in
// order, then a routing predicate sends the state to hitl_approval (which
// continues to emit_decision), straight to emit_decision, or to
// handle_error. Every event produces exactly one AlertDecision. Stage
// failures are captured at the stage boundary and turned into an
// escalation; nothing is returned to the caller as an error.
//
// # Thread Safety
//
// An Engine holds only configuration and collaborators. Process may be
// called concurrently; each call owns its State.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AltitudeWarning/pkg/telemetry"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/guardrail"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/oracle"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/policy"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/recorder"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/tools"
)

var meter = otel.Meter("altitude.graph")

// ReviewRequest is sent to the ReviewQueue for every escalated event.
type ReviewRequest struct {
	TraceID    string                   `json:"trace_id"`
	Event      datatypes.TelemetryEvent `json:"event"`
	Assessment datatypes.RiskAssessment `json:"assessment"`
	Decision   datatypes.RouteDecision  `json:"decision"`
}

// ReviewQueue receives events that need a human decision.
type ReviewQueue interface {
	Enqueue(ctx context.Context, req ReviewRequest) error
}

// Observer is told about every stage and every finished event.
type Observer interface {
	ObserveStage(stage string, duration time.Duration, fault Fault)
	ObserveDecision(res Result)
}

// Config holds the engine's collaborators. Assessor and Decider are
// required; a nil Retriever means events are decided without policy
// context.
type Config struct {
	Assessor   oracle.AssessmentOracle
	Decider    oracle.DecisionOracle
	Retriever  policy.Retriever
	Tools      *tools.Registry
	Thresholds datatypes.Thresholds
	TopK       int
	Review     ReviewQueue
	Observers  []Observer
	Logger     *slog.Logger

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Result is everything Process reports about one event.
type Result struct {
	Decision      datatypes.AlertDecision
	Assessment    datatypes.RiskAssessment
	PolicyContext []string
	LatencyMs     float64

	// TraceID identifies the event even when the trace itself was not
	// recorded.
	TraceID     string
	Corrections []guardrail.Correction
	Trace       []datatypes.TraceStep
}

// Engine runs the decision graph.
type Engine struct {
	assessor   oracle.AssessmentOracle
	decider    oracle.DecisionOracle
	retriever  policy.Retriever
	tools      *tools.Registry
	thresholds datatypes.Thresholds
	topK       int
	review     ReviewQueue
	observers  []Observer
	logger     *slog.Logger
	tracer     trace.Tracer
	nodes      map[string]Node

	metricsOnce    sync.Once
	stageLatency   metric.Float64Histogram
	stageFailures  metric.Int64Counter
	decisions      metric.Int64Counter
	processLatency metric.Float64Histogram
}

// New validates cfg and builds an engine. Zero thresholds, TopK and Tools
// are replaced with defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Assessor == nil {
		return nil, fmt.Errorf("%w: assessment oracle", ErrMissingCollaborator)
	}
	if cfg.Decider == nil {
		return nil, fmt.Errorf("%w: decision oracle", ErrMissingCollaborator)
	}
	if cfg.Thresholds == (datatypes.Thresholds{}) {
		cfg.Thresholds = datatypes.DefaultThresholds()
	}
	if cfg.Thresholds.HorizonSeconds <= 0 {
		cfg.Thresholds.HorizonSeconds = tools.DefaultHorizonSeconds
	}
	if cfg.TopK <= 0 {
		cfg.TopK = policy.DefaultTopK
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry(cfg.Thresholds.HorizonSeconds)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}

	e := &Engine{
		assessor:   cfg.Assessor,
		decider:    cfg.Decider,
		retriever:  cfg.Retriever,
		tools:      cfg.Tools,
		thresholds: cfg.Thresholds,
		topK:       cfg.TopK,
		review:     cfg.Review,
		observers:  cfg.Observers,
		logger:     cfg.Logger,
		tracer:     cfg.TracerProvider.Tracer("altitude.graph"),
	}
	e.nodes = map[string]Node{
		NodeAssessRisk:     e.assessRisk,
		NodeRetrievePolicy: e.retrievePolicy,
		NodeDecideRoute:    e.decideRoute,
		NodeHITLApproval:   e.hitlApproval,
		NodeEmitDecision:   e.emitDecision,
		NodeHandleError:    e.handleError,
	}
	return e, nil
}

// Thresholds returns the review and alert thresholds in effect.
func (e *Engine) Thresholds() datatypes.Thresholds {
	return e.thresholds
}

type processOptions struct {
	trace bool
}

// ProcessOption configures a single Process call.
type ProcessOption func(*processOptions)

// WithTrace records per-stage trace steps and surfaces them, with the
// trace id, on the AlertDecision.
func WithTrace(enabled bool) ProcessOption {
	return func(o *processOptions) { o.trace = enabled }
}

func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		e.stageLatency, err = meter.Float64Histogram("altitude_stage_duration_seconds",
			metric.WithDescription("Time spent in each decision graph stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		e.stageFailures, err = meter.Int64Counter("altitude_stage_failure_total",
			metric.WithDescription("Stage failures by stage and fault class"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_failures: "+err.Error())
		}

		e.decisions, err = meter.Int64Counter("altitude_decisions_total",
			metric.WithDescription("Emitted decisions by status and route"),
		)
		if err != nil {
			initErrors = append(initErrors, "decisions: "+err.Error())
		}

		e.processLatency, err = meter.Float64Histogram("altitude_process_duration_seconds",
			metric.WithDescription("End-to-end time to decide one event"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "process_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some graph metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Process runs one event through the graph. It always returns a decision;
// ctx is passed to every collaborator and is the only way to bound latency.
func (e *Engine) Process(ctx context.Context, event datatypes.TelemetryEvent, opts ...ProcessOption) Result {
	var o processOptions
	for _, opt := range opts {
		opt(&o)
	}
	e.initMetrics()

	start := time.Now()
	state := State{Event: event, TraceID: uuid.NewString()}
	rec := recorder.New(o.trace)

	ctx, span := e.tracer.Start(ctx, "altitude.Process",
		trace.WithAttributes(
			attribute.String("altitude.trace_id", state.TraceID),
			attribute.String("altitude.drone_id", event.DroneID),
		),
	)
	defer span.End()

	for name := NodeAssessRisk; name != End; name = e.next(name, state) {
		state = e.runNode(ctx, name, state, rec)
	}

	if state.Final == nil {
		final, a := errorDecision(state)
		state.Final, state.Assessment = &final, &a
	}
	latency := time.Since(start)

	final := *state.Final
	if o.trace {
		final.TraceID = state.TraceID
		final.Trace = state.Trace
	}
	policyContext := state.PolicyContext
	if policyContext == nil {
		policyContext = []string{}
	}

	res := Result{
		Decision:      final,
		Assessment:    *state.Assessment,
		PolicyContext: policyContext,
		LatencyMs:     math.Round(float64(latency)/float64(time.Millisecond)*100) / 100,
		TraceID:       state.TraceID,
		Corrections:   state.Corrections,
		Trace:         state.Trace,
	}

	attrs := metric.WithAttributes(
		attribute.String("status", string(final.Status)),
		attribute.String("route", string(final.Route)),
	)
	if e.decisions != nil {
		e.decisions.Add(ctx, 1, attrs)
	}
	if e.processLatency != nil {
		e.processLatency.Record(ctx, latency.Seconds(), attrs)
	}
	for _, obs := range e.observers {
		obs.ObserveDecision(res)
	}

	span.SetAttributes(
		attribute.String("altitude.status", string(final.Status)),
		attribute.String("altitude.route", string(final.Route)),
	)
	if final.Status == datatypes.StatusError {
		span.SetStatus(codes.Error, state.ErrorMessage())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	e.eventLogger(ctx, state).Info("event decided",
		slog.String("status", string(final.Status)),
		slog.String("route", string(final.Route)),
		slog.String("risk_band", string(final.RiskBand)),
		slog.Bool("escalated", final.Escalated),
		slog.Float64("latency_ms", res.LatencyMs),
	)
	return res
}

// runNode executes one stage, recovering panics, and merges its update.
func (e *Engine) runNode(ctx context.Context, name string, s State, rec recorder.Recorder) State {
	ctx, span := e.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("graph.node", name),
			attribute.String("graph.trace_id", s.TraceID),
		),
	)
	defer span.End()

	stepStart := rec.Start()
	begin := time.Now()
	u := e.invoke(ctx, name, s)
	duration := time.Since(begin)

	var fault Fault
	if u.Failure != nil {
		fault = u.Failure.Fault
		telemetry.RecordError(span, u.Failure, attribute.String("graph.fault", string(fault)))
		e.eventLogger(ctx, s).Error("stage failed",
			slog.String("stage", name),
			slog.String("fault", string(fault)),
			slog.String("error", u.Failure.Error()),
		)
		if e.stageFailures != nil {
			e.stageFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("stage", name),
				attribute.String("fault", string(fault)),
			))
		}
	}
	if e.stageLatency != nil {
		e.stageLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("stage", name)))
	}
	for _, obs := range e.observers {
		obs.ObserveStage(name, duration, fault)
	}

	next := s.merge(u)
	next.Trace = rec.Record(s.Trace, name, u.Inputs, u.Outputs, stepStart)
	return next
}

func (e *Engine) invoke(ctx context.Context, name string, s State) (u Update) {
	defer func() {
		if r := recover(); r != nil {
			se := &StageError{Stage: name, Fault: FaultPanic, Err: fmt.Errorf("%v", r)}
			u = Update{Failure: se, Outputs: map[string]any{"error": se.Error()}}
		}
	}()
	return e.nodes[name](ctx, s)
}

// next is the graph's edge function.
func (e *Engine) next(from string, s State) string {
	switch from {
	case NodeAssessRisk:
		if s.Failure != nil {
			return NodeHandleError
		}
		return NodeRetrievePolicy
	case NodeRetrievePolicy:
		if s.Failure != nil {
			return NodeHandleError
		}
		return NodeDecideRoute
	case NodeDecideRoute:
		return routeTarget(Route(s, e.thresholds))
	case NodeHITLApproval:
		if s.Failure != nil {
			return NodeHandleError
		}
		return NodeEmitDecision
	case NodeEmitDecision:
		if s.Failure != nil {
			return NodeHandleError
		}
		return End
	default:
		return End
	}
}

// eventLogger annotates the engine logger with the event and, when ctx
// carries a span, the OTel trace.
func (e *Engine) eventLogger(ctx context.Context, s State) *slog.Logger {
	return telemetry.LoggerWithTrace(ctx, e.logger).With(
		slog.String("trace_id", s.TraceID),
		slog.String("drone_id", s.Event.DroneID),
	)
}
