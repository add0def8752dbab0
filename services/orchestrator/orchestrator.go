// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the altitude decision service together.
//
// An Orchestrator owns the decision graph, its oracles and policy
// retriever, the persistence sinks, the metrics and the HTTP router. The
// graph decides; the Orchestrator records what was decided. Persistence
// never changes a decision.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	svc, err := orchestrator.New(ctx, cfg, orchestrator.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	return svc.Run(ctx)
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/config"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/graph"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/middleware"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/observability"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/oracle"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/policy"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/routes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/simulator"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/storage"
)

// sinkTimeout bounds the persistence writes that follow each decision.
const sinkTimeout = 5 * time.Second

// =============================================================================
// Options
// =============================================================================

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	assessor   oracle.AssessmentOracle
	decider    oracle.DecisionOracle
	retriever  policy.Retriever
}

// Option customises New.
type Option func(*options)

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry registers metrics on reg and serves /metrics from it
// instead of the default Prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// WithOracles replaces the oracles chosen by the configured backend.
func WithOracles(a oracle.AssessmentOracle, d oracle.DecisionOracle) Option {
	return func(o *options) { o.assessor, o.decider = a, d }
}

// WithRetriever replaces the Weaviate retriever.
func WithRetriever(r policy.Retriever) Option {
	return func(o *options) { o.retriever = r }
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator is the running decision service.
//
// # Thread Safety
//
// ProcessEvent is safe for concurrent use. Close must be called once.
type Orchestrator struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *graph.Engine
	metrics *observability.DecisionMetrics
	sinks   *storage.MultiSink
	router  *gin.Engine

	chat        *llm.OpenAIClient
	policyStore *policy.Store
	tracker     *policy.Tracker
	badger      *storage.BadgerDB
	traces      *storage.TraceStore
	decisions   *storage.DecisionLog
	retention   *storage.RetentionScheduler
	influx      influxdb2.Client
}

// New builds every component named by cfg.
//
// # Description
//
// Components are created in dependency order: oracles, policy retrieval,
// metrics, sinks, the review queue, the engine, then the router. Optional
// components whose configuration is empty are skipped. On error everything
// created so far is released.
//
// ctx bounds startup only; background jobs are stopped by Close.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Orchestrator, err error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: nil config")
	}
	o := options{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	s := &Orchestrator{cfg: cfg, logger: o.logger.With(slog.String("component", "orchestrator"))}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if err := s.initLLM(o); err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	assessor, decider := s.oracles(o)

	retriever := o.retriever
	if retriever == nil {
		if retriever, err = s.initPolicy(); err != nil {
			return nil, fmt.Errorf("init policy retrieval: %w", err)
		}
	}

	s.metrics = observability.NewDecisionMetrics(o.registerer)

	if err := s.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	var review graph.ReviewQueue
	if s.decisions != nil {
		review = reviewQueue{log: s.decisions}
	}

	engineCfg := graph.Config{
		Assessor:   assessor,
		Decider:    decider,
		Thresholds: cfg.Thresholds,
		TopK:       cfg.Policy.TopK,
		Review:     review,
		Observers:  []graph.Observer{s.metrics},
		Logger:     o.logger,
	}
	if retriever != nil {
		engineCfg.Retriever = retriever
	}
	if s.engine, err = graph.New(engineCfg); err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	s.initRouter(o.gatherer)
	return s, nil
}

// initLLM creates the OpenAI client when the backend or policy embeddings
// need it.
func (s *Orchestrator) initLLM(o options) error {
	needChat := s.cfg.LLM.Backend == config.BackendOpenAI && (o.assessor == nil || o.decider == nil)
	needEmbed := s.cfg.Policy.WeaviateURL != "" && o.retriever == nil
	if !needChat && !needEmbed {
		return nil
	}
	key, err := s.cfg.Secrets.OpenAIKey.Reveal()
	if err != nil {
		return fmt.Errorf("openai api key: %w", err)
	}
	s.chat, err = llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:            key,
		Model:             s.cfg.LLM.Model,
		EmbeddingModel:    s.cfg.LLM.EmbeddingModel,
		BaseURL:           s.cfg.LLM.BaseURL,
		RequestsPerSecond: s.cfg.LLM.RequestsPerSecond,
		Burst:             s.cfg.LLM.Burst,
		Logger:            o.logger,
	})
	return err
}

func (s *Orchestrator) oracles(o options) (oracle.AssessmentOracle, oracle.DecisionOracle) {
	assessor, decider := o.assessor, o.decider
	if s.cfg.LLM.Backend == config.BackendOpenAI && s.chat != nil {
		if assessor == nil {
			assessor = oracle.NewChatAssessor(s.chat)
		}
		if decider == nil {
			decider = oracle.NewChatDecider(s.chat, s.cfg.Thresholds)
		}
	}
	if assessor == nil {
		assessor = oracle.RulesAssessor{}
	}
	if decider == nil {
		decider = oracle.RulesDecider{Thresholds: s.cfg.Thresholds}
	}
	s.logger.Info("Decision oracles configured",
		slog.String("backend", s.cfg.LLM.Backend),
		slog.String("assessor", fmt.Sprintf("%T", assessor)),
		slog.String("decider", fmt.Sprintf("%T", decider)))
	return assessor, decider
}

// initPolicy connects the Weaviate retriever. An empty URL returns a nil
// retriever and events are decided without policy context.
func (s *Orchestrator) initPolicy() (policy.Retriever, error) {
	if s.cfg.Policy.WeaviateURL == "" {
		s.logger.Info("WEAVIATE_SERVICE_URL not set, deciding without policy context")
		return nil, nil
	}
	storeCfg := policy.DefaultStoreConfig()
	storeCfg.URL = s.cfg.Policy.WeaviateURL
	storeCfg.AllowStartDegraded = s.cfg.Policy.AllowStartDegraded
	storeCfg.Logger = s.logger
	if s.cfg.Secrets.WeaviateKey.IsSet() {
		key, err := s.cfg.Secrets.WeaviateKey.Reveal()
		if err != nil {
			return nil, err
		}
		storeCfg.APIKey = key
	}

	var err error
	if s.policyStore, err = policy.NewStore(storeCfg); err != nil {
		return nil, err
	}
	s.tracker = policy.NewTracker("policy_retrieval", s.logger)
	s.policyStore.RegisterHandler(s.tracker)

	retrieverOpts := []policy.RetrieverOption{
		policy.WithTracker(s.tracker),
		policy.WithRetrieverLogger(s.logger),
	}
	if s.cfg.Policy.Rerank {
		retrieverOpts = append(retrieverOpts, policy.WithReranker(policy.NewLLMReranker(s.chat, s.logger)))
	}
	return policy.NewWeaviateRetriever(s.policyStore, s.chat, retrieverOpts...), nil
}

// initStorage opens the trace store, the decision log and the InfluxDB
// sink, and starts audit retention.
func (s *Orchestrator) initStorage(ctx context.Context) error {
	s.sinks = storage.NewMultiSink(s.logger)
	sc := s.cfg.Storage

	badgerCfg := storage.InMemoryBadgerConfig()
	if sc.TraceDir != "" {
		badgerCfg = storage.DefaultBadgerConfig(sc.TraceDir)
	}
	badgerCfg.Logger = s.logger
	db, err := storage.OpenBadger(badgerCfg)
	if err != nil {
		return err
	}
	s.badger = db
	s.traces = storage.NewTraceStore(db, sc.TraceTTL)
	s.sinks.Add("traces", s.instrument("traces", s.traces))

	if sc.DecisionDB != "" {
		if s.decisions, err = storage.OpenDecisionLog(storage.DecisionLogConfig{
			Path:   sc.DecisionDB,
			Logger: s.logger,
		}); err != nil {
			return err
		}
		s.sinks.Add("decisions", s.instrument("decisions", s.decisions))

		if s.retention, err = storage.NewRetentionScheduler(s.decisions, storage.RetentionConfig{
			Schedule:      sc.RetentionSchedule,
			RetentionDays: sc.RetentionDays,
			Logger:        s.logger,
		}); err != nil {
			return err
		}
		if err := s.retention.Start(ctx); err != nil {
			return err
		}
	}

	if s.cfg.Influx.Enabled() {
		token, err := s.cfg.Secrets.InfluxToken.Reveal()
		if err != nil {
			return fmt.Errorf("influx token: %w", err)
		}
		s.influx = influxdb2.NewClient(s.cfg.Influx.URL, token)
		s.sinks.Add("influx", s.instrument("influx",
			storage.NewInfluxSink(s.influx, s.cfg.Influx.Org, s.cfg.Influx.Bucket)))
	}

	s.logger.Info("Persistence configured",
		slog.Int("sinks", s.sinks.Len()),
		slog.Bool("trace_store_in_memory", db.InMemory()),
		slog.Bool("decision_log", s.decisions != nil),
		slog.Bool("influx", s.influx != nil))
	return nil
}

// instrument counts failures of sink under name.
func (s *Orchestrator) instrument(name string, sink storage.Sink) storage.Sink {
	return storage.SinkFunc(func(ctx context.Context, rec storage.Record) error {
		err := sink.Record(ctx, rec)
		if err != nil {
			s.metrics.RecordSinkFailure(name)
		}
		return err
	})
}

func (s *Orchestrator) initRouter(gatherer prometheus.Gatherer) {
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(s.cfg.Telemetry.ServiceName))

	deps := routes.Dependencies{
		Processor:    s,
		Retrieval:    s,
		Traces:       s.traces,
		ScenarioRoot: filepath.Dir(simulator.DefaultScenarioPath),
		Metrics:      promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
	if s.decisions != nil {
		deps.Decisions = s.decisions
		deps.Reviews = s.decisions
	}
	if s.cfg.Secrets.ReviewToken.IsSet() {
		deps.ReviewAuth = middleware.StaticToken{Name: "operator", Token: s.cfg.Secrets.ReviewToken}
	}
	routes.SetupRoutes(s.router, deps)
}

// =============================================================================
// Processing
// =============================================================================

// ProcessEvent decides event and records the result in every sink.
// Sink failures are logged and counted; the decision is returned as is.
func (s *Orchestrator) ProcessEvent(ctx context.Context, event datatypes.TelemetryEvent, includeTrace bool) graph.Result {
	s.metrics.EventStarted()
	defer s.metrics.EventEnded()

	pctx, cancel := context.WithTimeout(ctx, s.cfg.Server.EventTimeout)
	res := s.engine.Process(pctx, event, graph.WithTrace(includeTrace))
	cancel()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := s.sinks.Record(sctx, toRecord(event, res)); err != nil {
		s.logger.Warn("decision not fully persisted",
			slog.String("trace_id", res.TraceID),
			slog.String("error", err.Error()))
	}
	return res
}

func toRecord(event datatypes.TelemetryEvent, res graph.Result) storage.Record {
	return storage.Record{
		TraceID:       res.TraceID,
		Event:         event,
		Decision:      res.Decision,
		Assessment:    res.Assessment,
		PolicyContext: res.PolicyContext,
		LatencyMs:     res.LatencyMs,
		Trace:         res.Trace,
		RecordedAt:    time.Now().UTC(),
	}
}

// RetrievalMode implements handlers.RetrievalStatus.
func (s *Orchestrator) RetrievalMode() string {
	if s.tracker == nil {
		return policy.ModeDisabled.String()
	}
	return s.tracker.Mode().String()
}

// Engine returns the decision graph.
func (s *Orchestrator) Engine() *graph.Engine {
	return s.engine
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Orchestrator) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Orchestrator) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting orchestrator server", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down orchestrator server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close stops background jobs and releases every store. It is safe to
// call on a partially built Orchestrator.
func (s *Orchestrator) Close() error {
	var errs []error
	if s.retention != nil {
		s.retention.Stop()
	}
	if s.decisions != nil {
		if err := s.decisions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close decision log: %w", err))
		}
	}
	if s.badger != nil {
		if err := s.badger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace store: %w", err))
		}
	}
	if s.influx != nil {
		s.influx.Close()
	}
	if s.policyStore != nil {
		if err := s.policyStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close policy store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Review queue
// =============================================================================

// reviewQueue adapts the decision log to graph.ReviewQueue.
type reviewQueue struct {
	log *storage.DecisionLog
}

func (q reviewQueue) Enqueue(ctx context.Context, req graph.ReviewRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode review: %w", err)
	}
	return q.log.AddReview(ctx, storage.Review{
		TraceID:    req.TraceID,
		DroneID:    req.Event.DroneID,
		RiskScore:  req.Assessment.RiskScore,
		Confidence: req.Assessment.Confidence,
		Route:      req.Decision.Route,
		Rationale:  req.Decision.Rationale,
		Payload:    payload,
	})
}

var _ graph.ReviewQueue = reviewQueue{}
