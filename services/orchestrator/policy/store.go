// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrStoreUnavailable is returned when the policy store is not reachable.
	ErrStoreUnavailable = errors.New("policy store is not available")

	// ErrCircuitOpen is returned while the circuit breaker blocks requests.
	ErrCircuitOpen = errors.New("policy store circuit breaker is open")

	// ErrStoreClosed is returned when operations are called on a closed store.
	ErrStoreClosed = errors.New("policy store is closed")
)

var storeTracer = otel.Tracer("altitude.policy.store")

// ConnectionState is the state of the store connection.
type ConnectionState int32

const (
	StateConnected ConnectionState = iota
	StateDegraded
	StateCircuitOpen
	StateHalfOpen
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateCircuitOpen:
		return "circuit_open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StoreConfig configures the Weaviate-backed policy store.
type StoreConfig struct {
	// URL of the Weaviate instance, with or without scheme.
	URL string

	// APIKey is optional; when set it is sent as a bearer token.
	APIKey string

	RetryAttempts   int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// CircuitThreshold failures within CircuitWindow open the circuit for
	// CircuitCooldown.
	CircuitThreshold int
	CircuitWindow    time.Duration
	CircuitCooldown  time.Duration

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	// AllowStartDegraded lets the service start while Weaviate is down.
	AllowStartDegraded bool

	Logger *slog.Logger
}

// DefaultStoreConfig returns production defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		RetryAttempts:       2,
		RetryBackoff:        100 * time.Millisecond,
		MaxRetryBackoff:     2 * time.Second,
		CircuitThreshold:    5,
		CircuitWindow:       30 * time.Second,
		CircuitCooldown:     30 * time.Second,
		HealthCheckInterval: 10 * time.Second,
		HealthCheckTimeout:  3 * time.Second,
		AllowStartDegraded:  true,
		Logger:              slog.Default(),
	}
}

// Validate checks the configuration.
func (c *StoreConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url must not be empty")
	}
	if c.RetryAttempts < 0 {
		return errors.New("retry_attempts must be non-negative")
	}
	if c.CircuitThreshold < 1 {
		return errors.New("circuit_threshold must be at least 1")
	}
	if c.CircuitWindow <= 0 {
		return errors.New("circuit_window must be positive")
	}
	if c.HealthCheckTimeout <= 0 {
		return errors.New("health_check_timeout must be positive")
	}
	return nil
}

func (c *StoreConfig) applyDefaults() {
	d := DefaultStoreConfig()
	if c.RetryBackoff == 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = d.MaxRetryBackoff
	}
	if c.CircuitThreshold == 0 {
		c.CircuitThreshold = d.CircuitThreshold
	}
	if c.CircuitWindow == 0 {
		c.CircuitWindow = d.CircuitWindow
	}
	if c.CircuitCooldown == 0 {
		c.CircuitCooldown = d.CircuitCooldown
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
}

// Store wraps a Weaviate client with retries, a circuit breaker and a
// background health check. Availability changes are reported to the
// registered DegradationHandlers.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	client *weaviate.Client
	config StoreConfig
	logger *slog.Logger

	state           atomic.Int32
	circuitOpenedAt atomic.Int64
	closed          atomic.Bool
	halfOpenProbe   atomic.Bool

	failureMu  sync.Mutex
	failures   []time.Time
	failureIdx int

	handlersMu sync.RWMutex
	handlers   []DegradationHandler

	healthCancel context.CancelFunc
	healthWg     sync.WaitGroup
}

// NewStore connects to Weaviate and starts the health checker. When the
// instance is down and AllowStartDegraded is set, the store starts in
// StateDegraded and recovers once a health check passes.
func NewStore(config StoreConfig) (*Store, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy store config: %w", err)
	}

	cfg := weaviate.Config{Host: config.URL, Scheme: "http"}
	switch {
	case strings.HasPrefix(config.URL, "https://"):
		cfg.Scheme, cfg.Host = "https", strings.TrimPrefix(config.URL, "https://")
	case strings.HasPrefix(config.URL, "http://"):
		cfg.Host = strings.TrimPrefix(config.URL, "http://")
	}
	if config.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: config.APIKey}
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	s := newStore(client, config)
	s.state.Store(int32(StateDegraded))

	if err := s.checkHealth(context.Background()); err != nil {
		if !config.AllowStartDegraded {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		s.logger.Warn("Policy store unavailable at startup, starting degraded",
			slog.String("url", config.URL),
			slog.String("error", err.Error()))
	} else {
		s.transition(StateConnected)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.healthCancel = cancel
	s.healthWg.Add(1)
	go s.runHealthChecker(ctx)

	s.logger.Info("Policy store initialized",
		slog.String("url", config.URL),
		slog.String("state", s.State().String()))
	return s, nil
}

func newStore(client *weaviate.Client, config StoreConfig) *Store {
	return &Store{
		client:   client,
		config:   config,
		logger:   config.Logger.With(slog.String("component", "policy_store")),
		failures: make([]time.Time, config.CircuitThreshold),
	}
}

// Client returns the underlying Weaviate client.
func (s *Store) Client() *weaviate.Client {
	return s.client
}

// State returns the current connection state.
func (s *Store) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// RegisterHandler adds a handler and tells it the current availability.
func (s *Store) RegisterHandler(h DegradationHandler) {
	s.handlersMu.Lock()
	s.handlers = append(s.handlers, h)
	s.handlersMu.Unlock()

	switch s.State() {
	case StateDegraded:
		h.OnDegraded("initial state: policy store unavailable")
	case StateCircuitOpen:
		h.OnDisabled("initial state: circuit open")
	}
}

// Execute runs fn with retries while the circuit allows it. Only network
// errors and deadline expiry are retried.
func (s *Store) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	ctx, span := storeTracer.Start(ctx, "policy.store.Execute",
		trace.WithAttributes(attribute.String("state", s.State().String())))
	defer span.End()

	switch s.State() {
	case StateCircuitOpen:
		if !s.cooldownElapsed() {
			span.SetStatus(codes.Error, "circuit open")
			return ErrCircuitOpen
		}
		s.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if !s.halfOpenProbe.CompareAndSwap(false, true) {
			span.SetStatus(codes.Error, "circuit half-open, probe in flight")
			return ErrCircuitOpen
		}
		defer s.halfOpenProbe.Store(false)
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff(attempt)):
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			s.recordSuccess()
			span.SetStatus(codes.Ok, "")
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	s.recordFailure()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "policy store call failed")
	return fmt.Errorf("policy store: %w", lastErr)
}

// Close stops the health checker. It is safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.healthCancel != nil {
		s.healthCancel()
	}
	s.healthWg.Wait()
	return nil
}

func (s *Store) transition(next ConnectionState) {
	prev := ConnectionState(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.logger.Info("policy store state transition",
		slog.String("from", prev.String()),
		slog.String("to", next.String()))

	s.handlersMu.RLock()
	handlers := s.handlers
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		switch next {
		case StateConnected:
			h.OnRecovered()
		case StateDegraded:
			h.OnDegraded("policy store calls failing")
		case StateCircuitOpen:
			h.OnDisabled("circuit breaker opened")
		}
	}
}

func (s *Store) checkHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.HealthCheckTimeout)
	defer cancel()

	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !ready {
		return ErrStoreUnavailable
	}
	return nil
}

func (s *Store) runHealthChecker(ctx context.Context) {
	defer s.healthWg.Done()

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.checkHealth(ctx)
			switch state := s.State(); {
			case err == nil && state == StateDegraded:
				s.resetFailures()
				s.transition(StateConnected)
			case err != nil && state == StateConnected:
				s.transition(StateDegraded)
			}
		}
	}
}

func (s *Store) recordSuccess() {
	switch s.State() {
	case StateHalfOpen, StateDegraded:
		s.resetFailures()
		s.transition(StateConnected)
	}
}

func (s *Store) recordFailure() {
	s.failureMu.Lock()
	now := time.Now()
	s.failures[s.failureIdx] = now
	s.failureIdx = (s.failureIdx + 1) % len(s.failures)

	windowStart := now.Add(-s.config.CircuitWindow)
	count := 0
	for _, t := range s.failures {
		if !t.IsZero() && t.After(windowStart) {
			count++
		}
	}
	s.failureMu.Unlock()

	state := s.State()
	if count >= s.config.CircuitThreshold || state == StateHalfOpen {
		if state != StateCircuitOpen {
			s.circuitOpenedAt.Store(now.UnixNano())
			s.transition(StateCircuitOpen)
			s.logger.Warn("circuit breaker opened",
				slog.Int("failures", count),
				slog.Duration("window", s.config.CircuitWindow))
		}
		return
	}
	if state == StateConnected {
		s.transition(StateDegraded)
	}
}

func (s *Store) resetFailures() {
	s.failureMu.Lock()
	defer s.failureMu.Unlock()
	for i := range s.failures {
		s.failures[i] = time.Time{}
	}
	s.failureIdx = 0
}

func (s *Store) cooldownElapsed() bool {
	opened := time.Unix(0, s.circuitOpenedAt.Load())
	return time.Since(opened) >= s.config.CircuitCooldown
}

func (s *Store) backoff(attempt int) time.Duration {
	d := s.config.RetryBackoff * time.Duration(1<<attempt)
	if d > s.config.MaxRetryBackoff {
		d = s.config.MaxRetryBackoff
	}
	jitter := (rand.Float64()*2 - 1) * 0.25 * float64(d)
	return d + time.Duration(jitter)
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
