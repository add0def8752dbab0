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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes records older than a cutoff. DecisionLog implements it.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionConfig configures scheduled pruning.
type RetentionConfig struct {
	// Schedule is a standard five-field cron expression, e.g. "0 3 * * *".
	// Empty disables the scheduler.
	Schedule string

	// RetentionDays is how many days of records to keep. Must be positive.
	RetentionDays int

	Logger *slog.Logger
}

// RetentionScheduler runs a Pruner on a cron schedule.
//
// Thread Safety: Safe for concurrent use.
type RetentionScheduler struct {
	pruner    Pruner
	cfg       RetentionConfig
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
	mu        sync.Mutex
	running   bool
	jobCtx    context.Context
	cancelJob context.CancelFunc
}

// NewRetentionScheduler validates cfg and returns a stopped scheduler.
func NewRetentionScheduler(pruner Pruner, cfg RetentionConfig) (*RetentionScheduler, error) {
	if pruner == nil {
		return nil, errors.New("pruner must not be nil")
	}
	if cfg.RetentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", cfg.RetentionDays)
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q: %w", cfg.Schedule, err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionScheduler{
		pruner: pruner,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger.With(slog.String("component", "storage.retention")),
		now:    time.Now,
	}, nil
}

// Start schedules pruning. With an empty schedule it does nothing. Jobs
// run with a context derived from ctx; Stop cancels it.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Schedule == "" {
		s.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	s.jobCtx, s.cancelJob = context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.runPruning(s.jobCtx)
	}); err != nil {
		s.cancelJob()
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Int("retention_days", s.cfg.RetentionDays))
	return nil
}

// Cutoff returns the oldest timestamp that survives pruning right now.
func (s *RetentionScheduler) Cutoff() time.Time {
	return s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
}

// RunOnce prunes immediately and returns the number of deleted records.
func (s *RetentionScheduler) RunOnce(ctx context.Context) (int64, error) {
	return s.pruner.PruneBefore(ctx, s.Cutoff())
}

func (s *RetentionScheduler) runPruning(ctx context.Context) {
	deleted, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("scheduled pruning failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		s.logger.Info("scheduled pruning completed", slog.Int64("deleted_count", deleted))
	} else {
		s.logger.Debug("scheduled pruning completed, no records deleted")
	}
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancelJob()
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}

// IsRunning reports whether the scheduler is active.
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled pruning time, or nil when stopped.
func (s *RetentionScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
