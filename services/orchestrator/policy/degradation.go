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
	"log/slog"
	"sync/atomic"
)

// DegradationMode represents how much of policy retrieval is available.
type DegradationMode int32

const (
	// ModeNormal indicates retrieval is fully available.
	ModeNormal DegradationMode = iota
	// ModeDegraded indicates recent failures; calls are still attempted.
	ModeDegraded
	// ModeDisabled indicates calls are skipped until the store recovers.
	ModeDisabled
)

func (m DegradationMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDegraded:
		return "degraded"
	case ModeDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// DegradationHandler is notified when the policy store changes
// availability.
type DegradationHandler interface {
	OnDegraded(reason string)
	OnRecovered()
	OnDisabled(reason string)
	Mode() DegradationMode
}

// Tracker is the DegradationHandler behind the /health retrieval mode.
// Decisions keep flowing in every mode; a degraded store only means events
// are decided without cited policy context.
//
// Thread Safety: Safe for concurrent use.
type Tracker struct {
	name   string
	mode   atomic.Int32
	logger *slog.Logger
}

// NewTracker creates a tracker in ModeNormal.
func NewTracker(name string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		name:   name,
		logger: logger.With(slog.String("component", name)),
	}
}

// OnDegraded implements DegradationHandler.
func (t *Tracker) OnDegraded(reason string) {
	if t.swap(ModeDegraded) {
		t.logger.Warn("policy retrieval degraded, decisions will proceed without policy context",
			slog.String("reason", reason))
	}
}

// OnDisabled implements DegradationHandler.
func (t *Tracker) OnDisabled(reason string) {
	if t.swap(ModeDisabled) {
		t.logger.Warn("policy retrieval disabled until the store recovers",
			slog.String("reason", reason))
	}
}

// OnRecovered implements DegradationHandler.
func (t *Tracker) OnRecovered() {
	if t.swap(ModeNormal) {
		t.logger.Info("policy retrieval restored")
	}
}

// Mode implements DegradationHandler.
func (t *Tracker) Mode() DegradationMode {
	return DegradationMode(t.mode.Load())
}

// ShouldSkip reports whether callers should not attempt retrieval.
func (t *Tracker) ShouldSkip() bool {
	return t.Mode() == ModeDisabled
}

// swap stores m and reports whether the mode changed.
func (t *Tracker) swap(m DegradationMode) bool {
	return DegradationMode(t.mode.Swap(int32(m))) != m
}
