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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AltitudeWarning/pkg/telemetry"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/config"
)

// telemetryFlushTimeout bounds exporter shutdown after the server stops.
const telemetryFlushTimeout = 5 * time.Second

// Serve initialises OpenTelemetry, builds an Orchestrator from cfg and
// serves HTTP until ctx is cancelled.
//
// # Description
//
// Secrets are loaded and checked before anything is started, so a missing
// key fails fast instead of on the first event. Exporters are flushed after
// the server has drained.
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) (err error) {
	if err := cfg.LoadSecrets(); err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}
	if err := cfg.RequireSecrets(); err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if serr := shutdown(flushCtx); serr != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", serr.Error()))
		}
	}()

	svc, err := New(ctx, cfg, WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, svc.Close())
	}()

	return svc.Run(ctx)
}
