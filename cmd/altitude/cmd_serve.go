// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AltitudeWarning/pkg/logging"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP decision service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		lc, err := cfg.Logging.LoggerConfig(logging.ServiceOrchestrator)
		if err != nil {
			return err
		}
		logger := logging.New(lc)
		defer logger.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return orchestrator.Serve(ctx, cfg, logger.Slog())
	},
}
