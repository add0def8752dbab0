// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the altitude early-warning HTTP service.
//
// This is the entry point for the containerized service. Configuration is
// read from the YAML file named by ALTITUDE_CONFIG (optional) and then
// from the environment.
//
// # Environment Variables
//
//   - ALTITUDE_CONFIG: YAML config file (optional)
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: oracle backend, openai or rules (default: rules)
//   - OPENAI_API_KEY: required for the openai backend and policy embeddings
//   - WEAVIATE_SERVICE_URL: Weaviate URL for policy retrieval (optional)
//   - ALTITUDE_DECISION_DB: sqlite audit log path (optional)
//   - INFLUXDB_URL, INFLUXDB_ORG, INFLUXDB_BUCKET, INFLUXDB_TOKEN: decision time series (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	ALTITUDE_DECISION_DB=/var/lib/altitude/decisions.db ./orchestrator
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AltitudeWarning/pkg/logging"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("ALTITUDE_CONFIG"))
	if err != nil {
		return err
	}

	lc, err := cfg.Logging.LoggerConfig(logging.ServiceOrchestrator)
	if err != nil {
		return err
	}
	logger := logging.New(lc)
	defer logger.Close()
	log := logger.Slog()
	slog.SetDefault(log)

	logger.Info("Starting orchestrator",
		"addr", cfg.Server.Addr(),
		"llm_backend", cfg.LLM.Backend,
		"weaviate_url", cfg.Policy.WeaviateURL,
		"decision_db", cfg.Storage.DecisionDB,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Serve(ctx, cfg, log); err != nil {
		logger.Error("Orchestrator stopped with error", "error", err)
		return err
	}
	logger.Info("Orchestrator stopped")
	return nil
}
