// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command altitude is the operator CLI for the altitude early-warning
// orchestrator.
//
// It runs scenarios through the decision graph locally, writes baseline
// results, ingests policy documents into Weaviate, renders the graph
// diagram and starts the HTTP service.
//
// # Usage
//
//	altitude run --scenario data/scenarios/altitude_breach.json --trace
//	altitude baseline --out outputs/baseline_results.json
//	altitude ingest part107.txt --source part107.pdf
//	altitude diagram --out graph.mmd
//	altitude serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AltitudeWarning/pkg/logging"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/config"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "altitude",
		Short:         "Altitude early-warning decision orchestrator",
		Long:          `Runs drone telemetry through the altitude decision graph and manages its policy store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ALTITUDE_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, baselineCmd, ingestCmd, diagramCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "altitude: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config and applies --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger writes CLI logs to stderr so stdout stays machine readable.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	lc, err := cfg.Logging.LoggerConfig(logging.ServiceCLI)
	if err != nil {
		return nil, err
	}
	lc.Output = cmd.ErrOrStderr()
	return logging.New(lc), nil
}
