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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/config"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/graph"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/handlers"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/simulator"
)

const defaultBaselineOut = "outputs/baseline_results.json"

var (
	scenarioPath string
	withTrace    bool
	modelName    string
	backendName  string
	parallelism  int
	baselineOut  string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Decide every event of a scenario and print one JSON line per event",
		Long: `Runs each event of the scenario file through the decision graph. Without
--scenario the default scenario file is used when present, otherwise the
built-in breach events.`,
		Args: cobra.NoArgs,
		RunE: runScenario,
	}

	baselineCmd = &cobra.Command{
		Use:   "baseline",
		Short: "Write event, decision, assessment and latency records for a scenario",
		Args:  cobra.NoArgs,
		RunE:  runBaseline,
	}
)

func init() {
	for _, c := range []*cobra.Command{runCmd, baselineCmd} {
		c.Flags().StringVar(&scenarioPath, "scenario", "", "scenario JSON file")
		c.Flags().StringVar(&modelName, "model", "", "chat model override")
		c.Flags().StringVar(&backendName, "backend", "", "oracle backend override (openai, rules)")
		c.Flags().IntVar(&parallelism, "parallel", 1, "events decided concurrently")
	}
	runCmd.Flags().BoolVar(&withTrace, "trace", false, "include the execution trace")
	baselineCmd.Flags().StringVar(&baselineOut, "out", defaultBaselineOut, "output file")
}

// BaselineRecord is one line of baseline output.
type BaselineRecord struct {
	Event         datatypes.TelemetryEvent `json:"event"`
	Decision      datatypes.AlertDecision  `json:"decision"`
	Assessment    datatypes.RiskAssessment `json:"assessment"`
	PolicyContext []string                 `json:"context"`
	LatencyMs     float64                  `json:"latency_ms"`
}

func runScenario(cmd *cobra.Command, _ []string) error {
	results, _, err := decideScenario(cmd, withTrace)
	if err != nil {
		return err
	}
	payloads := make([]handlers.DecisionPayload, len(results))
	for i, res := range results {
		payloads[i] = handlers.NewDecisionPayload(res, withTrace)
	}
	return writePayloads(cmd.OutOrStdout(), payloads, isTerminal(cmd.OutOrStdout()))
}

func runBaseline(cmd *cobra.Command, _ []string) error {
	results, events, err := decideScenario(cmd, false)
	if err != nil {
		return err
	}
	records := make([]BaselineRecord, len(results))
	for i, res := range results {
		records[i] = BaselineRecord{
			Event:         events[i],
			Decision:      res.Decision,
			Assessment:    res.Assessment,
			PolicyContext: res.PolicyContext,
			LatencyMs:     res.LatencyMs,
		}
	}
	if err := writeJSONFile(baselineOut, records); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d baseline records to %s\n", len(records), baselineOut)
	return nil
}

// decideScenario builds an in-process orchestrator and decides every
// scenario event. Results are in event order.
func decideScenario(cmd *cobra.Command, trace bool) ([]graph.Result, []datatypes.TelemetryEvent, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := applyOverrides(cfg, backendName, modelName); err != nil {
		return nil, nil, err
	}
	if err := cfg.LoadSecrets(); err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireSecrets(); err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	defer logger.Close()

	events, err := simulator.Resolve(scenarioPath)
	if err != nil {
		return nil, nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := orchestrator.New(ctx, cfg,
		orchestrator.WithLogger(logger.Slog()),
		orchestrator.WithRegistry(prometheus.NewRegistry()))
	if err != nil {
		return nil, nil, err
	}
	defer svc.Close()

	results, err := processAll(ctx, svc, events, parallelism, trace)
	return results, events, err
}

// applyOverrides applies the --backend and --model flags.
func applyOverrides(cfg *config.Config, backend, model string) error {
	if backend != "" {
		if backend != config.BackendOpenAI && backend != config.BackendRules {
			return fmt.Errorf("%w: unknown backend %q", config.ErrInvalidConfig, backend)
		}
		cfg.LLM.Backend = backend
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	return nil
}

// processAll decides events with at most parallel in flight. The result
// slice keeps event order regardless of completion order.
func processAll(ctx context.Context, proc handlers.EventProcessor, events []datatypes.TelemetryEvent, parallel int, trace bool) ([]graph.Result, error) {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]graph.Result, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, event := range events {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = proc.ProcessEvent(gctx, event, trace)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writePayloads(w io.Writer, payloads []handlers.DecisionPayload, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	for _, p := range payloads {
		if pretty {
			if _, err := fmt.Fprintln(w, renderSummary(p)); err != nil {
				return err
			}
		}
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
