// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy retrieves and ingests the regulatory text that decision
// rationales cite.
//
// # Description
//
// Retrieval embeds a query built from the event, fetches candidate chunks
// from Weaviate by vector distance, re-ranks them toward altitude-limit
// language and returns the top few as PolicySnippets. Ingestion splits
// documents into chunks and stores them with their vectors. The Weaviate
// connection is wrapped in a Store with retries and a circuit breaker so
// that an unavailable store degrades retrieval instead of failing events.
package policy

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// DefaultTopK is the number of snippets passed to the decision oracle.
const DefaultTopK = 3

// Retriever returns policy snippets relevant to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]datatypes.PolicySnippet, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, topK int) ([]datatypes.PolicySnippet, error)

// Retrieve implements Retriever.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string, topK int) ([]datatypes.PolicySnippet, error) {
	return f(ctx, query, topK)
}

// BuildQuery renders the retrieval query for one assessed event.
func BuildQuery(e datatypes.TelemetryEvent, a datatypes.RiskAssessment) string {
	return fmt.Sprintf(
		"FAA Part 107 guidance for altitude limits and operational safety. "+
			"Telemetry altitude_ft=%.1f, vertical_speed_fps=%.1f, "+
			"predicted_altitude_ft=%.1f, ceiling_ft=%.1f.",
		e.AltitudeFt, e.VerticalSpeedFps, a.PredictedAltitudeFt, a.CeilingFt,
	)
}

// FormatSnippets tags snippets as "[S<n>] [<source> p.<page>] <text>" with
// n starting at 1 in retrieval order.
func FormatSnippets(snippets []datatypes.PolicySnippet) []string {
	out := make([]string, 0, len(snippets))
	for i, s := range snippets {
		out = append(out, fmt.Sprintf("[S%d] [%s p.%d] %s", i+1, s.Source, s.Page, s.Text))
	}
	return out
}
