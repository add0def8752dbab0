// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubLLM struct {
	prompt string
	out    string
	err    error
}

func (s *stubLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	s.prompt = prompt
	return s.out, s.err
}

// =============================================================================
// Query and formatting
// =============================================================================

func TestFormatSnippets(t *testing.T) {
	got := FormatSnippets([]datatypes.PolicySnippet{
		{Source: "part107.pdf", Page: 12, Text: "Maximum altitude 400 feet AGL."},
		{Source: "ac107-2.pdf", Page: 3, Text: "Remain below the ceiling."},
	})
	assert.Equal(t, []string{
		"[S1] [part107.pdf p.12] Maximum altitude 400 feet AGL.",
		"[S2] [ac107-2.pdf p.3] Remain below the ceiling.",
	}, got)
	assert.Empty(t, FormatSnippets(nil))
}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery(
		datatypes.TelemetryEvent{AltitudeFt: 280, VerticalSpeedFps: 3.5},
		datatypes.RiskAssessment{PredictedAltitudeFt: 308, CeilingFt: 300},
	)
	assert.Contains(t, q, "Part 107")
	assert.Contains(t, q, "altitude_ft=280.0")
	assert.Contains(t, q, "predicted_altitude_ft=308.0")
	assert.Contains(t, q, "ceiling_ft=300.0")
}

// =============================================================================
// Ranking
// =============================================================================

func TestKeywordBoost(t *testing.T) {
	assert.Equal(t, 0, KeywordBoost("Registration of small unmanned aircraft."))
	assert.Equal(t, 4, KeywordBoost("Per 107.51 the maximum ALTITUDE is 400 feet AGL."))
	assert.Equal(t, 3, KeywordBoost("Per 107.51 keep ALTITUDE within AGL limits."))
}

func TestRankByKeywords(t *testing.T) {
	snippets := []datatypes.PolicySnippet{
		{ID: "plain-near", Text: "Registration rules", Structure: "body", Distance: 0.05},
		{ID: "toc", Text: "Table of contents: altitude, ceiling", Structure: "toc", Distance: 0.10},
		{ID: "body-far", Text: "Altitude must stay below the ceiling", Structure: "body", Distance: 0.40},
		{ID: "body-near", Text: "Altitude must stay below the ceiling", Structure: "body", Distance: 0.20},
		{ID: "one-term", Text: "Altitude reporting", Structure: "body", Distance: 0.01},
	}
	RankByKeywords(snippets)

	ids := make([]string, len(snippets))
	for i, s := range snippets {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"body-near", "body-far", "toc", "one-term", "plain-near"}, ids)
}

func TestLLMReranker(t *testing.T) {
	snippets := []datatypes.PolicySnippet{
		{ID: "a", Text: "first", Structure: "body"},
		{ID: "b", Text: "second", Structure: "appendix", SectionTitle: "APPENDIX A"},
		{ID: "c", Text: "third", Structure: "body"},
	}
	model := &stubLLM{out: "```json\n{\"scores\":[{\"id\":3,\"score\":3,\"reason\":\"limit\"},{\"id\":1,\"score\":1}]}\n```"}

	got, err := NewLLMReranker(model, quietLogger()).Rerank(context.Background(), "altitude limit", snippets)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "b", got[2].ID, "unscored snippets sort last")

	assert.Contains(t, model.prompt, "Query: altitude limit")
	assert.Contains(t, model.prompt, "Snippet 2 [structure=appendix section=APPENDIX A]: second")
}

func TestLLMReranker_Failures(t *testing.T) {
	snippets := []datatypes.PolicySnippet{{ID: "a"}}

	_, err := NewLLMReranker(&stubLLM{err: errors.New("down")}, quietLogger()).Rerank(context.Background(), "q", snippets)
	assert.Error(t, err)

	_, err = NewLLMReranker(&stubLLM{out: "no scores today"}, quietLogger()).Rerank(context.Background(), "q", snippets)
	assert.Error(t, err)
}

func TestRerankPrompt_TruncatesPreview(t *testing.T) {
	long := strings.Repeat("word ", 400)
	prompt := RerankPrompt("q", []datatypes.PolicySnippet{{Text: long}})
	line := prompt[strings.LastIndex(prompt, "Snippet 1"):]
	assert.LessOrEqual(t, len(line), len("Snippet 1 [structure= section=]: ")+rerankPreviewChars)
}

// =============================================================================
// Degradation tracking
// =============================================================================

func TestTracker_Transitions(t *testing.T) {
	tr := NewTracker("policy_retrieval", quietLogger())
	assert.Equal(t, ModeNormal, tr.Mode())
	assert.False(t, tr.ShouldSkip())

	tr.OnDegraded("timeouts")
	assert.Equal(t, ModeDegraded, tr.Mode())
	assert.False(t, tr.ShouldSkip())

	tr.OnDisabled("circuit")
	assert.True(t, tr.ShouldSkip())
	assert.Equal(t, "disabled", tr.Mode().String())

	tr.OnRecovered()
	assert.Equal(t, ModeNormal, tr.Mode())
	assert.Equal(t, "unknown", DegradationMode(9).String())
}
