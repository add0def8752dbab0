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
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/oracle"
)

var altitudeTerms = []string{
	"part 107",
	"107.51",
	"altitude",
	"agl",
	"ceiling",
	"maximum altitude",
}

// KeywordBoost counts the altitude-limit terms present in text.
func KeywordBoost(text string) int {
	lowered := strings.ToLower(text)
	n := 0
	for _, term := range altitudeTerms {
		if strings.Contains(lowered, term) {
			n++
		}
	}
	return n
}

// RankByKeywords orders snippets by keyword boost (desc), body chunks
// before toc/appendix/reference, then vector distance (asc). The sort is
// stable so ties keep their retrieval order.
func RankByKeywords(snippets []datatypes.PolicySnippet) {
	type keyedSnippet struct {
		boost int
		s     datatypes.PolicySnippet
	}
	keyed := make([]keyedSnippet, len(snippets))
	for i, s := range snippets {
		keyed[i] = keyedSnippet{boost: KeywordBoost(s.Text), s: s}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		a, b := keyed[i], keyed[j]
		if a.boost != b.boost {
			return a.boost > b.boost
		}
		aBody, bBody := a.s.Structure == datatypes.StructureBody, b.s.Structure == datatypes.StructureBody
		if aBody != bBody {
			return aBody
		}
		return a.s.Distance < b.s.Distance
	})
	for i := range keyed {
		snippets[i] = keyed[i].s
	}
}

// Reranker reorders candidate snippets for a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, snippets []datatypes.PolicySnippet) ([]datatypes.PolicySnippet, error)
}

const rerankInstructions = "You are ranking FAA Part 107 policy snippets for how well they answer the pilot's query.\n" +
	"Given the query and snippets, assign each snippet a relevance score from 0 to 3.\n" +
	"3 = directly states the applicable regulation or numeric limit;\n" +
	"2 = strongly implies relevant guidance;\n" +
	"1 = tangential mention; 0 = irrelevant.\n" +
	`Respond with EXACT JSON ONLY (no prose): {"scores": [{"id": <snippet_id>, "score": <0-3>, "reason": "short note"}]}.`

const rerankPreviewChars = 800

// RerankPrompt renders the scoring prompt. Snippet ids are 1-based
// positions in snippets.
func RerankPrompt(query string, snippets []datatypes.PolicySnippet) string {
	var b strings.Builder
	b.WriteString(rerankInstructions)
	b.WriteString("\n\nQuery: ")
	b.WriteString(query)
	b.WriteString("\nSnippets:")
	for i, s := range snippets {
		preview := strings.Join(strings.Fields(s.Text), " ")
		if r := []rune(preview); len(r) > rerankPreviewChars {
			preview = string(r[:rerankPreviewChars])
		}
		fmt.Fprintf(&b, "\nSnippet %d [structure=%s section=%s]: %s", i+1, s.Structure, s.SectionTitle, preview)
	}
	return b.String()
}

type rerankScores struct {
	Scores []struct {
		ID     int     `json:"id"`
		Score  float64 `json:"score"`
		Reason string  `json:"reason"`
	} `json:"scores"`
}

// LLMReranker scores snippets with a language model. Unscored snippets
// sort after scored ones.
type LLMReranker struct {
	client llm.LLMClient
	logger *slog.Logger
}

func NewLLMReranker(client llm.LLMClient, logger *slog.Logger) *LLMReranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMReranker{client: client, logger: logger.With(slog.String("component", "policy_rerank"))}
}

// Rerank implements Reranker.
func (r *LLMReranker) Rerank(ctx context.Context, query string, snippets []datatypes.PolicySnippet) ([]datatypes.PolicySnippet, error) {
	if len(snippets) == 0 {
		return snippets, nil
	}
	var temperature float32
	content, err := r.client.Generate(ctx, RerankPrompt(query, snippets), llm.GenerationParams{Temperature: &temperature})
	if err != nil {
		return nil, fmt.Errorf("rerank generate: %w", err)
	}
	raw, err := oracle.ExtractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("rerank response: %w", err)
	}
	var parsed rerankScores
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("rerank response: %w", err)
	}

	scores := make(map[int]float64, len(parsed.Scores))
	for _, s := range parsed.Scores {
		scores[s.ID] = s.Score
	}
	score := func(pos int) float64 {
		if v, ok := scores[pos+1]; ok {
			return v
		}
		return -1
	}

	order := make([]int, len(snippets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return score(order[i]) > score(order[j])
	})

	out := make([]datatypes.PolicySnippet, len(snippets))
	for i, pos := range order {
		out[i] = snippets[pos]
	}
	r.logger.Debug("policy snippets reranked",
		slog.Int("candidates", len(snippets)),
		slog.Int("scored", len(scores)))
	return out, nil
}

var _ Reranker = (*LLMReranker)(nil)
