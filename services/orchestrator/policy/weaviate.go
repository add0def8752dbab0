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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("altitude.policy")

// ErrEmptyEmbedding is returned when the embedder produces no vector.
var ErrEmptyEmbedding = errors.New("embedder returned no vector")

// WeaviateRetriever is the production Retriever.
type WeaviateRetriever struct {
	store    *Store
	embedder llm.Embedder
	reranker Reranker
	tracker  *Tracker
	logger   *slog.Logger
}

// RetrieverOption configures a WeaviateRetriever.
type RetrieverOption func(*WeaviateRetriever)

// WithReranker enables model re-ranking of the keyword-ranked candidates.
func WithReranker(r Reranker) RetrieverOption {
	return func(w *WeaviateRetriever) { w.reranker = r }
}

// WithTracker skips retrieval while the tracker reports ModeDisabled.
func WithTracker(t *Tracker) RetrieverOption {
	return func(w *WeaviateRetriever) { w.tracker = t }
}

func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(w *WeaviateRetriever) { w.logger = l }
}

func NewWeaviateRetriever(store *Store, embedder llm.Embedder, opts ...RetrieverOption) *WeaviateRetriever {
	w := &WeaviateRetriever{store: store, embedder: embedder, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Retrieve implements Retriever. A blank query returns no snippets.
func (w *WeaviateRetriever) Retrieve(ctx context.Context, query string, topK int) ([]datatypes.PolicySnippet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if w.tracker != nil && w.tracker.ShouldSkip() {
		return nil, ErrCircuitOpen
	}

	ctx, span := tracer.Start(ctx, "policy.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("policy.top_k", topK))

	vectors, err := w.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed policy query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}

	candidateK := topK * 3
	snippets, err := w.search(ctx, vectors[0], candidateK)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("policy.candidates", len(snippets)))

	RankByKeywords(snippets)

	if w.reranker != nil && len(snippets) > 0 {
		n := min(len(snippets), max(topK*2, 6))
		reranked, err := w.reranker.Rerank(ctx, query, snippets[:n])
		if err != nil {
			w.logger.Warn("Policy rerank failed, keeping keyword order", "error", err)
		} else {
			snippets = append(reranked, snippets[n:]...)
		}
	}

	if len(snippets) > topK {
		snippets = snippets[:topK]
	}
	return snippets, nil
}

func (w *WeaviateRetriever) search(ctx context.Context, vector []float32, limit int) ([]datatypes.PolicySnippet, error) {
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "source"},
		{Name: "page"},
		{Name: "chunk_index"},
		{Name: "section_title"},
		{Name: "structure"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	var result *models.GraphQLResponse
	err := w.store.Execute(ctx, func(ctx context.Context) error {
		client := w.store.Client()
		nearVector := client.GraphQL().NearVectorArgBuilder().WithVector(vector)
		var err error
		result, err = client.GraphQL().Get().
			WithClassName(datatypes.PolicyChunkClass).
			WithFields(fields...).
			WithNearVector(nearVector).
			WithLimit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("policy search: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PolicyChunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("policy search: %w", err)
	}

	snippets := make([]datatypes.PolicySnippet, 0, len(parsed.Get.PolicyChunks))
	for _, r := range parsed.Get.PolicyChunks {
		snippets = append(snippets, r.Snippet())
	}
	return snippets, nil
}

var _ Retriever = (*WeaviateRetriever)(nil)
