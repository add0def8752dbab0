// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// PolicyChunkClass is the Weaviate class holding chunked policy text.
const PolicyChunkClass = "PolicyChunks"

// Structure labels attached to policy chunks at ingest time.
const (
	StructureBody      = "body"
	StructureTOC       = "toc"
	StructureAppendix  = "appendix"
	StructureReference = "reference"
)

// GetPolicyChunkSchema returns the class definition for policy chunks.
// Vectors are supplied by the ingester, so the class has no vectorizer.
func GetPolicyChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       PolicyChunkClass,
		Description: "A chunk of aviation policy text with its source document and page.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "The document the chunk was taken from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "page",
				DataType:        []string{"int"},
				Description:     "1-based page number within the source.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "chunk_index",
				DataType:    []string{"int"},
				Description: "Position of the chunk within the source.",
			},
			{
				Name:         "section_title",
				DataType:     []string{"text"},
				Description:  "Best-effort section heading for the chunk.",
				Tokenization: "word",
			},
			{
				Name:            "structure",
				DataType:        []string{"text"},
				Description:     "Structural label: body, toc, appendix or reference.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsurePolicySchema creates the policy chunk class when it does not exist.
func EnsurePolicySchema(ctx context.Context, client *weaviate.Client) error {
	_, err := client.Schema().ClassGetter().WithClassName(PolicyChunkClass).Do(ctx)
	if err == nil {
		slog.Debug("Policy chunk schema already exists", "class", PolicyChunkClass)
		return nil
	}

	slog.Info("Creating policy chunk schema", "class", PolicyChunkClass)
	if err := client.Schema().ClassCreator().WithClass(GetPolicyChunkSchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating %s schema: %w", PolicyChunkClass, err)
	}
	return nil
}
