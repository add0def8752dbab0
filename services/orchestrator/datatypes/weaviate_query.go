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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse decodes the data section of a Weaviate GraphQL
// response into T. GraphQL-level errors are returned as a Go error.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, errors.New("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// PolicyChunkQueryResponse is the Get shape of a PolicyChunks query.
type PolicyChunkQueryResponse struct {
	Get struct {
		PolicyChunks []PolicyChunkResult `json:"PolicyChunks"`
	} `json:"Get"`
}

// PolicyChunkResult is one object of a PolicyChunks query.
type PolicyChunkResult struct {
	Text         string `json:"text"`
	Source       string `json:"source"`
	Page         int    `json:"page"`
	ChunkIndex   int    `json:"chunk_index"`
	SectionTitle string `json:"section_title"`
	Structure    string `json:"structure"`
	Additional   struct {
		ID       string   `json:"id"`
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

// Snippet converts the result into a PolicySnippet. A missing distance is
// treated as the worst match.
func (r PolicyChunkResult) Snippet() PolicySnippet {
	distance := 1.0
	if r.Additional.Distance != nil {
		distance = *r.Additional.Distance
	}
	structure := r.Structure
	if structure == "" {
		structure = StructureBody
	}
	return PolicySnippet{
		ID:           r.Additional.ID,
		Text:         r.Text,
		Source:       r.Source,
		Page:         r.Page,
		ChunkIndex:   r.ChunkIndex,
		SectionTitle: r.SectionTitle,
		Structure:    structure,
		Distance:     distance,
	}
}
