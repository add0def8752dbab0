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
	"crypto/sha256"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

const (
	ChunkSize    = 2000
	ChunkOverlap = 200
	BatchSize    = 100
)

// pageBreak separates pages in extracted document text.
const pageBreak = "\f"

var chunkIDNamespace = uuid.MustParse("5f0c7d7e-3b1a-4c52-9a51-7d3f0f5e2a10")

var sectionPattern = regexp.MustCompile(`(?i)^(chapter|appendix|section)\b`)

// Chunk is one piece of a policy document ready for storage.
type Chunk struct {
	Text         string
	Source       string
	Page         int
	ChunkIndex   int
	SectionTitle string
	Structure    string
}

// ID derives a stable object id from the chunk's position and content, so
// re-ingesting a document overwrites instead of duplicating.
func (c Chunk) ID() strfmt.UUID {
	data := fmt.Sprintf("%s|%d|%d|%s", c.Source, c.Page, c.ChunkIndex, c.Text)
	return strfmt.UUID(uuid.NewHash(sha256.New(), chunkIDNamespace, []byte(data), 8).String())
}

// NewSplitter returns the recursive character splitter used for policy text.
func NewSplitter() textsplitter.TextSplitter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ChunkSize),
		textsplitter.WithChunkOverlap(ChunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
	)
}

// SplitPages splits extracted text on form feeds. Pages are 1-based in the
// order returned.
func SplitPages(text string) []string {
	return strings.Split(text, pageBreak)
}

// BuildChunks splits every page and labels the pieces. Chunk indexes run
// across the whole document.
func BuildChunks(pages []string, source string, splitter textsplitter.TextSplitter) ([]Chunk, error) {
	var chunks []Chunk
	index := 0
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		parts, err := splitter.SplitText(page)
		if err != nil {
			return nil, fmt.Errorf("split page %d: %w", i+1, err)
		}
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Text:         part,
				Source:       source,
				Page:         i + 1,
				ChunkIndex:   index,
				SectionTitle: GuessSectionTitle(part),
				Structure:    DetectStructure(part),
			})
			index++
		}
	}
	return chunks, nil
}

// GuessSectionTitle returns the first line that looks like a heading: one
// starting with chapter/appendix/section, or an all-caps line of 4 to 80
// characters. It returns "" when none is found.
func GuessSectionTitle(text string) string {
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if sectionPattern.MatchString(line) {
			return line
		}
		if n := len([]rune(line)); n >= 4 && n <= 80 && isUpper(line) {
			return line
		}
	}
	return ""
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// DetectStructure labels a chunk as toc, appendix, reference or body.
func DetectStructure(text string) string {
	lowered := strings.ToLower(text)
	if strings.Contains(lowered, "table of contents") {
		return datatypes.StructureTOC
	}
	leading := lowered
	if len(leading) > 200 {
		leading = leading[:200]
	}
	if strings.HasPrefix(leading, "appendix") || strings.HasPrefix(leading, "appendices") ||
		strings.Contains(leading, " appendix") {
		return datatypes.StructureAppendix
	}
	if strings.Contains(lowered, "acr") && strings.Contains(lowered, "definition") {
		return datatypes.StructureReference
	}
	if strings.Contains(lowered, "glossary") {
		return datatypes.StructureReference
	}
	return datatypes.StructureBody
}

// Ingester chunks, embeds and stores policy documents.
type Ingester struct {
	store     *Store
	embedder  llm.Embedder
	splitter  textsplitter.TextSplitter
	batchSize int
	logger    *slog.Logger
}

func NewIngester(store *Store, embedder llm.Embedder, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		store:     store,
		embedder:  embedder,
		splitter:  NewSplitter(),
		batchSize: BatchSize,
		logger:    logger.With(slog.String("component", "policy_ingest")),
	}
}

// IngestText stores one document whose pages are separated by form feeds.
// It returns the number of chunks Weaviate accepted.
func (in *Ingester) IngestText(ctx context.Context, source, text string) (int, error) {
	chunks, err := BuildChunks(SplitPages(text), source, in.splitter)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := in.store.Execute(ctx, func(ctx context.Context) error {
		return datatypes.EnsurePolicySchema(ctx, in.store.Client())
	}); err != nil {
		return 0, err
	}

	indexed := 0
	for start := 0; start < len(chunks); start += in.batchSize {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		batch := chunks[start:min(start+in.batchSize, len(chunks))]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := in.embedder.Embed(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(batch) {
			return indexed, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(batch))
		}

		objects := make([]*models.Object, len(batch))
		for i, c := range batch {
			objects[i] = &models.Object{
				Class: datatypes.PolicyChunkClass,
				ID:    c.ID(),
				Properties: map[string]any{
					"text":          c.Text,
					"source":        c.Source,
					"page":          c.Page,
					"chunk_index":   c.ChunkIndex,
					"section_title": c.SectionTitle,
					"structure":     c.Structure,
				},
				Vector: vectors[i],
			}
		}

		err = in.store.Execute(ctx, func(ctx context.Context) error {
			result, err := in.store.Client().Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
			if err != nil {
				return err
			}
			for _, obj := range result {
				if obj.Result != nil && obj.Result.Errors == nil {
					indexed++
				}
			}
			return nil
		})
		if err != nil {
			return indexed, fmt.Errorf("batch import: %w", err)
		}
		in.logger.Info("Indexed policy batch",
			slog.String("source", source),
			slog.Int("count", len(batch)),
			slog.Int("total_indexed", indexed))
	}
	return indexed, nil
}
