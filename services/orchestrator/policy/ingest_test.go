// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

func TestGuessSectionTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "chapter line", in: "\n  Chapter 5: Operating Limitations\nbody text", want: "Chapter 5: Operating Limitations"},
		{name: "all caps", in: "OPERATING LIMITATIONS\nThe remote pilot must...", want: "OPERATING LIMITATIONS"},
		{name: "caps too short", in: "AGL\nsome text", want: ""},
		{name: "digits only", in: "1234\nsome text", want: ""},
		{name: "none", in: "plain sentence here.\nanother one.", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GuessSectionTitle(tt.in))
		})
	}
}

func TestDetectStructure(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Table of Contents\n1 Introduction", want: datatypes.StructureTOC},
		{in: "Appendix A. Sample forms", want: datatypes.StructureAppendix},
		{in: "See the attached appendix for forms", want: datatypes.StructureAppendix},
		{in: "Glossary of terms", want: datatypes.StructureReference},
		{in: "ACR: Airport Certification Requirement. Definition applies to...", want: datatypes.StructureReference},
		{in: "The maximum altitude is 400 feet above ground level.", want: datatypes.StructureBody},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.in[:10], func(t *testing.T) {
			assert.Equal(t, tt.want, DetectStructure(tt.in))
		})
	}
}

func TestBuildChunks(t *testing.T) {
	long := strings.Repeat("The remote pilot must keep the aircraft below 400 feet AGL. ", 60)
	pages := SplitPages("PART 107 OVERVIEW\nShort first page.\f\f" + long)
	require.Len(t, pages, 3)

	chunks, err := BuildChunks(pages, "part107.txt", NewSplitter())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2, "long page splits into several chunks")

	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, "PART 107 OVERVIEW", chunks[0].SectionTitle)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "part107.txt", c.Source)
		assert.LessOrEqual(t, len(c.Text), ChunkSize)
		if i > 0 {
			assert.Equal(t, 3, c.Page, "blank page 2 produces no chunks")
		}
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	c := Chunk{Text: "Maximum altitude", Source: "part107.pdf", Page: 12, ChunkIndex: 3}
	assert.Equal(t, c.ID(), c.ID())

	other := c
	other.ChunkIndex = 4
	assert.NotEqual(t, c.ID(), other.ID())
	assert.Len(t, string(c.ID()), 36)
}
