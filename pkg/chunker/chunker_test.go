// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package chunker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/parser"
	"github.com/kraklabs/repolens/pkg/store"
)

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestBuildChunks_SmallClassWhole(t *testing.T) {
	f := &store.File{
		Content: numberedLines(50),
		Classes: []parser.ClassRecord{{
			Name: "Engine", LineStart: 5, LineEnd: 30,
			Methods: []parser.FunctionRecord{{Name: "start"}, {Name: "stop"}},
		}},
		Functions: []parser.FunctionRecord{
			{Name: "start", ParentClass: "Engine", IsMethod: true, LineStart: 6, LineEnd: 10},
			{Name: "helper", LineStart: 35, LineEnd: 40},
		},
	}

	chunks := BuildChunks(f)
	require.Len(t, chunks, 2)

	cls := chunks[0]
	assert.Equal(t, store.EmbeddingTypeClass, cls.Type)
	assert.Equal(t, "Engine", cls.Name)
	assert.Equal(t, 2, cls.MethodCount)
	assert.Equal(t, 5, cls.LineStart)
	assert.Equal(t, 30, cls.LineEnd)
	assert.True(t, strings.HasPrefix(cls.Code, "line 5\n"))
	assert.True(t, strings.HasSuffix(cls.Code, "line 30"))

	fn := chunks[1]
	assert.Equal(t, store.EmbeddingTypeFunction, fn.Type)
	assert.Equal(t, "helper", fn.Name)
	assert.Equal(t, 35, fn.LineStart)

	// Methods of a small class ride on the class embedding.
	for _, c := range chunks {
		assert.NotEqual(t, "start", c.Name)
	}
}

func TestBuildChunks_LargeClassWindows(t *testing.T) {
	f := &store.File{
		Content: numberedLines(1000),
		Classes: []parser.ClassRecord{{Name: "Big", LineStart: 10, LineEnd: 910}},
	}

	chunks := BuildChunks(f)
	require.Len(t, chunks, 2)

	first, second := chunks[0], chunks[1]
	assert.Equal(t, store.EmbeddingTypeClassChunk, first.Type)
	assert.Equal(t, "Big_chunk_0", first.Name)
	assert.Equal(t, "Big", first.ParentClass)
	assert.Equal(t, 10, first.LineStart)
	assert.Equal(t, 709, first.LineEnd)
	assert.Equal(t, 0, first.ChunkIndex)
	assert.Equal(t, 2, first.TotalChunks)

	assert.Equal(t, "Big_chunk_1", second.Name)
	assert.Equal(t, 610, second.LineStart)
	assert.Equal(t, 910, second.LineEnd)
	assert.Equal(t, 2, second.TotalChunks)

	// Consecutive windows overlap by the configured number of lines.
	assert.Equal(t, windowOverlap, first.LineEnd-second.LineStart+1)
}

func TestBuildChunks_BoundarySpanNotWindowed(t *testing.T) {
	f := &store.File{
		Content: numberedLines(900),
		Classes: []parser.ClassRecord{{Name: "Edge", LineStart: 1, LineEnd: 801}},
	}
	chunks := BuildChunks(f)
	require.Len(t, chunks, 1)
	assert.Equal(t, store.EmbeddingTypeClass, chunks[0].Type)
}

func TestBuildChunks_LineRangeClamped(t *testing.T) {
	f := &store.File{
		Content:   numberedLines(10),
		Functions: []parser.FunctionRecord{{Name: "tail", LineStart: 8, LineEnd: 25}},
	}
	chunks := BuildChunks(f)
	require.Len(t, chunks, 1)
	assert.True(t, strings.HasSuffix(chunks[0].Code, "line 10"))
}

func TestEmbedFiles_PersistsVectorsAndSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"data":[{"embedding":[0.5,0.5]}]}`)
	}))
	defer srv.Close()

	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	f := &store.File{
		RepoID:  store.NewID(),
		Path:    "src/calc.py",
		Content: "def add(a, b):\n    return a + b\n",
		Functions: []parser.FunctionRecord{
			{Name: "add", LineStart: 1, LineEnd: 2},
		},
		Parsed: true,
	}
	require.NoError(t, st.UpsertFile(ctx, f))
	require.NoError(t, st.UpdateFileSummary(ctx, f.FileID, "Adds numbers.", "openai", "gpt-4o-mini"))

	client, err := ai.NewClient(ai.ProviderOpenAI, "gpt-4o-mini", "k", ai.WithBaseURL(srv.URL))
	require.NoError(t, err)

	var lastProgress int
	c := New(st, client, nil)
	c.EmbedFiles(ctx, []*store.File{f}, func(n int) { lastProgress = n })
	assert.Equal(t, 1, lastProgress)

	got, err := st.GetFile(ctx, f.FileID)
	require.NoError(t, err)
	require.Len(t, got.Embeddings, 1)
	assert.Equal(t, "add", got.Embeddings[0].Name)
	assert.Equal(t, []float32{0.5, 0.5}, got.Embeddings[0].Embedding)
	assert.Equal(t, []float32{0.5, 0.5}, got.SummaryEmbedding)
	assert.True(t, got.Embedded)
}

func TestEmbedSummaries_SkipsFilesWithoutSummary(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = fmt.Fprint(w, `{"data":[{"embedding":[1]}]}`)
	}))
	defer srv.Close()

	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	f := &store.File{RepoID: store.NewID(), Path: "empty.txt", Parsed: true}
	require.NoError(t, st.UpsertFile(ctx, f))

	client, err := ai.NewClient(ai.ProviderOpenAI, "gpt-4o-mini", "k", ai.WithBaseURL(srv.URL))
	require.NoError(t, err)

	c := New(st, client, nil)
	c.EmbedSummaries(ctx, []*store.File{f}, nil)
	assert.Zero(t, calls)

	got, err := st.GetFile(ctx, f.FileID)
	require.NoError(t, err)
	assert.Empty(t, got.SummaryEmbedding)
}
