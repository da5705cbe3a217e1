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

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/parser"
	"github.com/kraklabs/repolens/pkg/store"
)

// newFixture builds a store, a service whose embed endpoint always returns
// vec, and a counter of embedding calls.
func newFixture(t *testing.T, vec []float32) (*store.Store, *Service, *atomic.Int32) {
	t.Helper()

	var embedCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		embedCalls.Add(1)
		parts := make([]string, len(vec))
		for i, v := range vec {
			parts[i] = fmt.Sprintf("%g", v)
		}
		_, _ = fmt.Fprintf(w, `{"data":[{"embedding":[%s]}]}`, strings.Join(parts, ","))
	}))
	t.Cleanup(srv.Close)

	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	client, err := ai.NewClient(ai.ProviderOpenAI, "gpt-4o-mini", "k", ai.WithBaseURL(srv.URL))
	require.NoError(t, err)

	return st, New(st, client, nil), &embedCalls
}

func TestHybridScore(t *testing.T) {
	// Full vector and saturated text score with no filename match.
	assert.InDelta(t, 1.0, hybridScore(1.0, 3.0, "other.py", []string{"auth"}), 1e-9)
	// Text score above the cap saturates.
	assert.InDelta(t, 1.0, hybridScore(1.0, 9.0, "other.py", []string{"auth"}), 1e-9)
	// Filename boost multiplies the blended score.
	assert.InDelta(t, 1.3, hybridScore(1.0, 3.0, "src/auth.py", []string{"auth"}), 1e-9)
	// No text signal.
	assert.InDelta(t, 0.7, hybridScore(1.0, 0, "other.py", nil), 1e-9)
}

func TestPathMatchesTerm_WordBoundary(t *testing.T) {
	assert.True(t, pathMatchesTerm("src/auth.py", []string{"auth"}))
	assert.True(t, pathMatchesTerm("src/Auth/session.py", []string{"auth"}))
	assert.False(t, pathMatchesTerm("src/author.py", []string{"auth"}))
	assert.False(t, pathMatchesTerm("src/oauth.py", []string{"auth"}))
}

func seedFile(t *testing.T, st *store.Store, repoID string, f *store.File, summaryVec []float32, records []store.EmbeddingRecord) {
	t.Helper()
	ctx := context.Background()
	f.RepoID = repoID
	f.Parsed = true
	require.NoError(t, st.UpsertFile(ctx, f))
	if f.Summary != "" {
		require.NoError(t, st.UpdateFileSummary(ctx, f.FileID, f.Summary, "openai", "gpt-4o-mini"))
	}
	if summaryVec != nil {
		require.NoError(t, st.UpdateSummaryEmbedding(ctx, f.FileID, summaryVec))
	}
	if records != nil {
		require.NoError(t, st.UpdateFileEmbeddings(ctx, f.FileID, records))
	}
}

func TestSearchCode_HybridRanking(t *testing.T) {
	st, svc, _ := newFixture(t, []float32{1, 0, 0})
	repoID := store.NewID()

	auth := &store.File{
		Path: "src/auth.py", Filename: "auth.py", Language: "python",
		Summary: "Handles login and session tokens.",
		Functions: []parser.FunctionRecord{
			{Name: "login", LineStart: 1, LineEnd: 3},
		},
		Content: "def login(user):\n    token = issue(user)\n    return token\n",
	}
	seedFile(t, st, repoID, auth, []float32{1, 0, 0}, []store.EmbeddingRecord{
		{Type: store.EmbeddingTypeFunction, Name: "login",
			Code: "def login(user):\n    token = issue(user)\n    return token",
			Embedding: []float32{1, 0, 0}, LineStart: 1, LineEnd: 3},
	})

	db := &store.File{Path: "src/db.py", Filename: "db.py", Language: "python", Summary: "Database pool."}
	seedFile(t, st, repoID, db, []float32{0, 1, 0}, []store.EmbeddingRecord{
		{Type: store.EmbeddingTypeFunction, Name: "connect", Embedding: []float32{0, 1, 0}, Code: "def connect(): ...", LineStart: 1, LineEnd: 1},
	})

	hits, err := svc.SearchCode(context.Background(), repoID, "auth login", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	top := hits[0]
	assert.Equal(t, "src/auth.py", top.FilePath)
	require.Len(t, top.CodeElements, 1)
	assert.Equal(t, "login", top.CodeElements[0].Name)
	assert.Contains(t, top.CodeElements[0].Code, "def login")
	// Path contains "auth": boosted above the bare 0.7 vector weight.
	assert.Greater(t, top.Score, 0.9)

	for _, hit := range hits[1:] {
		assert.LessOrEqual(t, hit.Score, top.Score)
	}
}

func TestSearchCode_ClassChunkReconstruction(t *testing.T) {
	st, svc, _ := newFixture(t, []float32{1, 0})
	repoID := store.NewID()

	lines := make([]string, 1000)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	f := &store.File{
		Path: "src/big.py", Filename: "big.py", Language: "python",
		Content: strings.Join(lines, "\n"),
		Classes: []parser.ClassRecord{{Name: "Big", LineStart: 10, LineEnd: 910}},
	}
	seedFile(t, st, repoID, f, nil, []store.EmbeddingRecord{
		{Type: store.EmbeddingTypeClassChunk, Name: "Big_chunk_1", ParentClass: "Big",
			Code: "window text", Embedding: []float32{1, 0},
			LineStart: 610, LineEnd: 910, ChunkIndex: 1, TotalChunks: 2},
	})

	hits, err := svc.SearchCode(context.Background(), repoID, "big window", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Len(t, hits[0].CodeElements, 1)

	el := hits[0].CodeElements[0]
	assert.Equal(t, store.EmbeddingTypeClassChunk, el.Type)
	assert.Equal(t, "Big", el.ParentClass)
	assert.Contains(t, el.ChunkHint, "chunk 2 of 2")
	assert.True(t, strings.HasPrefix(el.FullClassCode, "line 10\n"))
	assert.True(t, strings.HasSuffix(el.FullClassCode, "line 910"))
}

func TestSearchFiles_SummaryOnly(t *testing.T) {
	st, svc, _ := newFixture(t, []float32{1, 0})
	repoID := store.NewID()

	f := &store.File{Path: "docs/guide.md", Filename: "guide.md", Summary: "User guide."}
	seedFile(t, st, repoID, f, []float32{1, 0}, []store.EmbeddingRecord{
		{Type: store.EmbeddingTypeFunction, Name: "x", Embedding: []float32{1, 0}, Code: "x", LineStart: 1, LineEnd: 1},
	})

	hits, err := svc.SearchFiles(context.Background(), repoID, "guide", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "docs/guide.md", hits[0].FilePath)
	assert.Empty(t, hits[0].CodeElements)
}

func TestFindFunction_ExactNeedsNoEmbedding(t *testing.T) {
	st, svc, embedCalls := newFixture(t, []float32{1, 0})
	repoID := store.NewID()

	f := &store.File{
		Path: "src/calc.py", Filename: "calc.py", Language: "python",
		Content: "def add(a, b):\n    return a + b\n",
		Functions: []parser.FunctionRecord{
			{Name: "add", Signature: "def add(a, b)", LineStart: 1, LineEnd: 2},
		},
	}
	seedFile(t, st, repoID, f, nil, nil)

	match, err := svc.FindFunction(context.Background(), repoID, "add", "")
	require.NoError(t, err)
	assert.Equal(t, "src/calc.py", match.FilePath)
	assert.Equal(t, "def add(a, b)", match.Signature)
	assert.Equal(t, "def add(a, b):\n    return a + b", match.Code)
	assert.Zero(t, embedCalls.Load())

	// Constrained to the right path, still exact.
	match, err = svc.FindFunction(context.Background(), repoID, "add", "/src/calc.py")
	require.NoError(t, err)
	assert.Equal(t, 1, match.LineStart)
	assert.Zero(t, embedCalls.Load())
}

func TestFindFunction_VectorFallback(t *testing.T) {
	st, svc, embedCalls := newFixture(t, []float32{1, 0})
	repoID := store.NewID()

	f := &store.File{Path: "src/calc.py", Filename: "calc.py", Language: "python", Content: "def add_numbers(a, b): ...\n"}
	seedFile(t, st, repoID, f, nil, []store.EmbeddingRecord{
		{Type: store.EmbeddingTypeFunction, Name: "add_numbers",
			Code: "def add_numbers(a, b): ...", Embedding: []float32{1, 0}, LineStart: 1, LineEnd: 1},
	})

	match, err := svc.FindFunction(context.Background(), repoID, "addition", "")
	require.NoError(t, err)
	assert.Equal(t, "add_numbers", match.Name)
	assert.Positive(t, embedCalls.Load())
}

func TestGetFileByPathAndOverview(t *testing.T) {
	st, svc, _ := newFixture(t, []float32{1})
	ctx := context.Background()

	repo := &store.Repository{
		RepoID: store.NewID(), GitHubURL: "https://github.com/o/r",
		FullName: "o/r", Status: store.RepoStatusCompleted,
	}
	require.NoError(t, st.CreateRepository(ctx, repo))
	require.NoError(t, st.SetRepositoryOverview(ctx, repo.RepoID, "Does things."))
	require.NoError(t, st.SetRepositoryStats(ctx, repo.RepoID, 1, map[string]int{"go": 1}))

	f := &store.File{Path: "main.go", Filename: "main.go", Language: "go", Content: "package main\n"}
	seedFile(t, st, repo.RepoID, f, nil, nil)

	detail, err := svc.GetFileByPath(ctx, repo.RepoID, "/main.go")
	require.NoError(t, err)
	assert.Equal(t, "main.go", detail.FilePath)
	assert.Equal(t, "package main\n", detail.Content)

	overview, err := svc.GetRepoOverview(ctx, repo.RepoID)
	require.NoError(t, err)
	assert.Equal(t, "Does things.", overview.Overview)
	assert.Equal(t, 1, overview.Languages["go"])
	assert.Equal(t, "https://github.com/o/r", overview.GitHubURL)
}
