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

package analyzer

import (
	"context"
	"fmt"
	"io"
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

func TestClassifyFile(t *testing.T) {
	tests := []struct {
		name string
		file store.File
		want string
	}{
		{"code", store.File{Filename: "app.py", Extension: ".py",
			Functions: []parser.FunctionRecord{{Name: "run"}}}, KindCode},
		{"config", store.File{Filename: "config.yaml", Extension: ".yaml"}, KindConfig},
		{"docs", store.File{Filename: "CHANGELOG.md", Extension: ".md"}, KindDocs},
		{"shell", store.File{Filename: "deploy.sh", Extension: ".sh"}, KindScript},
		{"makefile", store.File{Filename: "Makefile"}, KindScript},
		{"dockerfile", store.File{Filename: "Dockerfile"}, KindScript},
		{"generic", store.File{Filename: "data.csv", Extension: ".csv"}, KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFile(&tt.file))
		})
	}
}

func TestBuildSummaryPrompt_Limits(t *testing.T) {
	f := &store.File{
		Path:     "src/big.py",
		Filename: "big.py",
		Language: "python",
		Content:  strings.Repeat("x", 3000),
	}
	for i := 0; i < 15; i++ {
		f.Functions = append(f.Functions, parser.FunctionRecord{
			Name: fmt.Sprintf("fn%d", i), Signature: fmt.Sprintf("def fn%d()", i),
		})
		f.Imports = append(f.Imports, fmt.Sprintf("mod%d", i))
	}

	prompt := BuildSummaryPrompt(f)
	assert.Contains(t, prompt, "def fn9()")
	assert.NotContains(t, prompt, "def fn10()")
	assert.Contains(t, prompt, "... and 5 more")
	assert.Contains(t, prompt, "... [truncated]")
	assert.Contains(t, prompt, "Path: src/big.py")
	// Content is capped, not dropped.
	assert.Contains(t, prompt, strings.Repeat("x", 100))
	assert.Less(t, len(prompt), 3500)
}

func TestBuildSummaryPrompt_MethodParent(t *testing.T) {
	f := &store.File{
		Path: "src/engine.py", Filename: "engine.py", Language: "python",
		Functions: []parser.FunctionRecord{
			{Name: "start", Signature: "def start(self)", ParentClass: "Engine", IsMethod: true},
		},
		Classes: []parser.ClassRecord{
			{Name: "Engine", Methods: []parser.FunctionRecord{{Name: "start"}}},
		},
	}
	prompt := BuildSummaryPrompt(f)
	assert.Contains(t, prompt, "def start(self) (method of Engine)")
	assert.Contains(t, prompt, "Engine (methods: start)")
}

func TestStripThink(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain answer", "plain answer"},
		{"<think>reasoning</think>answer", "answer"},
		{"a<think>x</think>b<think>y</think>c", "abc"},
		{"<think>multi\nline</think>\nresult", "result"},
		{"partial<think>never closed", "partial"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripThink(tt.in))
	}
}

func TestSelectOverviewFiles(t *testing.T) {
	mk := func(path string, fns int) *store.File {
		f := &store.File{Path: path}
		if i := strings.LastIndex(path, "/"); i >= 0 {
			f.Filename = path[i+1:]
		} else {
			f.Filename = path
		}
		if j := strings.LastIndex(f.Filename, "."); j >= 0 {
			f.Extension = f.Filename[j:]
		}
		for i := 0; i < fns; i++ {
			f.Functions = append(f.Functions, parser.FunctionRecord{Name: fmt.Sprintf("f%d", i)})
		}
		return f
	}

	files := []*store.File{
		mk("src/util.py", 2),
		mk("src/main.py", 1),
		mk("README.md", 0),
		mk("src/core.py", 9),
		mk("src/app.ts", 0),
	}

	got := SelectOverviewFiles(files, 10)
	require.Len(t, got, 5)
	assert.Equal(t, "README.md", got[0].Path)
	// Entry points before the rest, rest by structure count descending.
	assert.ElementsMatch(t, []string{"src/main.py", "src/app.ts"}, []string{got[1].Path, got[2].Path})
	assert.Equal(t, "src/core.py", got[3].Path)
	assert.Equal(t, "src/util.py", got[4].Path)

	capped := SelectOverviewFiles(files, 2)
	require.Len(t, capped, 2)
	assert.Equal(t, "README.md", capped[0].Path)
}

func TestSummarizeFiles_PersistsStrippedSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"<think>hmm</think>Parses config files."}}]}`)
	}))
	defer srv.Close()

	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	repoID := store.NewID()
	f := &store.File{RepoID: repoID, Path: "src/config.py", Filename: "config.py", Language: "python", Parsed: true}
	require.NoError(t, st.UpsertFile(ctx, f))

	client, err := ai.NewClient(ai.ProviderOpenAI, "gpt-4o-mini", "k", ai.WithBaseURL(srv.URL))
	require.NoError(t, err)

	var lastProgress int
	a := New(st, client, nil)
	a.SummarizeFiles(ctx, []*store.File{f}, func(n int) { lastProgress = n })
	assert.Equal(t, 1, lastProgress)

	got, err := st.GetFile(ctx, f.FileID)
	require.NoError(t, err)
	assert.Equal(t, "Parses config files.", got.Summary)
	assert.Equal(t, "openai", got.AIProvider)
	assert.Equal(t, "gpt-4o-mini", got.AIModel)
	assert.True(t, got.Analyzed)
}

func TestGenerateOverview(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPrompt = string(body)
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"An ingestion service."}}]}`)
	}))
	defer srv.Close()

	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	client, err := ai.NewClient(ai.ProviderOpenAI, "gpt-4o-mini", "k", ai.WithBaseURL(srv.URL))
	require.NoError(t, err)

	repo := &store.Repository{
		FullName:           "octocat/hello",
		FileCount:          2,
		LanguagesBreakdown: map[string]int{"python": 2},
	}
	files := []*store.File{
		{Path: "README.md", Filename: "README.md", Extension: ".md", Summary: "Project readme."},
		{Path: "src/main.py", Filename: "main.py", Extension: ".py", Summary: "Entry point."},
	}

	a := New(st, client, nil)
	overview, err := a.GenerateOverview(context.Background(), repo, files)
	require.NoError(t, err)
	assert.Equal(t, "An ingestion service.", overview)
	assert.Contains(t, gotPrompt, "octocat/hello")
	assert.Contains(t, gotPrompt, "python: 2")
	assert.Contains(t, gotPrompt, "Project readme.")
}
