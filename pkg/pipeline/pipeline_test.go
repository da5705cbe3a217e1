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

package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/githubapi"
	"github.com/kraklabs/repolens/pkg/parser"
	"github.com/kraklabs/repolens/pkg/store"
)

const mainPy = `class Engine:
    def start(self):
        return True

    def stop(self):
        return False

def run():
    return Engine()
`

const utilPy = `from src.main import run

def helper():
    return run()
`

func fileNode(path string, size int64) *githubapi.TreeNode {
	return &githubapi.TreeNode{Type: "file", Path: path, Size: size}
}

func testTree() *githubapi.TreeNode {
	return &githubapi.TreeNode{
		Type: "folder",
		Children: map[string]*githubapi.TreeNode{
			"README.md": fileNode("README.md", 20),
			"src": {
				Type: "folder",
				Children: map[string]*githubapi.TreeNode{
					"main.py": fileNode("src/main.py", int64(len(mainPy))),
					"util.py": fileNode("src/util.py", int64(len(utilPy))),
				},
			},
		},
	}
}

func newRawServer(t *testing.T) *httptest.Server {
	t.Helper()
	contents := map[string]string{
		"/octocat/hello/main/README.md":  "# Hello\nSample project.",
		"/octocat/hello/main/src/main.py": mainPy,
		"/octocat/hello/main/src/util.py": utilPy,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := contents[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAIServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embeddings":
			_, _ = fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
		case "/chat/completions":
			_, _ = fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Summary text."}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_EndToEnd(t *testing.T) {
	raw := newRawServer(t)
	aiSrv := newAIServer(t)

	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	repo := &store.Repository{
		RepoID:        store.NewID(),
		SessionID:     "sess-1",
		GitHubURL:     "https://github.com/octocat/hello",
		Owner:         "octocat",
		Name:          "hello",
		FullName:      "octocat/hello",
		DefaultBranch: "main",
		Status:        store.RepoStatusPending,
		FileTree:      testTree(),
	}
	require.NoError(t, st.CreateRepository(ctx, repo))
	task := &store.Task{TaskID: store.NewID(), TaskType: "repo_ingestion"}
	require.NoError(t, st.CreateTask(ctx, task))
	_, err = st.EnsureSession(ctx, "sess-1", store.Preferences{AIProvider: "openai", AIModel: "gpt-4o-mini"})
	require.NoError(t, err)

	gh := githubapi.NewClient(nil, githubapi.WithBaseURLs(raw.URL, raw.URL))
	p := New(st, gh, parser.NewRegistry(nil), nil, WithAIOptions(ai.WithBaseURL(aiSrv.URL)))

	require.NoError(t, p.Run(ctx, Request{
		RepoID: repo.RepoID, TaskID: task.TaskID, SessionID: "sess-1", APIKey: "k",
	}))

	gotTask, err := st.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, gotTask.Status)
	assert.Equal(t, store.StepCompleted, gotTask.Progress.CurrentStep)
	assert.Equal(t, 3, gotTask.Progress.TotalFiles)
	assert.Equal(t, 3, gotTask.Progress.ProcessedFiles)

	gotRepo, err := st.GetRepository(ctx, repo.RepoID)
	require.NoError(t, err)
	assert.Equal(t, store.RepoStatusCompleted, gotRepo.Status)
	assert.Equal(t, 3, gotRepo.FileCount)
	assert.Equal(t, 2, gotRepo.LanguagesBreakdown["python"])
	assert.Equal(t, 1, gotRepo.LanguagesBreakdown["markdown"])
	assert.Equal(t, "Summary text.", gotRepo.Overview)

	// Parsed structure: flat functions with parent class markers.
	mainFile, err := st.GetFileByPath(ctx, repo.RepoID, "src/main.py")
	require.NoError(t, err)
	require.Len(t, mainFile.Functions, 3)
	names := map[string]string{}
	for _, fn := range mainFile.Functions {
		names[fn.Name] = fn.ParentClass
	}
	assert.Equal(t, "Engine", names["start"])
	assert.Equal(t, "Engine", names["stop"])
	assert.Equal(t, "", names["run"])
	assert.True(t, mainFile.Parsed)
	assert.True(t, mainFile.Embedded)
	assert.Equal(t, "Summary text.", mainFile.Summary)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, mainFile.SummaryEmbedding)

	// Dependency edges, reverse included.
	assert.Contains(t, mainFile.Dependencies.ImportedBy, "src/util.py")
	utilFile, err := st.GetFileByPath(ctx, repo.RepoID, "src/util.py")
	require.NoError(t, err)
	assert.Contains(t, utilFile.Dependencies.Imports, "src/main.py")
}

func TestRun_EmptyTreeCompletesImmediately(t *testing.T) {
	aiSrv := newAIServer(t)

	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	repo := &store.Repository{
		RepoID: store.NewID(), Owner: "o", Name: "empty", FullName: "o/empty",
		GitHubURL: "https://github.com/o/empty", DefaultBranch: "main",
		Status:   store.RepoStatusPending,
		FileTree: &githubapi.TreeNode{Type: "folder", Children: map[string]*githubapi.TreeNode{}},
	}
	require.NoError(t, st.CreateRepository(ctx, repo))
	task := &store.Task{TaskID: store.NewID(), TaskType: "repo_ingestion"}
	require.NoError(t, st.CreateTask(ctx, task))

	gh := githubapi.NewClient(nil)
	p := New(st, gh, parser.NewRegistry(nil), nil,
		WithAIOptions(ai.WithBaseURL(aiSrv.URL)),
		WithDevFallback(store.Preferences{AIProvider: "openai", AIModel: "gpt-4o-mini"}))

	require.NoError(t, p.Run(ctx, Request{RepoID: repo.RepoID, TaskID: task.TaskID, APIKey: "k"}))

	gotTask, err := st.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, gotTask.Status)
}

func TestRun_NoPreferencesFailsTask(t *testing.T) {
	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	repo := &store.Repository{
		RepoID: store.NewID(), Owner: "o", Name: "r", FullName: "o/r",
		GitHubURL: "https://github.com/o/r", Status: store.RepoStatusPending,
	}
	require.NoError(t, st.CreateRepository(ctx, repo))
	task := &store.Task{TaskID: store.NewID(), TaskType: "repo_ingestion"}
	require.NoError(t, st.CreateTask(ctx, task))

	p := New(st, githubapi.NewClient(nil), parser.NewRegistry(nil), nil)
	err = p.Run(ctx, Request{RepoID: repo.RepoID, TaskID: task.TaskID, SessionID: "ghost"})
	require.Error(t, err)

	gotTask, err := st.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusFailed, gotTask.Status)
	assert.Equal(t, store.StepFailed, gotTask.Progress.CurrentStep)

	gotRepo, err := st.GetRepository(ctx, repo.RepoID)
	require.NoError(t, err)
	assert.Equal(t, store.RepoStatusFailed, gotRepo.Status)
}

func TestParseOne_StoresParserFailureOnRecord(t *testing.T) {
	// A file the parser rejects is still stored, with the failure folded
	// into the record's parse_error instead of aborting the run.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "package broken\nfunc {{{\n")
	}))
	t.Cleanup(srv.Close)

	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	repo := &store.Repository{
		RepoID:        store.NewID(),
		GitHubURL:     "https://github.com/octocat/hello",
		Owner:         "octocat",
		Name:          "hello",
		FullName:      "octocat/hello",
		DefaultBranch: "main",
		Status:        store.RepoStatusPending,
	}
	require.NoError(t, st.CreateRepository(ctx, repo))

	gh := githubapi.NewClient(nil, githubapi.WithBaseURLs(srv.URL, srv.URL))
	p := New(st, gh, parser.NewRegistry(nil), nil)

	language, ok := p.parseOne(ctx, repo.RepoID, repo, githubapi.FileRef{Path: "pkg/broken.go", Size: 24})
	require.True(t, ok)
	assert.Equal(t, "go", language)

	f, err := st.GetFileByPath(ctx, repo.RepoID, "pkg/broken.go")
	require.NoError(t, err)
	assert.True(t, f.Parsed)
	assert.NotEmpty(t, f.ParseError)
	assert.Empty(t, f.Functions)
}

func TestResolvePreferences(t *testing.T) {
	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	_, err = st.EnsureSession(ctx, "sess-1", store.Preferences{AIProvider: "gemini", AIModel: "gemini-2.0-flash"})
	require.NoError(t, err)

	p := New(st, githubapi.NewClient(nil), parser.NewRegistry(nil), nil,
		WithDevFallback(store.Preferences{AIProvider: "openai", AIModel: "gpt-4o-mini"}))

	prefs, err := p.resolvePreferences(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "gemini", prefs.AIProvider)

	// Unknown session falls back to the dev defaults in dev mode.
	prefs, err = p.resolvePreferences(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "openai", prefs.AIProvider)

	strict := New(st, githubapi.NewClient(nil), parser.NewRegistry(nil), nil)
	_, err = strict.resolvePreferences(ctx, "ghost")
	require.Error(t, err)
}
