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

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repolens/pkg/store"
)

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repolens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"database_path: /data/repolens.db\nport: 9090\nai_provider: gemini\nai_model: gemini-2.0-flash\nenv: production\n",
	), 0o644))

	t.Setenv("REPOLENS_PORT", "7070")
	t.Setenv("REPOLENS_AI_API_KEY", "env-key")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/repolens.db", cfg.DatabasePath)
	assert.Equal(t, 7070, cfg.Port) // env beats file
	assert.Equal(t, "gemini", cfg.AIProvider)
	assert.Equal(t, "env-key", cfg.AIAPIKey)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 768, cfg.EmbeddingDimension)
}

func TestLoadConfig_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "repolens.db", cfg.DatabasePath)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadConfig_ExplicitMissingFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestRedactKey(t *testing.T) {
	assert.Equal(t, "", redactKey(""))
	assert.Equal(t, "***", redactKey("abc"))
	assert.Equal(t, "********3456", redactKey("sk-12345-3456"))
}

func TestCreateIngestionDocs_FailsTaskWhenRepositoryInsertFails(t *testing.T) {
	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	existing := &store.Repository{RepoID: "dup-1", GitHubURL: "https://github.com/x/a", FullName: "x/a"}
	require.NoError(t, st.CreateRepository(ctx, existing))

	task := &store.Task{TaskID: store.NewID(), TaskType: "repository_ingestion"}
	clash := &store.Repository{RepoID: "dup-1", GitHubURL: "https://github.com/x/b", FullName: "x/b"}
	err = createIngestionDocs(ctx, st, task, clash)
	require.Error(t, err)

	// The task must not linger as queued when the repository row was
	// never written.
	got, err := st.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusFailed, got.Status)
	assert.Equal(t, store.StepFailed, got.Progress.CurrentStep)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestResolveRepoID(t *testing.T) {
	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	a := &store.Repository{RepoID: "aaaa1111", GitHubURL: "https://github.com/x/a", FullName: "x/a"}
	b := &store.Repository{RepoID: "aabb2222", GitHubURL: "https://github.com/x/b", FullName: "x/b"}
	require.NoError(t, st.CreateRepository(ctx, a))
	require.NoError(t, st.CreateRepository(ctx, b))

	got, err := resolveRepoID(ctx, st, "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, "aaaa1111", got)

	got, err = resolveRepoID(ctx, st, "aab")
	require.NoError(t, err)
	assert.Equal(t, "aabb2222", got)

	_, err = resolveRepoID(ctx, st, "aa")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = resolveRepoID(ctx, st, "zz")
	assert.ErrorContains(t, err, "no repository")
}
