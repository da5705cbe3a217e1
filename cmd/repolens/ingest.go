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
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repolens/internal/ui"
	"github.com/kraklabs/repolens/pkg/githubapi"
	"github.com/kraklabs/repolens/pkg/parser"
	"github.com/kraklabs/repolens/pkg/pipeline"
	"github.com/kraklabs/repolens/pkg/store"
)

// runIngest executes the 'ingest' CLI command: one synchronous ingestion
// of a GitHub repository into the local database.
func runIngest(args []string, cfg *Config, globals GlobalFlags) int {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	apiKey := fs.String("api-key", "", "AI provider API key (default: config / environment)")
	provider := fs.String("provider", cfg.AIProvider, "AI provider (openai or gemini)")
	model := fs.String("model", cfg.AIModel, "Chat model name")
	sessionID := fs.String("session", "", "Session id to ingest under (default: new session)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repolens ingest [options] <github-url>

Description:
  Fetch the repository, parse every retained file, embed code and
  summaries, and generate the repository overview. Progress is shown per
  ingestion step; the resulting repo id is printed on success and can be
  passed to 'repolens ask'.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	githubURL := fs.Arg(0)

	key := *apiKey
	if key == "" {
		key = cfg.APIKeyFallback()
	}
	if key == "" {
		ui.Error("no API key: pass --api-key or set REPOLENS_AI_API_KEY")
		return 1
	}

	logger := newLogger(cfg)
	st, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		ui.Error("open database: %v", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	sid := *sessionID
	if sid == "" {
		sid = store.NewID()
	}
	prefs := store.Preferences{AIProvider: *provider, AIModel: *model}
	if _, err := st.EnsureSession(ctx, sid, prefs); err != nil {
		ui.Error("session: %v", err)
		return 1
	}

	gh := githubapi.NewClient(logger)
	owner, name, err := githubapi.ParseURL(githubURL)
	if err != nil {
		ui.Error("%v", err)
		return 1
	}

	if !globals.Quiet {
		ui.Info("fetching %s/%s ...", owner, name)
	}
	meta, err := gh.GetMetadata(ctx, owner, name)
	if err != nil {
		ui.Error("fetch metadata: %v", err)
		return 1
	}
	tree, err := gh.GetTree(ctx, owner, name, meta.DefaultBranch)
	if err != nil {
		ui.Error("fetch tree: %v", err)
		return 1
	}

	task := &store.Task{TaskID: store.NewID(), TaskType: "repository_ingestion"}
	repo := &store.Repository{
		RepoID:        store.NewID(),
		SessionID:     sid,
		GitHubURL:     githubURL,
		Owner:         meta.Owner,
		Name:          meta.Name,
		FullName:      meta.FullName,
		Description:   meta.Description,
		DefaultBranch: meta.DefaultBranch,
		Language:      meta.Language,
		Stars:         meta.Stars,
		Forks:         meta.Forks,
		Status:        store.RepoStatusFetched,
		FileTree:      tree,
	}
	if err := createIngestionDocs(ctx, st, task, repo); err != nil {
		ui.Error("%v", err)
		return 1
	}

	registry := prometheus.NewRegistry()
	pipe := pipeline.New(st, gh, parser.NewRegistry(logger), logger,
		pipeline.WithMetrics(pipeline.NewMetrics(registry)))

	// The pipeline writes progress to the task document; a poller turns
	// that into a terminal progress bar.
	pollCtx, stopPoll := context.WithCancel(ctx)
	pollDone := make(chan struct{})
	go pollTaskProgress(pollCtx, st, task.TaskID, globals, pollDone)

	start := time.Now()
	runErr := pipe.Run(ctx, pipeline.Request{
		RepoID:    repo.RepoID,
		TaskID:    task.TaskID,
		SessionID: sid,
		APIKey:    key,
	})
	stopPoll()
	<-pollDone

	if runErr != nil {
		ui.Error("ingestion failed: %v", runErr)
		return 1
	}

	final, err := st.GetRepository(ctx, repo.RepoID)
	if err != nil {
		ui.Error("load repository: %v", err)
		return 1
	}
	ui.Success("ingested %s (%d files) in %s", final.FullName, final.FileCount, time.Since(start).Round(time.Second))
	fmt.Printf("repo_id: %s\n", final.RepoID)
	return 0
}

// createIngestionDocs persists the task and repository documents for one
// run. A repository insert failure fails the task so it never lingers in
// queued state.
func createIngestionDocs(ctx context.Context, st *store.Store, task *store.Task, repo *store.Repository) error {
	if err := st.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	repo.TaskID = task.TaskID
	if err := st.CreateRepository(ctx, repo); err != nil {
		if ferr := st.FailTask(ctx, task.TaskID, err.Error()); ferr != nil {
			ui.Warn("mark task %s failed: %v", task.TaskID, ferr)
		}
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

// stepDescription maps ingestion steps to progress bar labels.
func stepDescription(step string) string {
	switch step {
	case store.StepFetching:
		return "Fetching files"
	case store.StepParsing:
		return "Parsing files"
	case store.StepEmbedding:
		return "Embedding code"
	case store.StepSummarizing:
		return "Summarizing files"
	case store.StepOverview:
		return "Generating overview"
	case store.StepFinalizing:
		return "Finalizing"
	default:
		return "Processing"
	}
}

// pollTaskProgress renders task progress until the context is cancelled.
func pollTaskProgress(ctx context.Context, st *store.Store, taskID string, globals GlobalFlags, done chan<- struct{}) {
	defer close(done)
	if globals.Quiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		<-ctx.Done()
		return
	}

	var bar *progressbar.ProgressBar
	var barStep string
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			return
		case <-ticker.C:
		}

		task, err := st.GetTask(ctx, taskID)
		if err != nil {
			continue
		}
		step := task.Progress.CurrentStep
		if task.Progress.TotalFiles == 0 {
			continue
		}
		if step != barStep {
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			barStep = step
			bar = progressbar.NewOptions(task.Progress.TotalFiles,
				progressbar.OptionSetDescription(stepDescription(step)),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		if bar != nil {
			_ = bar.Set(task.Progress.ProcessedFiles)
		}
	}
}
