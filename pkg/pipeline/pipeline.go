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

// Package pipeline orchestrates one repository ingestion end to end:
// fetch, parse, the three-way analysis fan-out (dependencies, embeddings,
// summaries), summary re-embedding plus overview, and finalization. Task
// steps only move forward; per-file failures are logged and skipped while
// fatal conditions fail the task.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/analyzer"
	"github.com/kraklabs/repolens/pkg/chunker"
	"github.com/kraklabs/repolens/pkg/githubapi"
	"github.com/kraklabs/repolens/pkg/graph"
	"github.com/kraklabs/repolens/pkg/parser"
	"github.com/kraklabs/repolens/pkg/store"
)

// parseBatchSize caps concurrent file fetches within the parse stage.
const parseBatchSize = 100

// Pipeline runs ingestion for one store and provider configuration.
type Pipeline struct {
	store   *store.Store
	github  *githubapi.Client
	parsers *parser.Registry
	logger  *slog.Logger
	metrics *Metrics

	devMode     bool
	devDefaults store.Preferences
	aiOptions   []ai.Option
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics injects a shared metrics set.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithDevFallback enables development mode with fallback AI preferences
// used when a session carries none.
func WithDevFallback(prefs store.Preferences) Option {
	return func(p *Pipeline) {
		p.devMode = true
		p.devDefaults = prefs
	}
}

// WithAIOptions forwards options to the per-run AI clients, mainly for
// tests.
func WithAIOptions(opts ...ai.Option) Option {
	return func(p *Pipeline) { p.aiOptions = opts }
}

// New builds a pipeline. A nil logger falls back to slog.Default; metrics
// default to a private registry.
func New(st *store.Store, gh *githubapi.Client, registry *parser.Registry, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		store:   st,
		github:  gh,
		parsers: registry,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return p
}

// Request identifies one ingestion run.
type Request struct {
	RepoID    string
	TaskID    string
	SessionID string
	APIKey    string
}

// Run ingests one repository. The repository and task documents must
// already exist (created by the API layer when ingestion was requested).
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	if err := p.run(ctx, req); err != nil {
		p.logger.Error("pipeline.run.failed", "repo_id", req.RepoID, "error", err)
		if ferr := p.store.FailTask(ctx, req.TaskID, err.Error()); ferr != nil {
			p.logger.Error("pipeline.task.fail_write", "task_id", req.TaskID, "error", ferr)
		}
		if serr := p.store.UpdateRepositoryStatus(ctx, req.RepoID, store.RepoStatusFailed, err.Error()); serr != nil {
			p.logger.Error("pipeline.repo.fail_write", "repo_id", req.RepoID, "error", serr)
		}
		p.metrics.RunsCompleted.WithLabelValues("failed").Inc()
		return err
	}
	p.metrics.RunsCompleted.WithLabelValues("completed").Inc()
	return nil
}

func (p *Pipeline) run(ctx context.Context, req Request) error {
	prefs, err := p.resolvePreferences(ctx, req.SessionID)
	if err != nil {
		return err
	}
	client, err := ai.NewClient(prefs.AIProvider, prefs.AIModel, req.APIKey, p.aiOptions...)
	if err != nil {
		return err
	}

	if err := p.store.AdvanceTaskStep(ctx, req.TaskID, store.StepFetching); err != nil {
		return err
	}
	repo, err := p.store.GetRepository(ctx, req.RepoID)
	if err != nil {
		return fmt.Errorf("load repository: %w", err)
	}
	if err := p.store.UpdateRepositoryStatus(ctx, req.RepoID, store.RepoStatusProcessing, ""); err != nil {
		return err
	}

	refs := githubapi.FlattenTree(repo.FileTree)
	total := len(refs)
	p.logger.Info("pipeline.fetch.done", "repo", repo.FullName, "files", total)
	if total == 0 {
		return p.finalize(ctx, req, repo, 0)
	}
	if err := p.store.UpdateTaskProgress(ctx, req.TaskID, 0, total); err != nil {
		return err
	}

	// Parse stage.
	if err := p.store.AdvanceTaskStep(ctx, req.TaskID, store.StepParsing); err != nil {
		return err
	}
	breakdown := map[string]int{}
	stored := 0
	p.observeStage("parsing", func() {
		stored = p.parseStage(ctx, req, repo, refs, breakdown)
	})
	if err := p.store.SetRepositoryStats(ctx, req.RepoID, stored, breakdown); err != nil {
		return err
	}

	files, err := p.store.ListFiles(ctx, req.RepoID)
	if err != nil {
		return fmt.Errorf("list parsed files: %w", err)
	}

	// Three-way analysis fan-out. Each branch catches its own failure; the
	// pipeline proceeds with whatever succeeded.
	if err := p.store.AdvanceTaskStep(ctx, req.TaskID, store.StepEmbedding); err != nil {
		return err
	}
	emb := chunker.New(p.store, client, p.logger)
	ana := analyzer.New(p.store, client, p.logger)

	var fanout errgroup.Group
	fanout.Go(func() error {
		p.observeStage("dependencies", func() {
			p.resolveDependencies(ctx, req.RepoID, files)
		})
		return nil
	})
	fanout.Go(func() error {
		p.observeStage("embedding", func() {
			last := 0
			emb.EmbedFiles(ctx, files, func(processed int) {
				p.metrics.FilesEmbedded.Add(float64(processed - last))
				last = processed
				if err := p.store.UpdateTaskProgress(ctx, req.TaskID, processed, total); err != nil {
					p.logger.Warn("pipeline.progress.write_failed", "error", err)
				}
			})
		})
		return nil
	})
	fanout.Go(func() error {
		if err := p.store.AdvanceTaskStep(ctx, req.TaskID, store.StepSummarizing); err != nil {
			p.logger.Warn("pipeline.step.advance_failed", "step", store.StepSummarizing, "error", err)
		}
		p.observeStage("summarizing", func() {
			last := 0
			ana.SummarizeFiles(ctx, files, func(processed int) {
				p.metrics.FilesAnalyzed.Add(float64(processed - last))
				last = processed
			})
		})
		return nil
	})
	_ = fanout.Wait()

	// Post fan-out: re-embed the now-final summaries alongside the overview.
	if err := p.store.AdvanceTaskStep(ctx, req.TaskID, store.StepOverview); err != nil {
		return err
	}
	summarized, err := p.store.ListFiles(ctx, req.RepoID)
	if err != nil {
		return fmt.Errorf("list summarized files: %w", err)
	}
	repo, err = p.store.GetRepository(ctx, req.RepoID)
	if err != nil {
		return err
	}

	var post errgroup.Group
	post.Go(func() error {
		p.observeStage("summary_embedding", func() {
			emb.EmbedSummaries(ctx, summarized, nil)
		})
		return nil
	})
	post.Go(func() error {
		p.observeStage("overview", func() {
			overview, err := ana.GenerateOverview(ctx, repo, summarized)
			if err != nil {
				p.logger.Warn("pipeline.overview.skip", "repo_id", req.RepoID, "error", err)
				return
			}
			if err := p.store.SetRepositoryOverview(ctx, req.RepoID, overview); err != nil {
				p.logger.Warn("pipeline.overview.store_failed", "repo_id", req.RepoID, "error", err)
			}
		})
		return nil
	})
	_ = post.Wait()

	return p.finalize(ctx, req, repo, total)
}

// parseStage fetches and parses refs in sequential batches concurrent
// within each batch, returning the number of stored files.
func (p *Pipeline) parseStage(ctx context.Context, req Request, repo *store.Repository, refs []githubapi.FileRef, breakdown map[string]int) int {
	var mu sync.Mutex
	stored := 0
	processed := 0

	for start := 0; start < len(refs); start += parseBatchSize {
		end := start + parseBatchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		var wg sync.WaitGroup
		for _, ref := range batch {
			wg.Add(1)
			go func(ref githubapi.FileRef) {
				defer wg.Done()
				lang, ok := p.parseOne(ctx, req.RepoID, repo, ref)
				mu.Lock()
				defer mu.Unlock()
				if ok {
					stored++
					breakdown[lang]++
				}
			}(ref)
		}
		wg.Wait()

		processed += len(batch)
		if err := p.store.UpdateTaskProgress(ctx, req.TaskID, processed, len(refs)); err != nil {
			p.logger.Warn("pipeline.progress.write_failed", "error", err)
		}
	}
	return stored
}

func (p *Pipeline) parseOne(ctx context.Context, repoID string, repo *store.Repository, ref githubapi.FileRef) (string, bool) {
	content, err := p.github.GetRawContent(ctx, repo.Owner, repo.Name, repo.DefaultBranch, ref.Path)
	if err != nil {
		p.logger.Warn("pipeline.fetch.skip", "path", ref.Path, "error", err)
		p.metrics.FilesFailed.Inc()
		return "", false
	}

	filename := path.Base(ref.Path)
	language := githubapi.DetectLanguage(filename)
	// Parse never hard-fails; the registry folds errors into the result.
	result := p.parsers.Parse(content, ref.Path, language)

	hash := sha256.Sum256([]byte(content))
	f := &store.File{
		RepoID:      repoID,
		Path:        ref.Path,
		Filename:    filename,
		Extension:   githubapi.FileExtension(filename),
		Language:    language,
		SizeBytes:   ref.Size,
		Content:     content,
		ContentHash: hex.EncodeToString(hash[:]),
		Functions:   result.Functions,
		Classes:     result.Classes,
		Imports:     result.Imports,
		ParseError:  result.ParseError,
		Parsed:      true,
	}
	if err := p.store.UpsertFile(ctx, f); err != nil {
		p.logger.Warn("pipeline.store.skip", "path", ref.Path, "error", err)
		p.metrics.FilesFailed.Inc()
		return "", false
	}
	p.metrics.FilesParsed.Inc()
	return language, true
}

func (p *Pipeline) resolveDependencies(ctx context.Context, repoID string, files []*store.File) {
	inputs := make([]graph.FileImports, 0, len(files))
	for _, f := range files {
		inputs = append(inputs, graph.FileImports{
			Path:     f.Path,
			Language: f.Language,
			Imports:  f.Imports,
		})
	}
	for filePath, deps := range graph.Resolve(inputs) {
		if err := p.store.UpdateFileDependencies(ctx, repoID, filePath, deps); err != nil {
			p.logger.Warn("pipeline.deps.store_failed", "path", filePath, "error", err)
		}
	}
}

func (p *Pipeline) finalize(ctx context.Context, req Request, repo *store.Repository, total int) error {
	if err := p.store.AdvanceTaskStep(ctx, req.TaskID, store.StepFinalizing); err != nil {
		return err
	}
	if err := p.store.UpdateRepositoryStatus(ctx, req.RepoID, store.RepoStatusCompleted, ""); err != nil {
		return err
	}
	if total > 0 {
		if err := p.store.UpdateTaskProgress(ctx, req.TaskID, total, total); err != nil {
			return err
		}
	}
	if err := p.store.AdvanceTaskStep(ctx, req.TaskID, store.StepCompleted); err != nil {
		return err
	}
	p.logger.Info("pipeline.run.completed", "repo", repo.FullName, "files", total)
	return nil
}

// resolvePreferences applies session preferences, falling back to the
// development defaults only in development mode.
func (p *Pipeline) resolvePreferences(ctx context.Context, sessionID string) (store.Preferences, error) {
	if sessionID != "" {
		sess, err := p.store.GetSession(ctx, sessionID)
		if err == nil && sess.Preferences.AIProvider != "" {
			return sess.Preferences, nil
		}
	}
	if p.devMode && p.devDefaults.AIProvider != "" {
		return p.devDefaults, nil
	}
	return store.Preferences{}, fmt.Errorf("no ai preferences for session %q", sessionID)
}

func (p *Pipeline) observeStage(stage string, fn func()) {
	start := time.Now()
	fn()
	p.metrics.StageDurations.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
