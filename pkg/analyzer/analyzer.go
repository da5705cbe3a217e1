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

// Package analyzer generates per-file natural-language summaries and the
// repository overview via the LLM client. Summaries run in parallel
// batches; a failed file is logged and skipped, never fatal.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/store"
)

const (
	// summaryBatchSize caps in-flight summary requests.
	summaryBatchSize = 5
	// overviewFileCap bounds how many file summaries feed the overview.
	overviewFileCap = 100
	summaryTemp     = 0.3
)

// Analyzer drives summary and overview generation for one provider client.
type Analyzer struct {
	store  *store.Store
	client *ai.Client
	logger *slog.Logger
}

// New builds an analyzer. A nil logger falls back to slog.Default.
func New(st *store.Store, client *ai.Client, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: st, client: client, logger: logger}
}

// SummarizeFiles generates and persists a summary for every file, in
// sequential batches concurrent within each batch. progress, when non-nil,
// receives the cumulative processed count after each batch.
func (a *Analyzer) SummarizeFiles(ctx context.Context, files []*store.File, progress func(processed int)) {
	processed := 0
	for start := 0; start < len(files); start += summaryBatchSize {
		end := start + summaryBatchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[start:end]

		var wg sync.WaitGroup
		for _, f := range batch {
			wg.Add(1)
			go func(f *store.File) {
				defer wg.Done()
				if err := a.summarizeFile(ctx, f); err != nil {
					a.logger.Warn("analyzer.summary.skip", "path", f.Path, "error", err)
				}
			}(f)
		}
		wg.Wait()

		processed += len(batch)
		if progress != nil {
			progress(processed)
		}
	}
}

func (a *Analyzer) summarizeFile(ctx context.Context, f *store.File) error {
	prompt := BuildSummaryPrompt(f)
	out, err := a.client.Complete(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: summarySystemPrompt},
		{Role: ai.RoleUser, Content: prompt},
	}, nil, summaryTemp)
	if err != nil {
		return err
	}

	summary := strings.TrimSpace(StripThink(out.Content))
	if summary == "" {
		return fmt.Errorf("empty summary")
	}
	provider := a.client.Provider().Name
	return a.store.UpdateFileSummary(ctx, f.FileID, summary, provider, a.client.Model())
}

// GenerateOverview builds the repository overview from persisted file
// summaries. The caller persists the result.
func (a *Analyzer) GenerateOverview(ctx context.Context, repo *store.Repository, files []*store.File) (string, error) {
	selected := SelectOverviewFiles(files, overviewFileCap)
	if len(selected) == 0 {
		return "", fmt.Errorf("no files to build an overview from")
	}

	prompt := buildOverviewPrompt(repo, selected)
	out, err := a.client.Complete(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: overviewSystemPrompt},
		{Role: ai.RoleUser, Content: prompt},
	}, nil, summaryTemp)
	if err != nil {
		return "", fmt.Errorf("generate overview: %w", err)
	}

	overview := strings.TrimSpace(StripThink(out.Content))
	if overview == "" {
		return "", fmt.Errorf("empty overview")
	}
	return overview, nil
}

// entryPointStems are filename stems treated as entry points when ranking
// files for the overview.
var entryPointStems = map[string]bool{
	"main": true, "index": true, "app": true, "server": true,
	"__init__": true, "__main__": true,
}

// SelectOverviewFiles picks up to limit files in priority order: readmes,
// entry points, then the structurally largest files.
func SelectOverviewFiles(files []*store.File, limit int) []*store.File {
	var readmes, entries, rest []*store.File
	for _, f := range files {
		name := strings.ToLower(f.Filename)
		stem := strings.TrimSuffix(name, strings.ToLower(f.Extension))
		switch {
		case strings.Contains(name, "readme"):
			readmes = append(readmes, f)
		case entryPointStems[stem]:
			entries = append(entries, f)
		default:
			rest = append(rest, f)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return structureCount(rest[i]) > structureCount(rest[j])
	})

	out := make([]*store.File, 0, limit)
	for _, group := range [][]*store.File{readmes, entries, rest} {
		for _, f := range group {
			if len(out) >= limit {
				return out
			}
			out = append(out, f)
		}
	}
	return out
}

func structureCount(f *store.File) int {
	return len(f.Functions) + len(f.Classes)
}
