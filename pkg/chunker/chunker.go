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

// Package chunker turns parsed structure into embeddable code chunks and
// drives the embedding fan-out. Small classes embed whole; large classes
// are cut into overlapping line windows; methods of a small class are
// covered by the class embedding and never embedded individually.
package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/store"
)

const (
	// maxClassLines is the largest class span embedded as one chunk.
	maxClassLines = 800
	// windowSize and windowOverlap shape the sliding windows over larger
	// classes.
	windowSize    = 700
	windowOverlap = 100
	// embedBatchSize caps in-flight embedding requests.
	embedBatchSize = 8
)

// Chunker embeds code chunks and summaries for one provider client.
type Chunker struct {
	store  *store.Store
	client *ai.Client
	logger *slog.Logger
}

// New builds a chunker. A nil logger falls back to slog.Default.
func New(st *store.Store, client *ai.Client, logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{store: st, client: client, logger: logger}
}

// BuildChunks produces the embedding records for one file, vectors unset.
// Deterministic on the file's content and structure.
func BuildChunks(f *store.File) []store.EmbeddingRecord {
	lines := strings.Split(f.Content, "\n")
	var records []store.EmbeddingRecord

	for _, cls := range f.Classes {
		span := cls.LineEnd - cls.LineStart
		if span <= maxClassLines {
			records = append(records, store.EmbeddingRecord{
				Type:        store.EmbeddingTypeClass,
				Name:        cls.Name,
				Code:        extractLines(lines, cls.LineStart, cls.LineEnd),
				LineStart:   cls.LineStart,
				LineEnd:     cls.LineEnd,
				MethodCount: len(cls.Methods),
			})
			continue
		}

		total := 0
		for start := cls.LineStart; start <= cls.LineEnd; start += windowSize - windowOverlap {
			total++
		}
		index := 0
		for start := cls.LineStart; start <= cls.LineEnd; start += windowSize - windowOverlap {
			end := start + windowSize - 1
			if end > cls.LineEnd {
				end = cls.LineEnd
			}
			records = append(records, store.EmbeddingRecord{
				Type:        store.EmbeddingTypeClassChunk,
				Name:        fmt.Sprintf("%s_chunk_%d", cls.Name, index),
				Code:        extractLines(lines, start, end),
				LineStart:   start,
				LineEnd:     end,
				ParentClass: cls.Name,
				ChunkIndex:  index,
				TotalChunks: total,
			})
			index++
		}
	}

	for _, fn := range f.Functions {
		if fn.IsMethod {
			continue
		}
		records = append(records, store.EmbeddingRecord{
			Type:      store.EmbeddingTypeFunction,
			Name:      fn.Name,
			Code:      extractLines(lines, fn.LineStart, fn.LineEnd),
			LineStart: fn.LineStart,
			LineEnd:   fn.LineEnd,
		})
	}
	return records
}

// extractLines returns the 1-based inclusive line range, clamped to the
// file.
func extractLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// EmbedFiles generates code embeddings (and a first-pass summary embedding
// when a summary already exists) for every file, in sequential batches
// concurrent within each batch. Individual embedding failures are logged
// and skipped; a file may end with a partial set.
func (c *Chunker) EmbedFiles(ctx context.Context, files []*store.File, progress func(processed int)) {
	c.forEachBatch(ctx, files, func(ctx context.Context, f *store.File) {
		c.embedFile(ctx, f)
	}, progress)
}

// EmbedSummaries regenerates only the summary embeddings, run after the
// summary stage finalizes.
func (c *Chunker) EmbedSummaries(ctx context.Context, files []*store.File, progress func(processed int)) {
	c.forEachBatch(ctx, files, func(ctx context.Context, f *store.File) {
		c.embedSummary(ctx, f)
	}, progress)
}

func (c *Chunker) forEachBatch(ctx context.Context, files []*store.File, fn func(context.Context, *store.File), progress func(int)) {
	processed := 0
	for start := 0; start < len(files); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[start:end]

		var wg sync.WaitGroup
		for _, f := range batch {
			wg.Add(1)
			go func(f *store.File) {
				defer wg.Done()
				fn(ctx, f)
			}(f)
		}
		wg.Wait()

		processed += len(batch)
		if progress != nil {
			progress(processed)
		}
	}
}

func (c *Chunker) embedFile(ctx context.Context, f *store.File) {
	chunks := BuildChunks(f)
	embedded := make([]store.EmbeddingRecord, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Code == "" {
			continue
		}
		vec, err := c.client.Embed(ctx, chunk.Code)
		if err != nil {
			c.logger.Warn("chunker.embed.skip", "path", f.Path, "chunk", chunk.Name, "error", err)
			continue
		}
		chunk.Embedding = vec
		embedded = append(embedded, chunk)
	}

	if len(embedded) > 0 {
		if err := c.store.UpdateFileEmbeddings(ctx, f.FileID, embedded); err != nil {
			c.logger.Warn("chunker.embed.store_failed", "path", f.Path, "error", err)
		}
	}
	c.embedSummary(ctx, f)
}

func (c *Chunker) embedSummary(ctx context.Context, f *store.File) {
	summary := f.Summary
	if summary == "" {
		// The summary stage may have finished after our snapshot.
		fresh, err := c.store.GetFile(ctx, f.FileID)
		if err != nil {
			return
		}
		summary = fresh.Summary
	}
	if summary == "" {
		return
	}

	vec, err := c.client.Embed(ctx, summary)
	if err != nil {
		c.logger.Warn("chunker.summary_embed.skip", "path", f.Path, "error", err)
		return
	}
	if err := c.store.UpdateSummaryEmbedding(ctx, f.FileID, vec); err != nil {
		c.logger.Warn("chunker.summary_embed.store_failed", "path", f.Path, "error", err)
	}
}
