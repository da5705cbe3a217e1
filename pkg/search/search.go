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

// Package search implements the retrieval operations consumed by the query
// orchestrator: hybrid vector+lexical code search, summary search, and the
// direct lookups. Vector and text signals are blended per file and the
// result is re-grouped so one file never monopolizes the hit list.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/store"
)

const (
	// Per-index candidate counts for the unified search.
	summaryCandidates = 2
	codeCandidates    = 2

	// Hybrid score weights and the filename boost factor.
	vectorWeight  = 0.7
	textWeight    = 0.3
	textScoreCap  = 3.0
	filenameBoost = 1.3
)

// Service runs retrieval for one repository-scoped query client.
type Service struct {
	store  *store.Store
	client *ai.Client
	logger *slog.Logger
}

// New builds a search service. A nil logger falls back to slog.Default.
func New(st *store.Store, client *ai.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, client: client, logger: logger}
}

// CodeElement is one matched code embedding inside a file hit.
type CodeElement struct {
	Type      string  `json:"type"`
	Name      string  `json:"name"`
	Code      string  `json:"code"`
	LineStart int     `json:"line_start"`
	LineEnd   int     `json:"line_end"`
	Score     float64 `json:"score"`
	// Set for class_chunk matches: the whole class rebuilt from the file
	// content plus a hint describing which window matched.
	ParentClass   string `json:"parent_class,omitempty"`
	FullClassCode string `json:"full_class_code,omitempty"`
	ChunkHint     string `json:"chunk_hint,omitempty"`
}

// FileHit is one file in a search result.
type FileHit struct {
	FileID       string        `json:"file_id"`
	FilePath     string        `json:"file_path"`
	Language     string        `json:"language"`
	Summary      string        `json:"summary"`
	Score        float64       `json:"score"`
	CodeElements []CodeElement `json:"code_elements"`
}

// SearchCode is the unified retrieval operation: parallel summary and code
// vector searches, blended with lexical scores, boosted on filename
// matches, grouped by file.
func (s *Service) SearchCode(ctx context.Context, repoID, query string, topK int) ([]FileHit, error) {
	queryVec, err := s.client.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var summaryHits []store.SummaryHit
	var codeHits []store.CodeHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summaryHits, err = s.store.SearchSummaryVectors(gctx, repoID, queryVec, summaryCandidates)
		return err
	})
	g.Go(func() error {
		var err error
		codeHits, err = s.store.SearchCodeVectors(gctx, repoID, queryVec, codeCandidates)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	textScores, err := s.store.TextScores(ctx, repoID, query)
	if err != nil {
		s.logger.Warn("search.text_scores.failed", "error", err)
		textScores = map[string]float64{}
	}
	terms := queryTerms(query)

	// Merge both candidate sets per file.
	type candidate struct {
		file     *store.File
		score    float64
		elements []CodeElement
	}
	candidates := make(map[string]*candidate)

	load := func(fileID string) (*candidate, error) {
		if c, ok := candidates[fileID]; ok {
			return c, nil
		}
		f, err := s.store.GetFile(ctx, fileID)
		if err != nil {
			return nil, err
		}
		c := &candidate{file: f}
		candidates[fileID] = c
		return c, nil
	}

	for _, hit := range summaryHits {
		c, err := load(hit.FileID)
		if err != nil {
			s.logger.Warn("search.candidate.load_failed", "file_id", hit.FileID, "error", err)
			continue
		}
		score := hybridScore(hit.Score, textScores[hit.FileID], c.file.Path, terms)
		if score > c.score {
			c.score = score
		}
	}

	for _, hit := range codeHits {
		c, err := load(hit.FileID)
		if err != nil {
			s.logger.Warn("search.candidate.load_failed", "file_id", hit.FileID, "error", err)
			continue
		}
		if hit.Index < 0 || hit.Index >= len(c.file.Embeddings) {
			continue
		}
		score := hybridScore(hit.Score, textScores[hit.FileID], c.file.Path, terms)
		if score > c.score {
			c.score = score
		}
		c.elements = append(c.elements, s.buildElement(c.file, c.file.Embeddings[hit.Index], score))
	}

	hits := make([]FileHit, 0, len(candidates))
	for _, c := range candidates {
		elements := c.elements
		if elements == nil {
			elements = []CodeElement{}
		}
		hits = append(hits, FileHit{
			FileID:       c.file.FileID,
			FilePath:     c.file.Path,
			Language:     c.file.Language,
			Summary:      c.file.Summary,
			Score:        c.score,
			CodeElements: elements,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].FilePath < hits[j].FilePath
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// SearchFiles is the summary-only half of SearchCode.
func (s *Service) SearchFiles(ctx context.Context, repoID, query string, topK int) ([]FileHit, error) {
	queryVec, err := s.client.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	summaryHits, err := s.store.SearchSummaryVectors(ctx, repoID, queryVec, topK)
	if err != nil {
		return nil, err
	}

	textScores, err := s.store.TextScores(ctx, repoID, query)
	if err != nil {
		textScores = map[string]float64{}
	}
	terms := queryTerms(query)

	hits := make([]FileHit, 0, len(summaryHits))
	for _, hit := range summaryHits {
		f, err := s.store.GetFile(ctx, hit.FileID)
		if err != nil {
			continue
		}
		hits = append(hits, FileHit{
			FileID:       f.FileID,
			FilePath:     f.Path,
			Language:     f.Language,
			Summary:      f.Summary,
			Score:        hybridScore(hit.Score, textScores[hit.FileID], f.Path, terms),
			CodeElements: []CodeElement{},
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// buildElement converts an embedding record into a result element,
// reconstructing the whole class for chunk matches.
func (s *Service) buildElement(f *store.File, rec store.EmbeddingRecord, score float64) CodeElement {
	el := CodeElement{
		Type:      rec.Type,
		Name:      rec.Name,
		Code:      rec.Code,
		LineStart: rec.LineStart,
		LineEnd:   rec.LineEnd,
		Score:     score,
	}
	if rec.Type != store.EmbeddingTypeClassChunk {
		return el
	}

	el.ParentClass = rec.ParentClass
	el.ChunkHint = fmt.Sprintf("matched chunk %d of %d (lines %d-%d) of class %s",
		rec.ChunkIndex+1, rec.TotalChunks, rec.LineStart, rec.LineEnd, rec.ParentClass)
	for _, cls := range f.Classes {
		if cls.Name == rec.ParentClass {
			el.FullClassCode = extractLines(f.Content, cls.LineStart, cls.LineEnd)
			break
		}
	}
	return el
}

// hybridScore blends the vector score with the capped lexical score, then
// boosts files whose path contains a query term.
func hybridScore(vectorScore, textScore float64, path string, terms []string) float64 {
	normalized := textScore / textScoreCap
	if normalized > 1 {
		normalized = 1
	}
	score := vectorWeight*vectorScore + textWeight*normalized
	if pathMatchesTerm(path, terms) {
		score *= filenameBoost
	}
	return score
}

// queryTerms lowercases and splits the query on non-word characters.
func queryTerms(query string) []string {
	fields := regexp.MustCompile(`\W+`).Split(strings.ToLower(query), -1)
	terms := fields[:0]
	for _, f := range fields {
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}

// pathMatchesTerm reports whether any query term appears in the path on a
// word boundary, case-insensitive.
func pathMatchesTerm(path string, terms []string) bool {
	lower := strings.ToLower(path)
	for _, term := range terms {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`)
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// extractLines returns the 1-based inclusive line range of content.
func extractLines(content string, start, end int) string {
	lines := strings.Split(content, "\n")
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
