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

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// SummaryHit is one file ranked by summary-vector similarity.
type SummaryHit struct {
	FileID string
	Score  float64
}

// CodeHit is one file ranked by its best code embedding. Index points into
// the file's Embeddings array.
type CodeHit struct {
	FileID string
	Index  int
	Score  float64
}

// SearchSummaryVectors ranks files of a repository by cosine similarity of
// their summary embedding against the query vector, best first.
func (s *Store) SearchSummaryVectors(ctx context.Context, repoID string, query []float32, topK int) ([]SummaryHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, summary_embedding FROM files
		WHERE repo_id = ? AND summary_embedding IS NOT NULL
			AND summary_embedding != '' AND summary_embedding != 'null'`,
		repoID)
	if err != nil {
		return nil, fmt.Errorf("scan summary vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []SummaryHit
	for rows.Next() {
		var fileID, vecJSON string
		if err := rows.Scan(&fileID, &vecJSON); err != nil {
			return nil, fmt.Errorf("scan summary vector row: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil || len(vec) == 0 {
			continue
		}
		hits = append(hits, SummaryHit{FileID: fileID, Score: CosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// SearchCodeVectors unwinds every code embedding of a repository, keeps the
// best-scoring embedding per file, and returns the top files. Keeping one
// hit per file prevents a single file from monopolizing the results.
func (s *Store) SearchCodeVectors(ctx context.Context, repoID string, query []float32, topK int) ([]CodeHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, embeddings FROM files
		WHERE repo_id = ? AND embeddings IS NOT NULL
			AND embeddings != '' AND embeddings != 'null' AND embeddings != '[]'`,
		repoID)
	if err != nil {
		return nil, fmt.Errorf("scan code vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []CodeHit
	for rows.Next() {
		var fileID, recJSON string
		if err := rows.Scan(&fileID, &recJSON); err != nil {
			return nil, fmt.Errorf("scan code vector row: %w", err)
		}
		var records []EmbeddingRecord
		if err := json.Unmarshal([]byte(recJSON), &records); err != nil {
			continue
		}

		best := CodeHit{FileID: fileID, Index: -1}
		for i, rec := range records {
			if len(rec.Embedding) == 0 {
				continue
			}
			score := CosineSimilarity(query, rec.Embedding)
			if best.Index < 0 || score > best.Score {
				best.Index = i
				best.Score = score
			}
		}
		if best.Index >= 0 {
			hits = append(hits, best)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// TextScores runs a full-text query over path, summary, and element names
// and returns a positive relevance score per matching file.
func (s *Store) TextScores(ctx context.Context, repoID, query string) (map[string]float64, error) {
	match := ftsQuery(query)
	if match == "" {
		return map[string]float64{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, bm25(files_fts) FROM files_fts
		WHERE files_fts MATCH ? AND repo_id = ?`,
		match, repoID)
	if err != nil {
		// A query of only stopwords or operators is not an error condition.
		return map[string]float64{}, nil
	}
	defer func() { _ = rows.Close() }()

	scores := make(map[string]float64)
	for rows.Next() {
		var fileID string
		var rank float64
		if err := rows.Scan(&fileID, &rank); err != nil {
			return nil, fmt.Errorf("scan text score: %w", err)
		}
		// bm25 is better-is-more-negative; flip to a positive score.
		if score := -rank; score > 0 {
			scores[fileID] = score
		}
	}
	return scores, rows.Err()
}

// ftsQuery sanitizes free text into an OR query of quoted terms.
func ftsQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when dimensions mismatch or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
