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
	"errors"
	"fmt"

	"github.com/kraklabs/repolens/pkg/parser"
	"github.com/kraklabs/repolens/pkg/store"
)

// RepoOverview is the direct repository read.
type RepoOverview struct {
	RepoID    string         `json:"repo_id"`
	FullName  string         `json:"full_name"`
	GitHubURL string         `json:"github_url"`
	Overview  string         `json:"overview"`
	Languages map[string]int `json:"languages"`
	FileCount int            `json:"file_count"`
}

// GetRepoOverview returns the stored overview and repository stats.
func (s *Service) GetRepoOverview(ctx context.Context, repoID string) (*RepoOverview, error) {
	repo, err := s.store.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}
	return &RepoOverview{
		RepoID:    repo.RepoID,
		FullName:  repo.FullName,
		GitHubURL: repo.GitHubURL,
		Overview:  repo.Overview,
		Languages: repo.LanguagesBreakdown,
		FileCount: repo.FileCount,
	}, nil
}

// FileDetail is the direct file read.
type FileDetail struct {
	FilePath  string                  `json:"file_path"`
	Language  string                  `json:"language"`
	Content   string                  `json:"content"`
	Summary   string                  `json:"summary"`
	Functions []parser.FunctionRecord `json:"functions"`
	Classes   []parser.ClassRecord    `json:"classes"`
	Imports   []string                `json:"imports"`
}

// GetFileByPath returns one file's content and structure. A leading "/" on
// the path is tolerated.
func (s *Service) GetFileByPath(ctx context.Context, repoID, path string) (*FileDetail, error) {
	f, err := s.store.GetFileByPath(ctx, repoID, path)
	if err != nil {
		return nil, err
	}
	return &FileDetail{
		FilePath:  f.Path,
		Language:  f.Language,
		Content:   f.Content,
		Summary:   f.Summary,
		Functions: f.Functions,
		Classes:   f.Classes,
		Imports:   f.Imports,
	}, nil
}

// FunctionMatch is the result of a function lookup.
type FunctionMatch struct {
	FilePath  string  `json:"file_path"`
	Name      string  `json:"name"`
	Signature string  `json:"signature"`
	Parent    string  `json:"parent_class,omitempty"`
	Code      string  `json:"code"`
	LineStart int     `json:"line_start"`
	LineEnd   int     `json:"line_end"`
	Score     float64 `json:"score,omitempty"`
}

// FindFunction looks up a function by exact name, optionally constrained
// to one file path, falling back to a vector search over the code index.
// The exact path needs no embedding call.
func (s *Service) FindFunction(ctx context.Context, repoID, name, path string) (*FunctionMatch, error) {
	if match, err := s.findExact(ctx, repoID, name, path); err != nil {
		return nil, err
	} else if match != nil {
		return match, nil
	}

	query := "function " + name
	if path != "" {
		query += " in " + path
	}
	hits, err := s.SearchCode(ctx, repoID, query, 5)
	if err != nil {
		return nil, err
	}
	for _, hit := range hits {
		for _, el := range hit.CodeElements {
			if el.Type == store.EmbeddingTypeFunction {
				return &FunctionMatch{
					FilePath:  hit.FilePath,
					Name:      el.Name,
					Code:      el.Code,
					LineStart: el.LineStart,
					LineEnd:   el.LineEnd,
					Score:     el.Score,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("function %q: %w", name, store.ErrNotFound)
}

func (s *Service) findExact(ctx context.Context, repoID, name, path string) (*FunctionMatch, error) {
	var files []*store.File
	if path != "" {
		f, err := s.store.GetFileByPath(ctx, repoID, path)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil // fall back to the vector search
		}
		if err != nil {
			return nil, err
		}
		files = []*store.File{f}
	} else {
		var err error
		files, err = s.store.ListFiles(ctx, repoID)
		if err != nil {
			return nil, err
		}
	}

	for _, f := range files {
		for _, fn := range f.Functions {
			if fn.Name != name {
				continue
			}
			return &FunctionMatch{
				FilePath:  f.Path,
				Name:      fn.Name,
				Signature: fn.Signature,
				Parent:    fn.ParentClass,
				Code:      extractLines(f.Content, fn.LineStart, fn.LineEnd),
				LineStart: fn.LineStart,
				LineEnd:   fn.LineEnd,
			}, nil
		}
	}
	return nil, nil
}
