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

package query

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/search"
)

// Tool names exposed to the model.
const (
	ToolSearchCode      = "search_code"
	ToolSearchFiles     = "search_files"
	ToolGetRepoOverview = "get_repo_overview"
	ToolGetFileByPath   = "get_file_by_path"
	ToolFindFunction    = "find_function"
)

const defaultTopK = 5

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// toolSchemas declares the five retrieval tools.
func toolSchemas() []ai.ToolSchema {
	topK := map[string]any{
		"type":        "integer",
		"description": "Maximum number of results to return (default 5).",
	}
	return []ai.ToolSchema{
		{
			Name:        ToolSearchCode,
			Description: "Hybrid semantic and lexical search over code elements and file summaries. Use for questions about how code works.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": stringProp("Natural-language or code search query."),
					"top_k": topK,
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolSearchFiles,
			Description: "Semantic search over file summaries only. Use for questions about what files exist or what a part of the project does.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": stringProp("Natural-language search query."),
					"top_k": topK,
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolGetRepoOverview,
			Description: "Fetch the repository overview, language breakdown, and file count. Use for questions about the project as a whole.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolGetFileByPath,
			Description: "Fetch one file's full content, summary, and structure by its exact path.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": stringProp("Repository-relative file path."),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        ToolFindFunction,
			Description: "Locate a function by name, optionally within one file, and return its source.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": stringProp("Exact function name."),
					"path": stringProp("Optional file path to search within."),
				},
				"required": []string{"name"},
			},
		},
	}
}

// toolResult carries a tool's JSON result plus the metadata the event
// stream reports.
type toolResult struct {
	JSON    []byte
	Count   int
	Sources []Source
}

// executeTool dispatches one model-requested call against the search
// service. Errors come back as a JSON error payload so the model can
// recover.
func (o *Orchestrator) executeTool(ctx context.Context, repoID, name string, rawArgs string) toolResult {
	res, err := o.callTool(ctx, repoID, name, rawArgs)
	if err != nil {
		o.logger.Warn("query.tool.failed", "tool", name, "error", err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return toolResult{JSON: payload}
	}
	return res
}

func (o *Orchestrator) callTool(ctx context.Context, repoID, name, rawArgs string) (toolResult, error) {
	if rawArgs == "" {
		rawArgs = "{}"
	}
	switch name {
	case ToolSearchCode, ToolSearchFiles:
		var args struct {
			Query string `json:"query"`
			TopK  int    `json:"top_k"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return toolResult{}, fmt.Errorf("decode arguments: %w", err)
		}
		if args.TopK <= 0 {
			args.TopK = defaultTopK
		}
		var hits []search.FileHit
		var err error
		if name == ToolSearchCode {
			hits, err = o.search.SearchCode(ctx, repoID, args.Query, args.TopK)
		} else {
			hits, err = o.search.SearchFiles(ctx, repoID, args.Query, args.TopK)
		}
		if err != nil {
			return toolResult{}, err
		}
		payload, err := json.Marshal(hits)
		if err != nil {
			return toolResult{}, err
		}
		return toolResult{JSON: payload, Count: len(hits), Sources: hitSources(hits)}, nil

	case ToolGetRepoOverview:
		overview, err := o.search.GetRepoOverview(ctx, repoID)
		if err != nil {
			return toolResult{}, err
		}
		payload, err := json.Marshal(overview)
		if err != nil {
			return toolResult{}, err
		}
		return toolResult{JSON: payload, Count: 1}, nil

	case ToolGetFileByPath:
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return toolResult{}, fmt.Errorf("decode arguments: %w", err)
		}
		detail, err := o.search.GetFileByPath(ctx, repoID, args.Path)
		if err != nil {
			return toolResult{}, err
		}
		payload, err := json.Marshal(detail)
		if err != nil {
			return toolResult{}, err
		}
		return toolResult{
			JSON:    payload,
			Count:   1,
			Sources: []Source{{FilePath: detail.FilePath}},
		}, nil

	case ToolFindFunction:
		var args struct {
			Name string `json:"name"`
			Path string `json:"path"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return toolResult{}, fmt.Errorf("decode arguments: %w", err)
		}
		match, err := o.search.FindFunction(ctx, repoID, args.Name, args.Path)
		if err != nil {
			return toolResult{}, err
		}
		payload, err := json.Marshal(match)
		if err != nil {
			return toolResult{}, err
		}
		return toolResult{
			JSON:  payload,
			Count: 1,
			Sources: []Source{{
				FilePath:  match.FilePath,
				LineStart: match.LineStart,
				LineEnd:   match.LineEnd,
			}},
		}, nil

	default:
		return toolResult{}, fmt.Errorf("unknown tool %q", name)
	}
}

// hitSources extracts one source per file hit, with line ranges when a
// code element matched.
func hitSources(hits []search.FileHit) []Source {
	sources := make([]Source, 0, len(hits))
	for _, hit := range hits {
		if len(hit.CodeElements) == 0 {
			sources = append(sources, Source{FilePath: hit.FilePath})
			continue
		}
		for _, el := range hit.CodeElements {
			sources = append(sources, Source{
				FilePath:  hit.FilePath,
				LineStart: el.LineStart,
				LineEnd:   el.LineEnd,
			})
		}
	}
	return sources
}
