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
	"encoding/json"

	"github.com/kraklabs/repolens/pkg/store"
)

// Event types streamed to the caller, in order: zero or more
// tool_call/tool_result pairs, zero or more answer_chunk, exactly one
// terminal done or error.
const (
	EventToolCall    = "tool_call"
	EventToolResult  = "tool_result"
	EventAnswerChunk = "answer_chunk"
	EventDone        = "done"
	EventError       = "error"
)

// Source is one cited location in the indexed repository.
type Source struct {
	FilePath  string `json:"file_path"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
}

// Event is one tagged record of the query stream.
type Event struct {
	Type string `json:"type"`

	// tool_call / tool_result
	Tool        string          `json:"tool,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
	ResultCount int             `json:"result_count,omitempty"`

	// answer_chunk
	Content string `json:"content,omitempty"`

	// done
	Sources   []Source               `json:"sources,omitempty"`
	ToolCalls []store.ToolCallRecord `json:"tool_calls,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// dedupeSources keeps the first occurrence of each (path, line range).
func dedupeSources(sources []Source) []Source {
	type key struct {
		path       string
		start, end int
	}
	seen := make(map[key]bool, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		k := key{s.FilePath, s.LineStart, s.LineEnd}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
