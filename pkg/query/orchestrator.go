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

// Package query runs the streaming tool-calling loop that answers
// questions about an indexed repository: bounded iterations of LLM turn,
// tool execution, and event emission, with conversation history persisted
// per (session, repository) pair.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/search"
	"github.com/kraklabs/repolens/pkg/store"
)

const (
	maxIterations = 5
	answerTemp    = 0.3
	historyLimit  = 20
)

const fallbackAnswer = "I'm sorry, I could not assemble a complete answer from the repository within the allotted number of steps. Try narrowing the question to a specific file or function."

const systemPromptTemplate = `You are a code assistant answering questions about one indexed repository (repo_id: %s).

Always call tools to ground your answer before responding. You may call several tools in sequence. Pick tools as follows:
- search_files: questions about what parts of the project do, answered from file summaries.
- search_code: questions about how code works or where something is implemented.
- get_repo_overview: questions about the project as a whole.
- get_file_by_path: when the user names an exact file path.
- find_function: when the user names a specific function.

When answering, cite the file paths and line numbers your answer is based on. If the tools return nothing relevant, say so instead of guessing.`

// Orchestrator answers questions over one store and search service.
type Orchestrator struct {
	store  *store.Store
	search *search.Service
	client *ai.Client
	logger *slog.Logger
}

// New builds an orchestrator. A nil logger falls back to slog.Default.
func New(st *store.Store, svc *search.Service, client *ai.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: st, search: svc, client: client, logger: logger}
}

// Ask starts one query. The returned channel delivers events until a
// terminal done or error, then closes. Abandoning the context stops the
// loop at the next safe boundary.
func (o *Orchestrator) Ask(ctx context.Context, sessionID, repoID, question string) (<-chan Event, error) {
	conv, err := o.store.FindOrCreateConversation(ctx, sessionID, repoID)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	history, err := o.store.RecentMessages(ctx, conv.ConversationID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if _, err := o.store.AppendMessage(ctx, conv.ConversationID, ai.RoleUser, question, nil); err != nil {
		return nil, fmt.Errorf("persist question: %w", err)
	}

	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{
		Role:    ai.RoleSystem,
		Content: fmt.Sprintf(systemPromptTemplate, repoID),
	})
	for _, m := range history {
		messages = append(messages, ai.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: question})

	events := make(chan Event)
	go o.runLoop(ctx, conv.ConversationID, repoID, messages, events)
	return events, nil
}

func (o *Orchestrator) runLoop(ctx context.Context, conversationID, repoID string, messages []ai.Message, events chan<- Event) {
	defer close(events)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var records []store.ToolCallRecord
	var sources []Source

	for iter := 0; iter < maxIterations; iter++ {
		deltas, err := o.client.Stream(ctx, messages, toolSchemas(), answerTemp)
		if err != nil {
			emit(Event{Type: EventError, Error: err.Error()})
			return
		}

		// The filter state is per stream; a tag never spans two turns.
		filter := &ThinkFilter{}
		var answer strings.Builder
		calls := map[int]*ai.ToolCallDelta{}

		for d := range deltas {
			if d.Err != nil {
				emit(Event{Type: EventError, Error: d.Err.Error()})
				return
			}
			if d.Content != "" {
				if text := filter.Feed(d.Content); text != "" {
					answer.WriteString(text)
					if !emit(Event{Type: EventAnswerChunk, Content: text}) {
						return
					}
				}
			}
			if d.ToolCall != nil {
				mergeToolCallDelta(calls, d.ToolCall)
			}
		}
		if tail := filter.Flush(); tail != "" {
			answer.WriteString(tail)
			if !emit(Event{Type: EventAnswerChunk, Content: tail}) {
				return
			}
		}

		if len(calls) == 0 {
			// Final answer.
			if _, err := o.store.AppendMessage(ctx, conversationID, ai.RoleAssistant, answer.String(), records); err != nil {
				o.logger.Warn("query.answer.persist_failed", "error", err)
			}
			emit(Event{Type: EventDone, Sources: dedupeSources(sources), ToolCalls: records})
			return
		}

		toolCalls := assembleToolCalls(calls, iter)
		messages = append(messages, ai.Message{Role: ai.RoleAssistant, ToolCalls: toolCalls})

		for _, tc := range toolCalls {
			if ctx.Err() != nil {
				return
			}
			args := rawArgs(tc.Function.Arguments)
			if !emit(Event{Type: EventToolCall, Tool: tc.Function.Name, Args: args}) {
				return
			}
			o.logger.Info("query.tool_call", "tool", tc.Function.Name, "repo_id", repoID)

			res := o.executeTool(ctx, repoID, tc.Function.Name, tc.Function.Arguments)
			if !emit(Event{Type: EventToolResult, Tool: tc.Function.Name, ResultCount: res.Count}) {
				return
			}

			messages = append(messages, ai.Message{
				Role:       ai.RoleTool,
				Content:    string(res.JSON),
				ToolCallID: tc.ID,
			})
			records = append(records, store.ToolCallRecord{Tool: tc.Function.Name, Args: args})
			sources = append(sources, res.Sources...)
		}
	}

	// Iteration bound exceeded.
	if !emit(Event{Type: EventAnswerChunk, Content: fallbackAnswer}) {
		return
	}
	if _, err := o.store.AppendMessage(ctx, conversationID, ai.RoleAssistant, fallbackAnswer, records); err != nil {
		o.logger.Warn("query.answer.persist_failed", "error", err)
	}
	emit(Event{Type: EventDone, Sources: dedupeSources(sources), ToolCalls: records})
}

// mergeToolCallDelta folds one fragment into the per-index accumulator;
// arguments concatenate, id and name arrive on the first fragment.
func mergeToolCallDelta(calls map[int]*ai.ToolCallDelta, d *ai.ToolCallDelta) {
	acc, ok := calls[d.Index]
	if !ok {
		acc = &ai.ToolCallDelta{Index: d.Index}
		calls[d.Index] = acc
	}
	if d.ID != "" {
		acc.ID = d.ID
	}
	if d.Name != "" {
		acc.Name = d.Name
	}
	acc.Arguments += d.Arguments
}

// assembleToolCalls orders the accumulated fragments by index. Arguments
// are complete only now, after the stream ended.
func assembleToolCalls(calls map[int]*ai.ToolCallDelta, iter int) []ai.ToolCall {
	indices := make([]int, 0, len(calls))
	for idx := range calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]ai.ToolCall, 0, len(indices))
	for _, idx := range indices {
		acc := calls[idx]
		id := acc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", iter, idx)
		}
		out = append(out, ai.ToolCall{
			ID:   id,
			Type: "function",
			Function: ai.FunctionCall{
				Name:      acc.Name,
				Arguments: acc.Arguments,
			},
		})
	}
	return out
}

// rawArgs normalizes tool-call arguments into valid JSON for events and
// persistence.
func rawArgs(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return quoted
}
