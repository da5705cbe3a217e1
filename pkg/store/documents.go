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
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/repolens/pkg/githubapi"
	"github.com/kraklabs/repolens/pkg/parser"
)

// Repository status values.
const (
	RepoStatusPending    = "pending"
	RepoStatusFetched    = "fetched"
	RepoStatusProcessing = "processing"
	RepoStatusCompleted  = "completed"
	RepoStatusFailed     = "failed"
)

// Task status values.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// Ingestion step sequence. A task's current_step only moves forward through
// this order, with failed as the single terminal exception.
const (
	StepQueued      = "queued"
	StepFetching    = "fetching"
	StepParsing     = "parsing"
	StepEmbedding   = "embedding"
	StepSummarizing = "summarizing"
	StepOverview    = "overview"
	StepFinalizing  = "finalizing"
	StepCompleted   = "completed"
	StepFailed      = "failed"
)

// StepRank orders ingestion steps for monotonicity checks. Failed is not
// ranked; it is reachable from any step.
func StepRank(step string) int {
	switch step {
	case StepQueued:
		return 0
	case StepFetching:
		return 1
	case StepParsing:
		return 2
	case StepEmbedding:
		return 3
	case StepSummarizing:
		return 4
	case StepOverview:
		return 5
	case StepFinalizing:
		return 6
	case StepCompleted:
		return 7
	default:
		return -1
	}
}

// NewID returns a fresh opaque document identifier.
func NewID() string {
	return uuid.NewString()
}

// Repository is one ingested GitHub repository.
type Repository struct {
	RepoID             string
	SessionID          string
	TaskID             string
	GitHubURL          string
	Owner              string
	Name               string
	FullName           string
	Description        string
	DefaultBranch      string
	Language           string
	Stars              int
	Forks              int
	Status             string
	FileTree           *githubapi.TreeNode
	FileCount          int
	LanguagesBreakdown map[string]int
	Overview           string
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Dependencies is the resolved import graph entry for one file.
type Dependencies struct {
	Imports         []string `json:"imports"`
	ImportedBy      []string `json:"imported_by"`
	ExternalImports []string `json:"external_imports"`
}

// Embedding record types.
const (
	EmbeddingTypeFunction   = "function"
	EmbeddingTypeClass      = "class"
	EmbeddingTypeClassChunk = "class_chunk"
)

// EmbeddingRecord is one code embedding attached to a file: a standalone
// function, a whole class, or one sliding-window chunk of a large class.
type EmbeddingRecord struct {
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Embedding   []float32 `json:"embedding"`
	LineStart   int       `json:"line_start"`
	LineEnd     int       `json:"line_end"`
	MethodCount int       `json:"method_count,omitempty"`
	ParentClass string    `json:"parent_class,omitempty"`
	ChunkIndex  int       `json:"chunk_index,omitempty"`
	TotalChunks int       `json:"total_chunks,omitempty"`
}

// File is one retained source file with its parsed structure, embeddings,
// and analysis. The summary embedding lives only in SummaryEmbedding, never
// inside Embeddings, so the two vector scans stay disjoint.
type File struct {
	FileID           string
	RepoID           string
	Path             string
	Filename         string
	Extension        string
	Language         string
	SizeBytes        int64
	Content          string
	ContentHash      string
	Functions        []parser.FunctionRecord
	Classes          []parser.ClassRecord
	Imports          []string
	Dependencies     Dependencies
	Embeddings       []EmbeddingRecord
	Summary          string
	SummaryEmbedding []float32
	AIProvider       string
	AIModel          string
	ParseError       string
	Parsed           bool
	Embedded         bool
	Analyzed         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TaskProgress tracks how far an ingestion run has advanced.
type TaskProgress struct {
	TotalFiles     int    `json:"total_files"`
	ProcessedFiles int    `json:"processed_files"`
	CurrentStep    string `json:"current_step"`
}

// Task is the progress document for one ingestion run.
type Task struct {
	TaskID       string
	TaskType     string
	Status       string
	Progress     TaskProgress
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Preferences are the per-session AI settings the pipeline and query
// orchestrator resolve before talking to the provider.
type Preferences struct {
	AIProvider string `json:"ai_provider"`
	AIModel    string `json:"ai_model"`
}

// Session is an opaque client session carrying AI preferences.
type Session struct {
	SessionID   string
	Preferences Preferences
	CreatedAt   time.Time
}

// Conversation groups the messages of one (session, repository) pair.
type Conversation struct {
	ConversationID string
	SessionID      string
	RepoID         string
	CreatedAt      time.Time
}

// ToolCallRecord is a tool invocation persisted with an assistant message.
type ToolCallRecord struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// Message is one conversation turn. Sequence is strictly increasing within
// a conversation.
type Message struct {
	MessageID      string
	ConversationID string
	Role           string
	Content        string
	ToolCalls      []ToolCallRecord
	Sequence       int
	CreatedAt      time.Time
}
