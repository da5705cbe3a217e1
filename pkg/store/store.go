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

// Package store persists repositories, files, tasks, and conversations in
// SQLite. Structured fields (parsed structure, dependencies, embeddings,
// the file tree) are JSON columns; vector search decodes the JSON vectors
// and ranks by cosine similarity in process; lexical search runs on an
// FTS5 table over path, summary, and element names.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("not found")

// Store is the shared document store. Safe for concurrent use; SQLite
// serializes writes, reads run concurrently under WAL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for an in-process test database.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The modernc driver is single-connection-safe but not multi-connection
	// safe for in-memory databases; one writer connection keeps task and
	// message sequencing simple.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// ensureSchema creates all tables and indexes. Idempotent.
func (s *Store) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	repo_id             TEXT PRIMARY KEY,
	session_id          TEXT,
	task_id             TEXT,
	github_url          TEXT NOT NULL,
	owner               TEXT,
	name                TEXT,
	full_name           TEXT,
	description         TEXT,
	default_branch      TEXT,
	language            TEXT,
	stars               INTEGER DEFAULT 0,
	forks               INTEGER DEFAULT 0,
	status              TEXT NOT NULL,
	file_tree           TEXT,
	file_count          INTEGER DEFAULT 0,
	languages_breakdown TEXT,
	overview            TEXT,
	error_message       TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_repositories_session ON repositories(session_id);
CREATE INDEX IF NOT EXISTS idx_repositories_task ON repositories(task_id);

CREATE TABLE IF NOT EXISTS files (
	file_id           TEXT PRIMARY KEY,
	repo_id           TEXT NOT NULL,
	path              TEXT NOT NULL,
	filename          TEXT,
	extension         TEXT,
	language          TEXT,
	size_bytes        INTEGER DEFAULT 0,
	content           TEXT,
	content_hash      TEXT,
	functions         TEXT,
	classes           TEXT,
	imports           TEXT,
	dependencies      TEXT,
	embeddings        TEXT,
	summary           TEXT,
	summary_embedding TEXT,
	ai_provider       TEXT,
	ai_model          TEXT,
	parse_error       TEXT,
	parsed            INTEGER DEFAULT 0,
	embedded          INTEGER DEFAULT 0,
	analyzed          INTEGER DEFAULT 0,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	UNIQUE(repo_id, path)
);
CREATE INDEX IF NOT EXISTS idx_files_repo ON files(repo_id);

CREATE TABLE IF NOT EXISTS tasks (
	task_id         TEXT PRIMARY KEY,
	task_type       TEXT NOT NULL,
	status          TEXT NOT NULL,
	total_files     INTEGER DEFAULT 0,
	processed_files INTEGER DEFAULT 0,
	current_step    TEXT NOT NULL,
	error_message   TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	preferences TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	conversation_id TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	repo_id         TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	UNIQUE(session_id, repo_id)
);

CREATE TABLE IF NOT EXISTS messages (
	message_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT,
	tool_calls      TEXT,
	sequence        INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	UNIQUE(conversation_id, sequence)
);

CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(
	file_id UNINDEXED,
	repo_id UNINDEXED,
	path,
	summary,
	element_names
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// nowUTC returns the current time truncated for stable round-trips.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// formatTime renders a timestamp for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads a stored timestamp; zero time on empty or malformed.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
