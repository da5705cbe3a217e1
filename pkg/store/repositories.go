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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kraklabs/repolens/pkg/githubapi"
)

// CreateRepository inserts a new repository document.
func (s *Store) CreateRepository(ctx context.Context, repo *Repository) error {
	now := nowUTC()
	repo.CreatedAt = now
	repo.UpdatedAt = now

	treeJSON, err := json.Marshal(repo.FileTree)
	if err != nil {
		return fmt.Errorf("encode file tree: %w", err)
	}
	breakdownJSON, err := json.Marshal(repo.LanguagesBreakdown)
	if err != nil {
		return fmt.Errorf("encode languages breakdown: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repositories (
			repo_id, session_id, task_id, github_url, owner, name, full_name,
			description, default_branch, language, stars, forks, status,
			file_tree, file_count, languages_breakdown, overview, error_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.RepoID, repo.SessionID, repo.TaskID, repo.GitHubURL, repo.Owner,
		repo.Name, repo.FullName, repo.Description, repo.DefaultBranch,
		repo.Language, repo.Stars, repo.Forks, repo.Status,
		string(treeJSON), repo.FileCount, string(breakdownJSON),
		repo.Overview, repo.ErrorMessage,
		formatTime(repo.CreatedAt), formatTime(repo.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert repository: %w", err)
	}
	return nil
}

// GetRepository loads one repository by id.
func (s *Store) GetRepository(ctx context.Context, repoID string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repo_id, session_id, task_id, github_url, owner, name, full_name,
			description, default_branch, language, stars, forks, status,
			file_tree, file_count, languages_breakdown, overview, error_message,
			created_at, updated_at
		FROM repositories WHERE repo_id = ?`, repoID)
	return scanRepository(row)
}

// ListRepositories returns all repositories, newest first.
func (s *Store) ListRepositories(ctx context.Context) ([]*Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo_id, session_id, task_id, github_url, owner, name, full_name,
			description, default_branch, language, stars, forks, status,
			file_tree, file_count, languages_breakdown, overview, error_message,
			created_at, updated_at
		FROM repositories ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// UpdateRepositoryStatus sets the status and, when non-empty, the error
// message.
func (s *Store) UpdateRepositoryStatus(ctx context.Context, repoID, status, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET status = ?, error_message = ?, updated_at = ?
		WHERE repo_id = ?`,
		status, errorMessage, formatTime(nowUTC()), repoID)
	if err != nil {
		return fmt.Errorf("update repository status: %w", err)
	}
	return requireRowAffected(res, "repository", repoID)
}

// SetRepositoryOverview stores the generated repository overview.
func (s *Store) SetRepositoryOverview(ctx context.Context, repoID, overview string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET overview = ?, updated_at = ? WHERE repo_id = ?`,
		overview, formatTime(nowUTC()), repoID)
	if err != nil {
		return fmt.Errorf("set repository overview: %w", err)
	}
	return requireRowAffected(res, "repository", repoID)
}

// SetRepositoryStats stores the file count and per-language breakdown.
func (s *Store) SetRepositoryStats(ctx context.Context, repoID string, fileCount int, breakdown map[string]int) error {
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("encode languages breakdown: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET file_count = ?, languages_breakdown = ?, updated_at = ?
		WHERE repo_id = ?`,
		fileCount, string(breakdownJSON), formatTime(nowUTC()), repoID)
	if err != nil {
		return fmt.Errorf("set repository stats: %w", err)
	}
	return requireRowAffected(res, "repository", repoID)
}

// rowScanner abstracts sql.Row and sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*Repository, error) {
	var repo Repository
	var treeJSON, breakdownJSON sql.NullString
	var sessionID, taskID, description, language, overview, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&repo.RepoID, &sessionID, &taskID, &repo.GitHubURL, &repo.Owner,
		&repo.Name, &repo.FullName, &description, &repo.DefaultBranch,
		&language, &repo.Stars, &repo.Forks, &repo.Status,
		&treeJSON, &repo.FileCount, &breakdownJSON, &overview, &errMsg,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}

	repo.SessionID = sessionID.String
	repo.TaskID = taskID.String
	repo.Description = description.String
	repo.Language = language.String
	repo.Overview = overview.String
	repo.ErrorMessage = errMsg.String
	repo.CreatedAt = parseTime(createdAt)
	repo.UpdatedAt = parseTime(updatedAt)

	if treeJSON.Valid && treeJSON.String != "" && treeJSON.String != "null" {
		var tree githubapi.TreeNode
		if err := json.Unmarshal([]byte(treeJSON.String), &tree); err == nil {
			repo.FileTree = &tree
		}
	}
	if breakdownJSON.Valid && breakdownJSON.String != "" && breakdownJSON.String != "null" {
		_ = json.Unmarshal([]byte(breakdownJSON.String), &repo.LanguagesBreakdown)
	}
	return &repo, nil
}

// requireRowAffected converts a zero-row update into ErrNotFound.
func requireRowAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
