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
	"errors"
	"fmt"
)

// CreateTask inserts a new task in pending/queued state.
func (s *Store) CreateTask(ctx context.Context, task *Task) error {
	now := nowUTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	if task.Progress.CurrentStep == "" {
		task.Progress.CurrentStep = StepQueued
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			task_id, task_type, status, total_files, processed_files,
			current_step, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.TaskType, task.Status,
		task.Progress.TotalFiles, task.Progress.ProcessedFiles,
		task.Progress.CurrentStep, task.ErrorMessage,
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask loads one task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, task_type, status, total_files, processed_files,
			current_step, error_message, created_at, updated_at
		FROM tasks WHERE task_id = ?`, taskID)

	var task Task
	var errMsg sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(
		&task.TaskID, &task.TaskType, &task.Status,
		&task.Progress.TotalFiles, &task.Progress.ProcessedFiles,
		&task.Progress.CurrentStep, &errMsg, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.ErrorMessage = errMsg.String
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)
	return &task, nil
}

// AdvanceTaskStep moves the task to the given step. Steps only move
// forward; a regression returns an error so pipeline bugs surface early.
func (s *Store) AdvanceTaskStep(ctx context.Context, taskID, step string) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if StepRank(step) < StepRank(task.Progress.CurrentStep) {
		return fmt.Errorf("task %s: step %s would regress from %s", taskID, step, task.Progress.CurrentStep)
	}

	status := TaskStatusInProgress
	if step == StepCompleted {
		status = TaskStatusCompleted
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET current_step = ?, status = ?, updated_at = ?
		WHERE task_id = ?`,
		step, status, formatTime(nowUTC()), taskID)
	if err != nil {
		return fmt.Errorf("advance task step: %w", err)
	}
	return nil
}

// UpdateTaskProgress writes the file counters.
func (s *Store) UpdateTaskProgress(ctx context.Context, taskID string, processed, total int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET processed_files = ?, total_files = ?, updated_at = ?
		WHERE task_id = ?`,
		processed, total, formatTime(nowUTC()), taskID)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return requireRowAffected(res, "task", taskID)
}

// FailTask marks the task failed with an error message. Valid from any
// step; this is the single terminal exception to forward-only steps.
func (s *Store) FailTask(ctx context.Context, taskID, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, current_step = ?, error_message = ?, updated_at = ?
		WHERE task_id = ?`,
		TaskStatusFailed, StepFailed, errorMessage, formatTime(nowUTC()), taskID)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return requireRowAffected(res, "task", taskID)
}
