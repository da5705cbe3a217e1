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
)

// FindOrCreateConversation returns the conversation for a (session, repo)
// pair, creating it on first use.
func (s *Store) FindOrCreateConversation(ctx context.Context, sessionID, repoID string) (*Conversation, error) {
	conv, err := s.getConversation(ctx, sessionID, repoID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := nowUTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, session_id, repo_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, repo_id) DO NOTHING`,
		NewID(), sessionID, repoID, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return s.getConversation(ctx, sessionID, repoID)
}

func (s *Store) getConversation(ctx context.Context, sessionID, repoID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, session_id, repo_id, created_at
		FROM conversations WHERE session_id = ? AND repo_id = ?`,
		sessionID, repoID)

	var conv Conversation
	var createdAt string
	err := row.Scan(&conv.ConversationID, &conv.SessionID, &conv.RepoID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.CreatedAt = parseTime(createdAt)
	return &conv, nil
}

// RecentMessages returns the last limit messages of a conversation in
// ascending sequence order.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, conversation_id, role, content, tool_calls, sequence, created_at
		FROM (
			SELECT * FROM messages WHERE conversation_id = ?
			ORDER BY sequence DESC LIMIT ?
		) ORDER BY sequence ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		var m Message
		var content, toolCalls sql.NullString
		var createdAt string
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.Role,
			&content, &toolCalls, &m.Sequence, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Content = content.String
		decodeJSON(toolCalls, &m.ToolCalls)
		m.CreatedAt = parseTime(createdAt)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// AppendMessage persists a message with the next sequence number. The
// sequence is assigned inside a transaction so it is strictly increasing
// even with concurrent writers.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string, toolCalls []ToolCallRecord) (*Message, error) {
	toolCallsJSON, err := json.Marshal(toolCalls)
	if err != nil {
		return nil, fmt.Errorf("encode tool calls: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}

	m := &Message{
		MessageID:      NewID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
		Sequence:       next,
		CreatedAt:      nowUTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, role, content, tool_calls, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.ConversationID, m.Role, m.Content,
		string(toolCallsJSON), m.Sequence, formatTime(m.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return m, nil
}
