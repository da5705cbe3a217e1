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

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, preferences, created_at FROM sessions WHERE session_id = ?`,
		sessionID)

	var sess Session
	var prefs sql.NullString
	var createdAt string
	err := row.Scan(&sess.SessionID, &prefs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	decodeJSON(prefs, &sess.Preferences)
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}

// EnsureSession returns the session, creating it with the given default
// preferences when it does not exist yet.
func (s *Store) EnsureSession(ctx context.Context, sessionID string, defaults Preferences) (*Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	prefsJSON, err := json.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}
	now := nowUTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, preferences, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, string(prefsJSON), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}
