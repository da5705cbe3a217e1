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
	"strings"
)

const fileColumns = `file_id, repo_id, path, filename, extension, language,
	size_bytes, content, content_hash, functions, classes, imports,
	dependencies, embeddings, summary, summary_embedding, ai_provider,
	ai_model, parse_error, parsed, embedded, analyzed, created_at, updated_at`

// UpsertFile inserts a file document, replacing any prior document for the
// same (repo_id, path). The FTS row is refreshed alongside.
func (s *Store) UpsertFile(ctx context.Context, f *File) error {
	now := nowUTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if f.FileID == "" {
		f.FileID = NewID()
	}

	enc, err := encodeFileJSON(f)
	if err != nil {
		return err
	}

	// Keep the file_id stable across re-ingestion of the same path.
	var existingID string
	err = s.db.QueryRowContext(ctx,
		`SELECT file_id FROM files WHERE repo_id = ? AND path = ?`,
		f.RepoID, f.Path).Scan(&existingID)
	if err == nil {
		f.FileID = existingID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup file: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO files (
			file_id, repo_id, path, filename, extension, language, size_bytes,
			content, content_hash, functions, classes, imports, dependencies,
			embeddings, summary, summary_embedding, ai_provider, ai_model,
			parse_error, parsed, embedded, analyzed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, path) DO UPDATE SET
			filename = excluded.filename,
			extension = excluded.extension,
			language = excluded.language,
			size_bytes = excluded.size_bytes,
			content = excluded.content,
			content_hash = excluded.content_hash,
			functions = excluded.functions,
			classes = excluded.classes,
			imports = excluded.imports,
			parse_error = excluded.parse_error,
			parsed = excluded.parsed,
			updated_at = excluded.updated_at`,
		f.FileID, f.RepoID, f.Path, f.Filename, f.Extension, f.Language,
		f.SizeBytes, f.Content, f.ContentHash, enc.functions, enc.classes,
		enc.imports, enc.dependencies, enc.embeddings, f.Summary,
		enc.summaryEmbedding, f.AIProvider, f.AIModel, f.ParseError,
		boolInt(f.Parsed), boolInt(f.Embedded), boolInt(f.Analyzed),
		formatTime(f.CreatedAt), formatTime(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}

	return s.syncFTS(ctx, f.FileID, f.RepoID, f.Path, f.Summary, elementNames(f))
}

// GetFile loads one file by id.
func (s *Store) GetFile(ctx context.Context, fileID string) (*File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE file_id = ?`, fileID)
	return scanFile(row)
}

// GetFileByPath loads one file by repository and path. A leading "/" on
// the path is stripped.
func (s *Store) GetFileByPath(ctx context.Context, repoID, path string) (*File, error) {
	path = strings.TrimPrefix(path, "/")
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE repo_id = ? AND path = ?`, repoID, path)
	return scanFile(row)
}

// ListFiles returns every file of a repository ordered by path, full
// documents included.
func (s *Store) ListFiles(ctx context.Context, repoID string) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE repo_id = ? ORDER BY path`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// CountFiles returns the number of files stored for a repository.
func (s *Store) CountFiles(ctx context.Context, repoID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE repo_id = ?`, repoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

// UpdateFileDependencies writes the resolved dependency projection for one
// file, keyed by (repo_id, path).
func (s *Store) UpdateFileDependencies(ctx context.Context, repoID, path string, deps Dependencies) error {
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET dependencies = ?, updated_at = ?
		WHERE repo_id = ? AND path = ?`,
		string(depsJSON), formatTime(nowUTC()), repoID, path)
	if err != nil {
		return fmt.Errorf("update dependencies: %w", err)
	}
	return requireRowAffected(res, "file", path)
}

// UpdateFileEmbeddings replaces the code embedding records of a file and
// marks it embedded. Element names feed the FTS index.
func (s *Store) UpdateFileEmbeddings(ctx context.Context, fileID string, records []EmbeddingRecord) error {
	recJSON, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode embeddings: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET embeddings = ?, embedded = 1, updated_at = ?
		WHERE file_id = ?`,
		string(recJSON), formatTime(nowUTC()), fileID)
	if err != nil {
		return fmt.Errorf("update embeddings: %w", err)
	}
	if err := requireRowAffected(res, "file", fileID); err != nil {
		return err
	}
	return s.refreshFTS(ctx, fileID)
}

// UpdateFileSummary stores the generated summary with its provenance and
// marks the file analyzed.
func (s *Store) UpdateFileSummary(ctx context.Context, fileID, summary, provider, model string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET summary = ?, ai_provider = ?, ai_model = ?, analyzed = 1, updated_at = ?
		WHERE file_id = ?`,
		summary, provider, model, formatTime(nowUTC()), fileID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if err := requireRowAffected(res, "file", fileID); err != nil {
		return err
	}
	return s.refreshFTS(ctx, fileID)
}

// UpdateSummaryEmbedding stores the vector for a file's summary. The
// vector lives only in this column, never in the embeddings array.
func (s *Store) UpdateSummaryEmbedding(ctx context.Context, fileID string, vector []float32) error {
	vecJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode summary embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET summary_embedding = ?, updated_at = ? WHERE file_id = ?`,
		string(vecJSON), formatTime(nowUTC()), fileID)
	if err != nil {
		return fmt.Errorf("update summary embedding: %w", err)
	}
	return requireRowAffected(res, "file", fileID)
}

// syncFTS rewrites the FTS row for a file.
func (s *Store) syncFTS(ctx context.Context, fileID, repoID, path, summary, names string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM files_fts WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("clear fts row: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO files_fts (file_id, repo_id, path, summary, element_names)
		VALUES (?, ?, ?, ?, ?)`,
		fileID, repoID, path, summary, names); err != nil {
		return fmt.Errorf("insert fts row: %w", err)
	}
	return nil
}

// refreshFTS rebuilds the FTS row from the current file document.
func (s *Store) refreshFTS(ctx context.Context, fileID string) error {
	f, err := s.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	return s.syncFTS(ctx, f.FileID, f.RepoID, f.Path, f.Summary, elementNames(f))
}

// elementNames joins function, class, and embedding names for lexical
// matching.
func elementNames(f *File) string {
	var names []string
	for _, fn := range f.Functions {
		names = append(names, fn.Name)
	}
	for _, cls := range f.Classes {
		names = append(names, cls.Name)
	}
	for _, rec := range f.Embeddings {
		names = append(names, rec.Name)
	}
	return strings.Join(names, " ")
}

// encodedFile holds the JSON-rendered columns of a file document.
type encodedFile struct {
	functions        string
	classes          string
	imports          string
	dependencies     string
	embeddings       string
	summaryEmbedding string
}

func encodeFileJSON(f *File) (*encodedFile, error) {
	enc := &encodedFile{}
	for _, field := range []struct {
		name string
		src  any
		dst  *string
	}{
		{"functions", f.Functions, &enc.functions},
		{"classes", f.Classes, &enc.classes},
		{"imports", f.Imports, &enc.imports},
		{"dependencies", f.Dependencies, &enc.dependencies},
		{"embeddings", f.Embeddings, &enc.embeddings},
		{"summary_embedding", f.SummaryEmbedding, &enc.summaryEmbedding},
	} {
		data, err := json.Marshal(field.src)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", field.name, err)
		}
		*field.dst = string(data)
	}
	return enc, nil
}

func scanFile(row rowScanner) (*File, error) {
	var f File
	var functions, classes, imports, deps, embeddings, summaryVec sql.NullString
	var content, contentHash, summary, provider, model, parseError sql.NullString
	var filename, extension, language sql.NullString
	var parsed, embedded, analyzed int
	var createdAt, updatedAt string

	err := row.Scan(
		&f.FileID, &f.RepoID, &f.Path, &filename, &extension, &language,
		&f.SizeBytes, &content, &contentHash, &functions, &classes, &imports,
		&deps, &embeddings, &summary, &summaryVec, &provider, &model,
		&parseError, &parsed, &embedded, &analyzed, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	f.Filename = filename.String
	f.Extension = extension.String
	f.Language = language.String
	f.Content = content.String
	f.ContentHash = contentHash.String
	f.Summary = summary.String
	f.AIProvider = provider.String
	f.AIModel = model.String
	f.ParseError = parseError.String
	f.Parsed = parsed != 0
	f.Embedded = embedded != 0
	f.Analyzed = analyzed != 0
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)

	decodeJSON(functions, &f.Functions)
	decodeJSON(classes, &f.Classes)
	decodeJSON(imports, &f.Imports)
	decodeJSON(deps, &f.Dependencies)
	decodeJSON(embeddings, &f.Embeddings)
	decodeJSON(summaryVec, &f.SummaryEmbedding)
	return &f, nil
}

func decodeJSON(col sql.NullString, dst any) {
	if !col.Valid || col.String == "" || col.String == "null" {
		return
	}
	_ = json.Unmarshal([]byte(col.String), dst)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
