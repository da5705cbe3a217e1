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

// Package parser extracts structural elements (functions, classes, imports)
// from source files. A Registry maps language names to parse functions;
// adding a language means calling Register with the languages it covers.
//
// Two parser families are registered by default:
//   - a native go/ast parser for Go sources (precise ranges, signatures,
//     receiver-based method attribution),
//   - a Tree-sitter based generic parser covering JavaScript, TypeScript
//     (incl. TSX), Python, Java, Rust, C, C++, and PHP.
package parser

import (
	"log/slog"
	"sort"
)

// FunctionRecord describes one callable definition in a file.
type FunctionRecord struct {
	Name          string   `json:"name"`
	LineStart     int      `json:"line_start"`
	LineEnd       int      `json:"line_end"`
	Parameters    []string `json:"parameters"`
	ParentClass   string   `json:"parent_class,omitempty"`
	IsMethod      bool     `json:"is_method"`
	ReturnType    string   `json:"return_type,omitempty"`
	Docstring     string   `json:"docstring,omitempty"`
	Signature     string   `json:"signature,omitempty"`
	IsAsync       bool     `json:"is_async"`
	IsStatic      bool     `json:"is_static,omitempty"`
	IsClassMethod bool     `json:"is_class_method,omitempty"`
}

// ClassRecord describes one class-like definition (class, struct, trait,
// interface) with its methods nested in full.
type ClassRecord struct {
	Name        string           `json:"name"`
	LineStart   int              `json:"line_start"`
	LineEnd     int              `json:"line_end"`
	Methods     []FunctionRecord `json:"methods"`
	BaseClasses []string         `json:"base_classes,omitempty"`
	Docstring   string           `json:"docstring,omitempty"`
}

// Result is the structural extraction for a single file.
//
// Functions is the flat union of every callable in the file: standalone
// functions plus every method of every class, the latter carrying
// ParentClass and IsMethod. Classes nest the same method records.
// Imports holds one entry per distinct raw import string.
type Result struct {
	Functions  []FunctionRecord `json:"functions"`
	Classes    []ClassRecord    `json:"classes"`
	Imports    []string         `json:"imports"`
	ParseError string           `json:"parse_error,omitempty"`
}

// ParseFunc parses source code into a Result. Implementations return
// standalone functions in Functions and leave method flattening to the
// Registry. A returned error marks the file as unparseable; the registry
// converts it into Result.ParseError.
type ParseFunc func(code, path, language string) (*Result, error)

// Registry dispatches files to the parser registered for their language.
type Registry struct {
	logger     *slog.Logger
	byLanguage map[string]ParseFunc
}

// NewRegistry creates a registry with the built-in parsers registered.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:     logger,
		byLanguage: make(map[string]ParseFunc),
	}
	r.Register([]string{"go"}, ParseGo)

	ts := NewTreeSitterParser(logger)
	r.Register(ts.Languages(), ts.Parse)
	return r
}

// Register maps each language name to fn. Later registrations override
// earlier ones for the same language.
func (r *Registry) Register(languages []string, fn ParseFunc) {
	for _, lang := range languages {
		r.byLanguage[lang] = fn
	}
}

// Supports reports whether a parser is registered for language.
func (r *Registry) Supports(language string) bool {
	_, ok := r.byLanguage[language]
	return ok
}

// Languages returns the registered language names, sorted.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Parse extracts the structure of a file. Unknown languages yield an empty
// Result without error (the file is stored but not parsed). Parser failures
// yield empty lists and a non-empty ParseError.
func (r *Registry) Parse(code, path, language string) *Result {
	fn, ok := r.byLanguage[language]
	if !ok {
		return &Result{}
	}

	res, err := fn(code, path, language)
	if err != nil {
		r.logger.Warn("parser.parse.error", "path", path, "language", language, "err", err)
		return &Result{ParseError: err.Error()}
	}

	normalize(res)
	return res
}

// normalize enforces the registry contract: the flat Functions list carries
// every method of every class with ParentClass set, and Imports is
// duplicate-free with original order preserved.
func normalize(res *Result) {
	flat := make([]FunctionRecord, 0, len(res.Functions))
	for _, fn := range res.Functions {
		if fn.ParentClass != "" {
			fn.IsMethod = true
		}
		flat = append(flat, fn)
	}
	for _, cls := range res.Classes {
		for _, m := range cls.Methods {
			m.ParentClass = cls.Name
			m.IsMethod = true
			flat = append(flat, m)
		}
	}
	sort.SliceStable(flat, func(i, j int) bool {
		return flat[i].LineStart < flat[j].LineStart
	})
	res.Functions = flat

	seen := make(map[string]bool, len(res.Imports))
	deduped := res.Imports[:0]
	for _, imp := range res.Imports {
		if imp == "" || seen[imp] {
			continue
		}
		seen[imp] = true
		deduped = append(deduped, imp)
	}
	res.Imports = deduped
}
