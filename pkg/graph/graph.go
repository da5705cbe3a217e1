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

// Package graph resolves raw per-file import strings against the set of
// known repository paths into an inter-file dependency projection. The
// resolver is deterministic and does no I/O; reverse edges are derived
// from forward edges, so the projection can always be rebuilt.
package graph

import (
	"path"
	"sort"
	"strings"

	"github.com/kraklabs/repolens/pkg/store"
)

// FileImports is the resolver's view of one parsed file.
type FileImports struct {
	Path     string
	Language string
	Imports  []string
}

// index holds the lookup structures built once per repository file set.
type index struct {
	paths  map[string]bool
	noExt  map[string]string   // path minus extension -> full path
	dirs   map[string][]string // directory -> files in it, sorted
	byName map[string][]string // bare filename -> full paths, sorted
}

func buildIndex(files []FileImports) *index {
	idx := &index{
		paths:  make(map[string]bool),
		noExt:  make(map[string]string),
		dirs:   make(map[string][]string),
		byName: make(map[string][]string),
	}
	// Sort first so ambiguous noExt collisions resolve to the same path on
	// every run.
	sorted := make([]string, 0, len(files))
	for _, f := range files {
		sorted = append(sorted, f.Path)
	}
	sort.Strings(sorted)

	for _, p := range sorted {
		idx.paths[p] = true
		stripped := strings.TrimSuffix(p, path.Ext(p))
		if _, ok := idx.noExt[stripped]; !ok {
			idx.noExt[stripped] = p
		}
		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		}
		idx.dirs[dir] = append(idx.dirs[dir], p)
		name := path.Base(p)
		idx.byName[name] = append(idx.byName[name], p)
	}
	return idx
}

// lookup tries a candidate module path against the file set: exact file,
// file minus extension, then directory entry points (index.*, __init__.py,
// mod.rs).
func (idx *index) lookup(candidate string) (string, bool) {
	candidate = path.Clean(candidate)
	if candidate == "." || candidate == "" || strings.HasPrefix(candidate, "..") {
		return "", false
	}
	if idx.paths[candidate] {
		return candidate, true
	}
	if p, ok := idx.noExt[candidate]; ok {
		return p, true
	}
	if entries, ok := idx.dirs[candidate]; ok {
		for _, entry := range entries {
			base := path.Base(entry)
			stem := strings.TrimSuffix(base, path.Ext(base))
			if stem == "index" || base == "__init__.py" || base == "mod.rs" {
				return entry, true
			}
		}
	}
	return "", false
}

// Resolve maps every file's raw imports into internal file paths and
// external package names, then derives the reverse imported_by edges.
func Resolve(files []FileImports) map[string]store.Dependencies {
	idx := buildIndex(files)
	result := make(map[string]store.Dependencies, len(files))

	for _, f := range files {
		deps := store.Dependencies{
			Imports:         []string{},
			ImportedBy:      []string{},
			ExternalImports: []string{},
		}
		internal := make(map[string]bool)
		external := make(map[string]bool)

		for _, imp := range f.Imports {
			imp = strings.TrimSpace(imp)
			if imp == "" {
				continue
			}
			if target, ok := resolveImport(f, imp, idx); ok {
				if target != f.Path {
					internal[target] = true
				}
				continue
			}
			if name := externalName(f.Language, imp); name != "" {
				external[name] = true
			}
		}

		deps.Imports = sortedKeys(internal)
		deps.ExternalImports = sortedKeys(external)
		result[f.Path] = deps
	}

	// Reverse edges.
	for src, deps := range result {
		for _, target := range deps.Imports {
			t := result[target]
			t.ImportedBy = append(t.ImportedBy, src)
			result[target] = t
		}
	}
	for p, deps := range result {
		sort.Strings(deps.ImportedBy)
		result[p] = deps
	}
	return result
}

// resolveImport maps one raw import string to a repository path, with
// heuristics per source language.
func resolveImport(f FileImports, imp string, idx *index) (string, bool) {
	dir := path.Dir(f.Path)
	if dir == "." {
		dir = ""
	}

	// Relative imports resolve against the importing file's directory in
	// every language that has them.
	if strings.HasPrefix(imp, "./") || strings.HasPrefix(imp, "../") {
		return idx.lookup(path.Join(dir, imp))
	}

	switch f.Language {
	case "python":
		return resolvePython(dir, imp, idx)
	case "go":
		return resolveGoPackage(imp, idx)
	case "java":
		return idx.lookup(strings.ReplaceAll(imp, ".", "/") + ".java")
	case "rust":
		return resolveRust(dir, imp, idx)
	case "c", "cpp":
		if p, ok := idx.lookup(path.Join(dir, imp)); ok {
			return p, ok
		}
		return idx.lookup(imp)
	case "php":
		return idx.lookup(strings.ReplaceAll(strings.TrimPrefix(imp, "\\"), "\\", "/") + ".php")
	default:
		// javascript, typescript, jsx, tsx and anything path-like: a bare
		// specifier is a package, a repo-rooted path may still match.
		return idx.lookup(imp)
	}
}

// resolvePython maps dotted modules and leading-dot relative imports.
func resolvePython(dir, imp string, idx *index) (string, bool) {
	rel := 0
	for rel < len(imp) && imp[rel] == '.' {
		rel++
	}
	module := strings.ReplaceAll(imp[rel:], ".", "/")

	if rel > 0 {
		base := dir
		for i := 1; i < rel; i++ {
			base = path.Dir(base)
			if base == "." {
				base = ""
			}
		}
		return idx.lookup(path.Join(base, module))
	}

	// Absolute module: try from the repo root, then from the importer's
	// directory for flat layouts without a package root.
	if p, ok := idx.lookup(module); ok {
		return p, true
	}
	return idx.lookup(path.Join(dir, module))
}

// resolveGoPackage matches a module-qualified import against a repository
// directory by suffix, returning that directory's entry file.
func resolveGoPackage(imp string, idx *index) (string, bool) {
	matched := ""
	for d := range idx.dirs {
		if d == "" {
			continue
		}
		if imp == d || strings.HasSuffix(imp, "/"+d) {
			if matched == "" || d < matched {
				matched = d
			}
		}
	}
	if matched == "" {
		return "", false
	}
	for _, entry := range idx.dirs[matched] {
		if strings.HasSuffix(entry, ".go") && !strings.HasSuffix(entry, "_test.go") {
			return entry, true
		}
	}
	return "", false
}

// resolveRust maps crate:: and super:: use paths onto src files.
func resolveRust(dir, imp string, idx *index) (string, bool) {
	imp = strings.TrimSuffix(imp, ";")
	parts := strings.Split(imp, "::")
	switch parts[0] {
	case "crate":
		parts = parts[1:]
	case "super":
		base := path.Dir(dir)
		if base == "." {
			base = ""
		}
		return lookupRustModule(base, parts[1:], idx)
	case "self":
		return lookupRustModule(dir, parts[1:], idx)
	case "std", "core", "alloc":
		return "", false
	default:
		return "", false
	}
	if p, ok := lookupRustModule("src", parts, idx); ok {
		return p, true
	}
	return lookupRustModule("", parts, idx)
}

// lookupRustModule walks the longest module prefix that maps to a file;
// trailing segments are items inside the module.
func lookupRustModule(base string, parts []string, idx *index) (string, bool) {
	for n := len(parts); n > 0; n-- {
		candidate := path.Join(append([]string{base}, parts[:n]...)...)
		if p, ok := idx.lookup(candidate); ok {
			return p, true
		}
	}
	return "", false
}

// externalName reduces an unresolved import to the package name worth
// reporting.
func externalName(language, imp string) string {
	switch language {
	case "python":
		if strings.HasPrefix(imp, ".") {
			return ""
		}
		return strings.SplitN(imp, ".", 2)[0]
	case "javascript", "typescript", "jsx", "tsx":
		if strings.HasPrefix(imp, ".") || strings.HasPrefix(imp, "/") {
			return ""
		}
		parts := strings.Split(imp, "/")
		if strings.HasPrefix(imp, "@") && len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
		return parts[0]
	case "java", "php":
		return imp
	case "rust":
		name := strings.SplitN(strings.TrimSuffix(imp, ";"), "::", 2)[0]
		switch name {
		case "crate", "super", "self":
			return ""
		}
		return name
	case "c", "cpp":
		if strings.HasPrefix(imp, ".") {
			return ""
		}
		return imp
	default:
		if strings.HasPrefix(imp, ".") {
			return ""
		}
		return imp
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
