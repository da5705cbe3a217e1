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

package githubapi

import "strings"

// ignoreDirs are dependency, build, cache, VCS, and IDE path fragments.
// A path containing any of them is excluded.
var ignoreDirs = []string{
	"node_modules/",
	"__pycache__/",
	".pytest_cache/",
	".mypy_cache/",
	"venv/",
	"env/",
	".env/",
	"dist/",
	"build/",
	".next/",
	".nuxt/",
	"out/",
	"target/",
	"bin/",
	"obj/",
	".git/",
	".svn/",
	".hg/",
	"vendor/",
	"bower_components/",
	"coverage/",
	".cache/",
	"tmp/",
	"temp/",
	".idea/",
	".vscode/",
	".DS_Store",
}

// ignoreExtensions are compiled artifacts, media, documents, archives,
// fonts, and lock files.
var ignoreExtensions = []string{
	".pyc", ".pyo", ".pyd",
	".class", ".jar",
	".o", ".so", ".dylib", ".dll",
	".exe", ".bin",
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".ico",
	".mp4", ".mov", ".avi",
	".mp3", ".wav",
	".pdf", ".doc", ".docx",
	".zip", ".tar", ".gz", ".rar",
	".woff", ".woff2", ".ttf", ".eot",
	".lock",
}

// dotfileAllowlist are the hidden files worth keeping.
var dotfileAllowlist = map[string]bool{
	".env.example":   true,
	".gitignore":     true,
	".eslintrc.json": true,
	".prettierrc":    true,
	".babelrc":       true,
}

// ShouldIgnorePath reports whether a repository path is excluded from
// ingestion: dependency/build directories, binary extensions, and hidden
// files outside the allowlist.
func ShouldIgnorePath(path string) bool {
	for _, dir := range ignoreDirs {
		if strings.Contains(path, dir) {
			return true
		}
	}
	for _, ext := range ignoreExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	filename := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		filename = path[idx+1:]
	}
	if strings.HasPrefix(filename, ".") && !dotfileAllowlist[filename] {
		return true
	}
	return false
}
