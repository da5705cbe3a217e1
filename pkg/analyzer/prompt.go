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

package analyzer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kraklabs/repolens/pkg/store"
)

// Prompt limits.
const (
	maxPromptSignatures = 10
	maxPromptClasses    = 10
	maxPromptImports    = 10
	maxPromptContent    = 2000
)

const summarySystemPrompt = `You are a precise code analyst. Given one source file, respond with:
1. Overview: one sentence describing what the file does.
2. Key functions: 3-5 bullet points, each naming a function or method with a one-sentence description. Omit the section when the file has no functions.
3. Key dependencies: the imports or external services the file relies on.
4. Security/Notable: only include this section when there is a material issue worth flagging.
Keep the whole response under 1000 characters. Be factual; do not speculate beyond the provided code.`

const overviewSystemPrompt = `You are a precise code analyst producing a repository overview from per-file summaries. Write 4-5 paragraphs covering: the project's purpose, its architecture and main components, the technology stack, the entry points and how the pieces connect, and notable concerns or limitations. Ground every statement in the provided summaries; do not invent features.`

// File kinds drive the summary prompt variant.
const (
	KindCode    = "code"
	KindConfig  = "config"
	KindDocs    = "docs"
	KindScript  = "script"
	KindGeneric = "generic"
)

var configExtensions = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true, ".xml": true,
	".env": true, ".properties": true,
}

var docExtensions = map[string]bool{
	".md": true, ".txt": true, ".rst": true,
}

// ClassifyFile picks the prompt variant for a file from its parse results
// and extension.
func ClassifyFile(f *store.File) string {
	if len(f.Functions) > 0 || len(f.Classes) > 0 {
		return KindCode
	}
	name := strings.ToLower(f.Filename)
	ext := strings.ToLower(f.Extension)
	switch {
	case docExtensions[ext]:
		return KindDocs
	case configExtensions[ext]:
		return KindConfig
	case ext == ".sh" || name == "makefile" || name == "dockerfile" || strings.HasPrefix(name, "dockerfile."):
		return KindScript
	default:
		return KindGeneric
	}
}

// BuildSummaryPrompt renders the user prompt for one file: path, language,
// capped structural lists, and truncated content.
func BuildSummaryPrompt(f *store.File) string {
	var b strings.Builder
	kind := ClassifyFile(f)

	switch kind {
	case KindCode:
		fmt.Fprintf(&b, "Analyze this %s source file.\n", f.Language)
	case KindConfig:
		b.WriteString("Analyze this configuration file. Describe what it configures and the notable settings.\n")
	case KindDocs:
		b.WriteString("Analyze this documentation file. Describe what it documents.\n")
	case KindScript:
		b.WriteString("Analyze this build or automation script. Describe what it automates.\n")
	default:
		b.WriteString("Analyze this file and describe its role in the project.\n")
	}

	fmt.Fprintf(&b, "\nPath: %s\n", f.Path)
	if f.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", f.Language)
	}

	if n := len(f.Functions); n > 0 {
		b.WriteString("\nFunctions:\n")
		for i, fn := range f.Functions {
			if i >= maxPromptSignatures {
				fmt.Fprintf(&b, "... and %d more\n", n-maxPromptSignatures)
				break
			}
			sig := fn.Signature
			if sig == "" {
				sig = fn.Name + "(" + strings.Join(fn.Parameters, ", ") + ")"
			}
			if fn.ParentClass != "" {
				fmt.Fprintf(&b, "- %s (method of %s)\n", sig, fn.ParentClass)
			} else {
				fmt.Fprintf(&b, "- %s\n", sig)
			}
		}
	}

	if n := len(f.Classes); n > 0 {
		b.WriteString("\nClasses:\n")
		for i, cls := range f.Classes {
			if i >= maxPromptClasses {
				fmt.Fprintf(&b, "... and %d more\n", n-maxPromptClasses)
				break
			}
			methods := make([]string, 0, len(cls.Methods))
			for _, m := range cls.Methods {
				methods = append(methods, m.Name)
			}
			fmt.Fprintf(&b, "- %s (methods: %s)\n", cls.Name, strings.Join(methods, ", "))
		}
	}

	if n := len(f.Imports); n > 0 {
		b.WriteString("\nImports:\n")
		for i, imp := range f.Imports {
			if i >= maxPromptImports {
				fmt.Fprintf(&b, "... and %d more\n", n-maxPromptImports)
				break
			}
			fmt.Fprintf(&b, "- %s\n", imp)
		}
	}

	b.WriteString("\nContent:\n")
	if len(f.Content) > maxPromptContent {
		b.WriteString(f.Content[:maxPromptContent])
		b.WriteString("\n... [truncated]")
	} else {
		b.WriteString(f.Content)
	}
	return b.String()
}

// buildOverviewPrompt aggregates the selected file summaries under a
// language-count header.
func buildOverviewPrompt(repo *store.Repository, files []*store.File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", repo.FullName)
	if repo.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", repo.Description)
	}
	fmt.Fprintf(&b, "Files indexed: %d\n", repo.FileCount)

	if len(repo.LanguagesBreakdown) > 0 {
		langs := make([]string, 0, len(repo.LanguagesBreakdown))
		for lang := range repo.LanguagesBreakdown {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		parts := make([]string, 0, len(langs))
		for _, lang := range langs {
			parts = append(parts, fmt.Sprintf("%s: %d", lang, repo.LanguagesBreakdown[lang]))
		}
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(parts, ", "))
	}

	b.WriteString("\nFile summaries:\n")
	for _, f := range files {
		summary := f.Summary
		if summary == "" {
			summary = "(no summary)"
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", f.Path, summary)
	}
	return b.String()
}

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes reasoning regions from a complete response. An
// unterminated tag drops everything from the opening tag onward.
func StripThink(s string) string {
	s = thinkPattern.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
