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

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repolens/internal/ui"
	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/query"
	"github.com/kraklabs/repolens/pkg/search"
	"github.com/kraklabs/repolens/pkg/store"
)

// runAsk executes the 'ask' CLI command: one streaming question against
// an ingested repository.
func runAsk(args []string, cfg *Config, globals GlobalFlags) int {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	apiKey := fs.String("api-key", "", "AI provider API key (default: config / environment)")
	sessionID := fs.String("session", "", "Session id for conversation continuity (default: new session)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repolens ask [options] <repo-id> <question...>

Description:
  Ask a question about an ingested repository. The answer streams to
  stdout; retrieval steps are shown dimmed on stderr. Pass --session to
  keep follow-up questions in the same conversation.

Examples:
  repolens ask 2f1c9ab0 "where are HTTP routes registered?"
  repolens ask --session dev 2f1c9ab0 "what calls parseConfig?"

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return 1
	}
	repoArg := fs.Arg(0)
	question := strings.Join(fs.Args()[1:], " ")

	key := *apiKey
	if key == "" {
		key = cfg.APIKeyFallback()
	}
	if key == "" {
		ui.Error("no API key: pass --api-key or set REPOLENS_AI_API_KEY")
		return 1
	}

	logger := newLogger(cfg)
	st, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		ui.Error("open database: %v", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	repoID, err := resolveRepoID(ctx, st, repoArg)
	if err != nil {
		ui.Error("%v", err)
		return 1
	}

	sid := *sessionID
	if sid == "" {
		sid = store.NewID()
	}
	sess, err := st.EnsureSession(ctx, sid, cfg.Preferences())
	if err != nil {
		ui.Error("session: %v", err)
		return 1
	}

	client, err := ai.NewClient(sess.Preferences.AIProvider, sess.Preferences.AIModel, key,
		ai.WithEmbeddingDimension(cfg.EmbeddingDimension))
	if err != nil {
		ui.Error("%v", err)
		return 1
	}
	orchestrator := query.New(st, search.New(st, client, logger), client, logger)

	events, err := orchestrator.Ask(ctx, sid, repoID, question)
	if err != nil {
		ui.Error("%v", err)
		return 1
	}

	answered := false
	for ev := range events {
		switch ev.Type {
		case query.EventToolCall:
			if !globals.Quiet {
				fmt.Fprintln(os.Stderr, ui.Dim(fmt.Sprintf("→ %s %s", ev.Tool, ev.Args)))
			}
		case query.EventToolResult:
			if !globals.Quiet {
				fmt.Fprintln(os.Stderr, ui.Dim(fmt.Sprintf("← %s: %d result(s)", ev.Tool, ev.ResultCount)))
			}
		case query.EventAnswerChunk:
			fmt.Print(ev.Content)
			answered = true
		case query.EventDone:
			fmt.Println()
			if len(ev.Sources) > 0 && !globals.Quiet {
				fmt.Println()
				fmt.Println(ui.Dim("Sources:"))
				for _, src := range ev.Sources {
					loc := src.FilePath
					if src.LineStart > 0 {
						loc = fmt.Sprintf("%s:%d-%d", src.FilePath, src.LineStart, src.LineEnd)
					}
					fmt.Println(ui.Dim("  " + loc))
				}
			}
		case query.EventError:
			if answered {
				fmt.Println()
			}
			ui.Error("%s", ev.Error)
			return 1
		}
	}
	return 0
}

// resolveRepoID accepts a full repo id or an unambiguous prefix.
func resolveRepoID(ctx context.Context, st *store.Store, arg string) (string, error) {
	repos, err := st.ListRepositories(ctx)
	if err != nil {
		return "", fmt.Errorf("list repositories: %w", err)
	}
	var matches []string
	for _, repo := range repos {
		if repo.RepoID == arg {
			return arg, nil
		}
		if strings.HasPrefix(repo.RepoID, arg) {
			matches = append(matches, repo.RepoID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no repository matches %q; run 'repolens status'", arg)
	default:
		return "", fmt.Errorf("repo id %q is ambiguous (%d matches)", arg, len(matches))
	}
}
