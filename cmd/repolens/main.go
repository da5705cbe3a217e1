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

// Package main implements the repolens CLI for ingesting GitHub
// repositories and answering questions about them.
//
// Usage:
//
//	repolens serve                     Start the HTTP API server
//	repolens ingest <github-url>       Ingest one repository
//	repolens status [--json]           List repositories and task states
//	repolens ask <repo-id> <question>  Ask a question about a repository
//	repolens config [--json]           Show the effective configuration
package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repolens/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to repolens.yaml (default: ./repolens.yaml)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	// Stop parsing at the first non-flag argument so subcommand flags
	// like "ingest --api-key" reach their own flag sets.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `repolens - GitHub repository ingestion and code Q&A

repolens fetches a GitHub repository, parses its source into functions
and classes, embeds and summarizes every file, and then answers
questions about the codebase through retrieval-grounded AI queries.

Usage:
  repolens <command> [options]

Commands:
  serve         Start the HTTP API server
  ingest        Ingest one repository from its GitHub URL
  status        List repositories and ingestion task states
  ask           Ask a question about an ingested repository
  config        Show the effective configuration

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -q, --quiet       Suppress non-essential output
  -c, --config      Path to repolens.yaml
  -V, --version     Show version and exit

Examples:
  repolens ingest https://github.com/octocat/hello-world
  repolens status --json
  repolens ask 2f1c... "where is request authentication handled?"
  repolens serve -c /etc/repolens/repolens.yaml

Environment Variables:
  REPOLENS_DATABASE_PATH  SQLite database file (default: repolens.db)
  REPOLENS_AI_PROVIDER    openai or gemini
  REPOLENS_AI_MODEL       Chat model name
  REPOLENS_AI_API_KEY     Provider API key (development fallback)
  OPENAI_API_KEY          Key fallback for the openai provider
  GEMINI_API_KEY          Key fallback for the gemini provider

For detailed command help: repolens <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("repolens version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	// JSON mode auto-enables quiet so progress output cannot corrupt it.
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Quiet:   *quiet,
	}
	ui.InitColors(globals.NoColor)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}
	command := args[0]
	cmdArgs := args[1:]

	var code int
	switch command {
	case "serve":
		code = runServe(cmdArgs, cfg, globals)
	case "ingest":
		code = runIngest(cmdArgs, cfg, globals)
	case "status":
		code = runStatus(cmdArgs, cfg, globals)
	case "ask":
		code = runAsk(cmdArgs, cfg, globals)
	case "config":
		code = runConfigCmd(cmdArgs, cfg, globals)
	default:
		ui.Error("unknown command %q", command)
		fmt.Fprintf(os.Stderr, "Run 'repolens --help' for usage.\n")
		code = 1
	}
	os.Exit(code)
}

// redactKey masks all but the last four characters of an API key.
func redactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
