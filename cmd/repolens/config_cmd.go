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
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	flag "github.com/spf13/pflag"
)

// runConfigCmd shows the effective configuration after file and
// environment resolution. The API key is always redacted.
func runConfigCmd(args []string, cfg *Config, globals GlobalFlags) int {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	jsonOut := fs.Bool("json", globals.JSON, "Output as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: repolens config [--json]\n\nShow the effective configuration.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	shown := *cfg
	shown.AIAPIKey = redactKey(shown.AIAPIKey)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"database_path":       shown.DatabasePath,
			"host":                shown.Host,
			"port":                shown.Port,
			"debug":               shown.Debug,
			"env":                 shown.Env,
			"ai_provider":         shown.AIProvider,
			"ai_model":            shown.AIModel,
			"ai_api_key":          shown.AIAPIKey,
			"embedding_dimension": shown.EmbeddingDimension,
		}); err != nil {
			return 1
		}
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintf(w, "database_path\t%s\n", shown.DatabasePath)
	fmt.Fprintf(w, "host\t%s\n", shown.Host)
	fmt.Fprintf(w, "port\t%d\n", shown.Port)
	fmt.Fprintf(w, "debug\t%t\n", shown.Debug)
	fmt.Fprintf(w, "env\t%s\n", shown.Env)
	fmt.Fprintf(w, "ai_provider\t%s\n", shown.AIProvider)
	fmt.Fprintf(w, "ai_model\t%s\n", shown.AIModel)
	fmt.Fprintf(w, "ai_api_key\t%s\n", shown.AIAPIKey)
	fmt.Fprintf(w, "embedding_dimension\t%d\n", shown.EmbeddingDimension)
	_ = w.Flush()
	return 0
}
