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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repolens/internal/ui"
	"github.com/kraklabs/repolens/pkg/store"
)

// repoStatus is one repository row for status output.
type repoStatus struct {
	RepoID      string    `json:"repo_id"`
	FullName    string    `json:"full_name"`
	Status      string    `json:"status"`
	CurrentStep string    `json:"current_step,omitempty"`
	FileCount   int       `json:"file_count"`
	Progress    string    `json:"progress,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// runStatus executes the 'status' CLI command, listing every repository
// in the local database together with its ingestion task state.
func runStatus(args []string, cfg *Config, globals GlobalFlags) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOut := fs.Bool("json", globals.JSON, "Output as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repolens status [options]

Description:
  List ingested repositories with their status, ingestion step, and
  file counts.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
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
	repos, err := st.ListRepositories(ctx)
	if err != nil {
		ui.Error("list repositories: %v", err)
		return 1
	}

	rows := make([]repoStatus, 0, len(repos))
	for _, repo := range repos {
		row := repoStatus{
			RepoID:    repo.RepoID,
			FullName:  repo.FullName,
			Status:    repo.Status,
			FileCount: repo.FileCount,
			Error:     repo.ErrorMessage,
			CreatedAt: repo.CreatedAt,
		}
		if repo.TaskID != "" {
			task, err := st.GetTask(ctx, repo.TaskID)
			if err == nil {
				row.CurrentStep = task.Progress.CurrentStep
				if task.Progress.TotalFiles > 0 {
					row.Progress = fmt.Sprintf("%d/%d", task.Progress.ProcessedFiles, task.Progress.TotalFiles)
				}
			} else if !errors.Is(err, store.ErrNotFound) {
				ui.Warn("task %s: %v", repo.TaskID, err)
			}
		}
		rows = append(rows, row)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return 1
		}
		return 0
	}

	if len(rows) == 0 {
		fmt.Println("No repositories ingested yet. Run 'repolens ingest <github-url>'.")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPO ID\tREPOSITORY\tSTATUS\tSTEP\tFILES\tPROGRESS\tCREATED")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(row.RepoID), row.FullName, colorStatus(row.Status),
			row.CurrentStep, row.FileCount, row.Progress,
			row.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = w.Flush()

	for _, row := range rows {
		if row.Error != "" {
			ui.Error("%s: %s", row.FullName, row.Error)
		}
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func colorStatus(status string) string {
	switch status {
	case store.RepoStatusCompleted:
		return ui.Green(status)
	case store.RepoStatusFailed:
		return ui.Red(status)
	case store.RepoStatusProcessing:
		return ui.Yellow(status)
	default:
		return status
	}
}
