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

// Package ui provides terminal output helpers for the CLI: colored status
// prefixes that degrade to plain text when stdout is not a TTY or when
// color is disabled.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	successPrefix = color.New(color.FgGreen, color.Bold).SprintFunc()
	errorPrefix   = color.New(color.FgRed, color.Bold).SprintFunc()
	warnPrefix    = color.New(color.FgYellow, color.Bold).SprintFunc()
	infoPrefix    = color.New(color.FgCyan).SprintFunc()
	dimText       = color.New(color.Faint).SprintFunc()
)

// InitColors enables or disables colored output. Color is disabled when
// noColor is true or when stdout is not a terminal.
func InitColors(noColor bool) {
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Success prints a green checkmark line to stdout.
func Success(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", successPrefix("✓"), fmt.Sprintf(format, args...))
}

// Error prints a red cross line to stderr.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorPrefix("✗"), fmt.Sprintf(format, args...))
}

// Warn prints a yellow warning line to stderr.
func Warn(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", warnPrefix("!"), fmt.Sprintf(format, args...))
}

// Info prints a cyan informational line to stdout.
func Info(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", infoPrefix("→"), fmt.Sprintf(format, args...))
}

// Dim returns s rendered in faint text.
func Dim(s string) string {
	return dimText(s)
}

// Green returns s rendered in green.
func Green(s string) string {
	return color.GreenString(s)
}

// Red returns s rendered in red.
func Red(s string) string {
	return color.RedString(s)
}

// Yellow returns s rendered in yellow.
func Yellow(s string) string {
	return color.YellowString(s)
}
