// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux styles the vision CLI's terminal output.
//
// Every print helper respects the active personality level: full output
// uses the Aleutian teal palette via lipgloss, minimal keeps the icons,
// and machine mode emits grep-friendly prefixed lines.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian palette, trimmed to what the CLI prints.
var (
	ColorTeal    = lipgloss.Color("#2CD7C7") // brand highlight, success
	ColorTealDim = lipgloss.Color("#16858E") // borders, accents
	ColorSlate   = lipgloss.Color("#2C4A54") // muted text
	ColorAmber   = lipgloss.Color("#F4D03F") // warnings
	ColorRed     = lipgloss.Color("#E74C3C") // errors
)

// Styles are the shared lipgloss styles for CLI output.
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTeal),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorTeal),
	Warning:   lipgloss.NewStyle().Foreground(ColorAmber),
	Error:     lipgloss.NewStyle().Foreground(ColorRed),
	Highlight: lipgloss.NewStyle().Bold(true).Foreground(ColorTeal),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDim).
		Padding(0, 1),
}

// Output destinations, swappable in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Success prints a completed-step line.
func Success(text string) {
	switch CurrentLevel() {
	case PersonalityMachine:
		fmt.Fprintf(stdout, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(stdout, "✓ %s\n", text)
	default:
		fmt.Fprintf(stdout, "%s %s\n", Styles.Success.Render("✓"), Styles.Success.Render(text))
	}
}

// Warning prints a recoverable-problem line.
func Warning(text string) {
	switch CurrentLevel() {
	case PersonalityMachine:
		fmt.Fprintf(stderr, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(stdout, "⚠ %s\n", text)
	default:
		fmt.Fprintf(stdout, "%s %s\n", Styles.Warning.Render("⚠"), Styles.Warning.Render(text))
	}
}

// Error prints a failure line.
func Error(text string) {
	switch CurrentLevel() {
	case PersonalityMachine:
		fmt.Fprintf(stderr, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(stdout, "✗ %s\n", text)
	default:
		fmt.Fprintf(stdout, "%s %s\n", Styles.Error.Render("✗"), Styles.Error.Render(text))
	}
}

// Info prints a neutral status line.
func Info(text string) {
	if CurrentLevel() == PersonalityMachine {
		fmt.Fprintln(stdout, text)
		return
	}
	fmt.Fprintf(stdout, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text; machine mode drops it entirely.
func Muted(text string) {
	if CurrentLevel() == PersonalityMachine {
		return
	}
	fmt.Fprintln(stdout, Styles.Muted.Render(text))
}

// Box prints titled content in a rounded border, or a "title: content"
// line in machine mode.
func Box(title, content string) {
	if CurrentLevel() == PersonalityMachine {
		fmt.Fprintf(stdout, "%s: %s\n", title, content)
		return
	}
	body := Styles.Title.Render(title) + "\n" + content
	fmt.Fprintln(stdout, Styles.Box.Width(60).Render(body))
}
