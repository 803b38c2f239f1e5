// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for the rigchat CLI.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")). // Cyan
			MarginBottom(1)

	// LabelStyle is used for left-aligned field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(20)

	// ValueStyle is used for regular values and text
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// SuccessStyle is used for success messages and OK statuses
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	// ErrorStyle is used for error messages and failures
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// WarningStyle is used for warnings and cautions
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle is used for secondary information and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// SeparatorStyle is used for visual separators
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// PromptStyle is the interactive chat prompt
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)
)

// =============================================================================
// HELPERS
// =============================================================================

// render applies style only when colors are enabled.
func render(style lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}
	return style.Render(text)
}

// RenderSeparator renders a horizontal rule, 70 columns unless width is
// given.
func RenderSeparator(width ...int) string {
	w := 70
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return render(SeparatorStyle, strings.Repeat("-", w))
}

// RenderStatus renders a bracketed status indicator.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "complete", "done":
		return render(SuccessStyle, "[OK]")
	case "failed", "error", "unavailable":
		return render(ErrorStyle, "[FAIL]")
	case "degraded", "queued", "running":
		return render(WarningStyle, "["+strings.ToUpper(status)+"]")
	default:
		return render(DimStyle, "["+strings.ToUpper(status)+"]")
	}
}

// RenderLabel renders a label padded to the label column.
func RenderLabel(label string) string {
	if !ColorsEnabled() {
		return label + ": "
	}
	return LabelStyle.Render(label)
}
