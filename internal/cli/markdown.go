// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownRenderer *glamour.TermRenderer
	markdownOnce     sync.Once
)

// renderMarkdown renders an answer for the terminal. The original text is
// returned when stdout is not a terminal or rendering fails.
func renderMarkdown(content string) string {
	if !ColorsEnabled() {
		return content
	}
	markdownOnce.Do(func() {
		width := GetTerminalWidth()
		if width > 100 {
			width = 100
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width-4),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}

	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n") + "\n"
}
