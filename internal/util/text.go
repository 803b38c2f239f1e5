// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/unicode/norm"
)

const ellipsis = "..."

// TitleMaxRunes bounds chat titles, ellipsis included.
const TitleMaxRunes = 100

// Title derives a chat title from a prompt: NFC-normalized, whitespace
// runs collapsed to one space, truncated to TitleMaxRunes runes.
func Title(prompt string) string {
	s := norm.NFC.String(prompt)
	s = strings.Join(strings.Fields(s), " ")
	return TruncateRunes(s, TitleMaxRunes)
}

// TruncateRunes truncates s to at most maxRunes runes. When it cuts, the
// result ends in "..." and the ellipsis counts toward the limit.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= len(ellipsis) {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-len(ellipsis)]) + ellipsis
}

// TruncateWidth truncates s to a terminal display width, counting wide
// (CJK, emoji) runes as two columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	return runewidth.Truncate(s, maxWidth, ellipsis)
}

// StringWidth returns the display width of s.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}
