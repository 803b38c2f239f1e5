// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.png")
	data := []byte{0x89, 'P', 'N', 'G'}

	require.NoError(t, AtomicWriteFile(path, data, 0o600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs", "12", "image.png")

	require.NoError(t, AtomicWriteFile(path, []byte("x"), 0o600))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("initial"), 0o644))
	require.NoError(t, AtomicWriteFile(path, []byte("replaced"), 0o644))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(content))
}

func TestAtomicWriteFile_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AtomicWriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".rigchat", "db"), ExpandHome("~/.rigchat/db"))
	assert.Equal(t, "/var/lib/rigchat", ExpandHome("/var/lib/rigchat"))
	assert.Equal(t, "relative/path", ExpandHome("relative/path"))
}

// =============================================================================
// TEXT TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 8, "hello..."},
		{"tiny limit", "hello", 2, "he"},
		{"zero", "hello", 0, ""},
		{"multibyte", "日本語のテキスト", 6, "日本語..."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := TruncateRunes(tc.in, tc.max); got != tc.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Hello there", Title("  Hello \n\t there  "))

	long := strings.Repeat("a", 150)
	title := Title(long)
	assert.Equal(t, TitleMaxRunes, utf8.RuneCountInString(title))
	assert.True(t, strings.HasSuffix(title, "..."))
}

func TestTitle_NormalizesToNFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	assert.Equal(t, "Caf\u00e9", Title(decomposed))
}

func TestTruncateWidth(t *testing.T) {
	assert.Equal(t, "short", TruncateWidth("short", 10))
	assert.Equal(t, "", TruncateWidth("anything", 0))

	got := TruncateWidth("日本語のテキスト", 9)
	assert.LessOrEqual(t, StringWidth(got), 9)
	assert.True(t, strings.HasSuffix(got, "..."))
}
