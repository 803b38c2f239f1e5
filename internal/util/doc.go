// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the storage, server and
// terminal client packages.
//
// # Key Functions
//
// Text:
//   - Title: Derives a chat title from its first prompt
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: Display-width truncation for terminal output
//
// Files:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - ExpandHome: Resolves a leading "~/" in configured paths
//
// # Usage
//
//	title := util.Title(prompt)
//	err := util.AtomicWriteFile(path, data, 0o600)
package util
