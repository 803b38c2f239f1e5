// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for rigchat.
//
// # Key Types
//
//   - Config: all settings, one struct per TOML section
//   - StreamConfig: answer pacing, the only section reloaded live
//   - Watcher: fsnotify watcher that re-reads the file on change
//   - ValidateErrors: every validation problem found in one pass
//
// # Configuration Precedence
//
// Later sources override earlier ones:
//   - Built-in defaults
//   - ~/.rigchat/config.toml (or the --config path)
//   - .env in the working directory (never overrides the real environment)
//   - Environment variables (TEXT_GENERATION_URL, IMAGE_GENERATION_*, RIGCHAT_*)
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//
//	w, err := config.NewWatcher(path, cfg.Stream, func(s config.StreamConfig) {
//	    pacing.Store(chat.Pacing{FlushThreshold: s.FlushThreshold, ...})
//	}, log)
package config
