// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the domain types for chats and messages and the
// registry of models each chat modality may use.
//
// # Key Types
//
//   - Chat: A conversation owned by a user, bound to one modality and model
//   - Message: One prompt/answer turn, optionally carrying a generated image
//   - Modality: Chat type enumeration (text, image)
//   - Turn: One role/content entry of the context window sent to a producer
//   - ModelInfo: Display metadata for a supported model
//
// # Usage
//
// Validate a model before creating a chat:
//
//	if !model.IsSupported(model.ModalityText, "llama3.1") {
//	    return errUnsupported
//	}
//
// Build the context window for a new prompt:
//
//	turns := model.ContextWindow(history, "What's my name?")
package model
