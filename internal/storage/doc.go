// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable chat and message persistence.
//
// Chats, messages and attachment metadata live in a SQLite database
// (modernc.org/sqlite, no cgo). Generated image bytes are written to a blob
// directory next to it with atomic renames.
//
// # Key Types
//
//   - Store: Conversation store backed by SQLite
//   - Tx: Transaction scope for multi-step writes (message + attachment)
//   - ValidationError: Rejected input such as an unsupported model
//   - AttachmentError: Failure while storing a generated image
//
// # Usage
//
//	store, err := storage.Open(storage.Config{Path: dbPath, BlobDir: blobDir})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	chat, err := store.CreateChat(ctx, userID, prompt, model.ModalityText, "llama3.1")
//	msg, err := store.AppendMessage(ctx, chat.ID, prompt)
//	err = store.UpdateAnswer(ctx, msg.ID, answer)
//
// # Attachments
//
// A message holds at most one generated image. AttachGeneratedImage on a
// message that already has one fails with an AttachmentError wrapping
// ErrImageAlreadyAttached; the stored image is never replaced.
package storage
