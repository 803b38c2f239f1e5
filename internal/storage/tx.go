// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// Tx scopes several writes in one SQL transaction. Image files written
// through it are removed again if the transaction does not commit.
type Tx struct {
	store *Store
	tx    *sql.Tx
	blobs []string
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. Do not call Store methods from fn: the store has
// a single connection, which the transaction holds.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &Tx{store: s, tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			tx.abort()
			panic(p)
		}
		if err != nil {
			tx.abort()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (tx *Tx) abort() {
	tx.tx.Rollback()
	for _, p := range tx.blobs {
		os.Remove(p)
		os.Remove(filepath.Dir(p))
	}
}

// AppendMessage adds a message inside the transaction.
func (tx *Tx) AppendMessage(ctx context.Context, chatID int64, prompt string) (*model.Message, error) {
	return appendMessage(ctx, tx.tx, tx.store.now(), chatID, prompt)
}

// GetMessage reads a message inside the transaction.
func (tx *Tx) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	return getMessage(ctx, tx.tx, id)
}

// AttachGeneratedImage writes the image file and records it for the
// message. Every failure is reported as an *AttachmentError.
func (tx *Tx) AttachGeneratedImage(ctx context.Context, messageID int64, data []byte, mimeType string) error {
	fail := func(msg string, cause error) error {
		return &AttachmentError{MessageID: messageID, Message: msg, Cause: cause}
	}

	if len(data) == 0 {
		return fail("image data is empty", nil)
	}

	var exists int
	err := tx.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attachments WHERE message_id = ?`, messageID).Scan(&exists)
	if err != nil {
		return fail("lookup failed", err)
	}
	if exists > 0 {
		return fail("message already has an image", ErrImageAlreadyAttached)
	}

	if _, err := getMessage(ctx, tx.tx, messageID); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return fail("message does not exist", err)
		}
		return fail("lookup failed", err)
	}

	filename := ImageFilename(mimeType)
	path := tx.store.blobPath(messageID, filename)
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return fail("write image file", err)
	}
	tx.blobs = append(tx.blobs, path)

	_, err = tx.tx.ExecContext(ctx,
		`INSERT INTO attachments (message_id, filename, content_type, size, path, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		messageID, filename, mimeType, len(data), path, tx.store.now().UTC().UnixNano())
	if err != nil {
		return fail("record attachment", err)
	}
	return nil
}

// ImageFilename names a generated image after its content type.
func ImageFilename(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "generated_image.jpg"
	case "image/webp":
		return "generated_image.webp"
	case "image/gif":
		return "generated_image.gif"
	default:
		return "generated_image.png"
	}
}
