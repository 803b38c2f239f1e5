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
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"

	_ "modernc.org/sqlite"
)

// =============================================================================
// STORE
// =============================================================================

// Config holds store locations.
type Config struct {
	// Path is the SQLite database file
	Path string

	// BlobDir holds generated image files (default: "blobs" next to Path)
	BlobDir string
}

// Store is the conversation store. It is safe for concurrent use; SQLite
// serializes writers on the single pooled connection.
type Store struct {
	db      *sql.DB
	blobDir string
	now     func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (creating if needed) the database and blob directory.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage: database path is required")
	}
	if cfg.BlobDir == "" {
		cfg.BlobDir = filepath.Join(filepath.Dir(cfg.Path), "blobs")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := os.MkdirAll(cfg.BlobDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, blobDir: cfg.BlobDir, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// CHATS
// =============================================================================

// CreateChat validates modelID against the registry for modality and
// inserts a chat titled after the prompt.
func (s *Store) CreateChat(ctx context.Context, userID int64, prompt string, modality model.Modality, modelID string) (*model.Chat, error) {
	if userID <= 0 {
		return nil, &ValidationError{Field: "user", Message: "is required"}
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, &ValidationError{Field: "prompt", Message: "is required"}
	}
	if !modality.Valid() {
		return nil, &ValidationError{Field: "modality", Message: fmt.Sprintf("%d is not a known chat type", int(modality))}
	}
	if !model.IsSupported(modality, modelID) {
		return nil, &ValidationError{
			Field:   "model",
			Message: fmt.Sprintf("%q is not supported for %s chats", modelID, modality),
		}
	}

	chat := &model.Chat{
		UserID:    userID,
		Modality:  modality,
		ModelName: modelID,
		Title:     util.Title(prompt),
		CreatedAt: s.now().UTC(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (user_id, chat_type, model_name, title, created_at) VALUES (?, ?, ?, ?, ?)`,
		chat.UserID, int(chat.Modality), chat.ModelName, chat.Title, chat.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	if chat.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return chat, nil
}

// FindChat returns the chat with the given id or ErrChatNotFound.
func (s *Store) FindChat(ctx context.Context, id int64) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, chat_type, model_name, title, created_at FROM chats WHERE id = ?`, id)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	return chat, err
}

// ListChats returns a user's chats, newest first.
func (s *Store) ListChats(ctx context.Context, userID int64) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_type, model_name, title, created_at FROM chats WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat with its messages, attachment rows and image
// files.
func (s *Store) DeleteChat(ctx context.Context, id int64) error {
	paths, err := s.attachmentPaths(ctx, id)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChatNotFound
	}

	for _, p := range paths {
		os.Remove(p)
		os.Remove(filepath.Dir(p))
	}
	return nil
}

func (s *Store) attachmentPaths(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.path FROM attachments a JOIN messages m ON m.id = a.message_id WHERE m.chat_id = ?`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage adds a message with an empty answer, included in context.
func (s *Store) AppendMessage(ctx context.Context, chatID int64, prompt string) (*model.Message, error) {
	return appendMessage(ctx, s.db, s.now(), chatID, prompt)
}

// UpdateAnswer overwrites the stored answer. Writing the same text twice
// leaves the row unchanged apart from updated_at.
func (s *Store) UpdateAnswer(ctx context.Context, messageID int64, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET answer = ?, updated_at = ? WHERE id = ?`,
		text, s.now().UTC().UnixNano(), messageID)
	if err != nil {
		return fmt.Errorf("update answer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// SetExcluded toggles whether a message takes part in future context
// windows.
func (s *Store) SetExcluded(ctx context.Context, messageID int64, excluded bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET excluded = ?, updated_at = ? WHERE id = ?`,
		excluded, s.now().UTC().UnixNano(), messageID)
	if err != nil {
		return fmt.Errorf("set excluded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// GetMessage returns a message with its attachment, if any.
func (s *Store) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	return getMessage(ctx, s.db, id)
}

// ListMessages returns every message of a chat, excluded ones included,
// in ascending id order.
func (s *Store) ListMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	return listMessages(ctx, s.db, messageColumns+` WHERE m.chat_id = ? ORDER BY m.id ASC`, chatID)
}

// ContextMessages returns the in-context messages of a chat in ascending
// id order.
func (s *Store) ContextMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	return listMessages(ctx, s.db, messageColumns+` WHERE m.chat_id = ? AND m.excluded = 0 ORDER BY m.id ASC`, chatID)
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// AttachGeneratedImage stores data as the message's generated image. It
// runs in its own transaction; use WithTx to combine it with other writes.
func (s *Store) AttachGeneratedImage(ctx context.Context, messageID int64, data []byte, mimeType string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.AttachGeneratedImage(ctx, messageID, data, mimeType)
	})
}

// ReadImage returns the bytes and metadata of a message's image.
func (s *Store) ReadImage(ctx context.Context, messageID int64) ([]byte, *model.Attachment, error) {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if msg.Image == nil {
		return nil, nil, ErrMessageNotFound
	}
	data, err := os.ReadFile(msg.Image.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("read image: %w", err)
	}
	return data, msg.Image, nil
}

func (s *Store) blobPath(messageID int64, filename string) string {
	return filepath.Join(s.blobDir, fmt.Sprintf("%d", messageID), filename)
}

// =============================================================================
// SHARED QUERIES
// =============================================================================

const messageColumns = `SELECT m.id, m.chat_id, m.prompt, m.answer, m.excluded, m.created_at, m.updated_at,
    a.filename, a.content_type, a.size, a.path, a.created_at
FROM messages m LEFT JOIN attachments a ON a.message_id = m.id`

func appendMessage(ctx context.Context, q querier, now time.Time, chatID int64, prompt string) (*model.Message, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &ValidationError{Field: "prompt", Message: "is required"}
	}

	now = now.UTC()
	msg := &model.Message{
		ChatID:    chatID,
		Prompt:    prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO messages (chat_id, prompt, answer, excluded, created_at, updated_at) VALUES (?, ?, '', 0, ?, ?)`,
		chatID, prompt, now.UnixNano(), now.UnixNano())
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func getMessage(ctx context.Context, q querier, id int64) (*model.Message, error) {
	msg, err := scanMessage(q.QueryRowContext(ctx, messageColumns+` WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

func listMessages(ctx context.Context, q querier, query string, args ...any) ([]model.Message, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (*model.Chat, error) {
	var (
		chat     model.Chat
		modality int
		created  int64
	)
	if err := row.Scan(&chat.ID, &chat.UserID, &modality, &chat.ModelName, &chat.Title, &created); err != nil {
		return nil, err
	}
	chat.Modality = model.Modality(modality)
	chat.CreatedAt = time.Unix(0, created).UTC()
	return &chat, nil
}

func scanMessage(row scanner) (*model.Message, error) {
	var (
		msg              model.Message
		created, updated int64
		filename, ctype  sql.NullString
		path             sql.NullString
		size, attached   sql.NullInt64
	)
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.Prompt, &msg.Answer, &msg.Excluded, &created, &updated,
		&filename, &ctype, &size, &path, &attached)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = time.Unix(0, created).UTC()
	msg.UpdatedAt = time.Unix(0, updated).UTC()

	if filename.Valid {
		msg.Image = &model.Attachment{
			MessageID:   msg.ID,
			Filename:    filename.String,
			ContentType: ctype.String,
			Size:        size.Int64,
			Path:        path.String,
			CreatedAt:   time.Unix(0, attached.Int64).UTC(),
		}
	}
	return &msg, nil
}

func isForeignKeyError(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
