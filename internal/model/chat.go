// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat identifies a conversation between a user and one model.
// ModelName is validated against the registry at creation and never changes.
type Chat struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Modality  Modality  `json:"modality"`
	ModelName string    `json:"model"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one turn of a chat. Text chats grow Answer over time; image
// chats leave Answer empty and carry Image once generation succeeds.
type Message struct {
	ID        int64       `json:"id"`
	ChatID    int64       `json:"chat_id"`
	Prompt    string      `json:"prompt"`
	Answer    string      `json:"answer"`
	Excluded  bool        `json:"excluded"`
	Image     *Attachment `json:"image,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// InContext reports whether the message is part of future context windows.
func (m *Message) InContext() bool {
	return !m.Excluded
}

// HasImage reports whether a generated image is attached.
func (m *Message) HasImage() bool {
	return m.Image != nil
}

// Attachment describes a generated image stored for a message.
type Attachment struct {
	MessageID   int64     `json:"message_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Path        string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// URL returns the HTTP path serving the attachment bytes.
func (a *Attachment) URL() string {
	return fmt.Sprintf("/messages/%d/image", a.MessageID)
}

// =============================================================================
// CONTEXT WINDOW
// =============================================================================

// Role represents the author of a turn in the context window.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation history sent to a text producer.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ContextWindow expands each in-context message into a user/assistant pair,
// keeping the given order, and appends prompt as the final unanswered turn.
// Excluded messages are skipped even if the caller passes them in.
func ContextWindow(history []Message, prompt string) []Turn {
	turns := make([]Turn, 0, len(history)*2+1)
	for i := range history {
		if history[i].Excluded {
			continue
		}
		turns = append(turns,
			Turn{Role: RoleUser, Content: history[i].Prompt},
			Turn{Role: RoleAssistant, Content: history[i].Answer},
		)
	}
	return append(turns, Turn{Role: RoleUser, Content: prompt})
}
