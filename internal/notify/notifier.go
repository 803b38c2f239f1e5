// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// EVENT KINDS
// =============================================================================

// EventKind names the UI action an event asks for.
type EventKind string

const (
	KindSpinnerStart    EventKind = "spinner-start"
	KindSpinnerRemove   EventKind = "spinner-remove"
	KindMessageCreated  EventKind = "message-created"
	KindChunkAppended   EventKind = "message-chunk-appended"
	KindMessageReplaced EventKind = "message-replaced"
	KindError           EventKind = "error"
)

// =============================================================================
// CHANNEL KEYS
// =============================================================================

// ChannelKey identifies a subscription channel.
type ChannelKey string

// ChatMessages is the channel carrying message lifecycle events for a chat.
func ChatMessages(chatID int64) ChannelKey {
	return ChannelKey(fmt.Sprintf("chat:%d:ai_messages", chatID))
}

// MessageChannel carries incremental chunks for one message.
func MessageChannel(messageID int64) ChannelKey {
	return ChannelKey(fmt.Sprintf("message:%d", messageID))
}

// UserNotifications carries user-facing errors.
func UserNotifications(userID int64) ChannelKey {
	return ChannelKey(fmt.Sprintf("user:%d:notifications", userID))
}

// =============================================================================
// EVENTS
// =============================================================================

// Event is one delivered notification.
type Event struct {
	Key     ChannelKey `json:"key"`
	Kind    EventKind  `json:"kind"`
	Payload any        `json:"payload,omitempty"`
	At      time.Time  `json:"at"`
}

// SpinnerPayload accompanies spinner-start and spinner-remove.
type SpinnerPayload struct {
	ChatID int64 `json:"chat_id"`
}

// MessagePayload accompanies message-created and message-replaced.
type MessagePayload struct {
	Message  *model.Message `json:"message"`
	ImageURL string         `json:"image_url,omitempty"`
}

// NewMessagePayload builds a MessagePayload, filling ImageURL when the
// message carries an attachment.
func NewMessagePayload(msg *model.Message) MessagePayload {
	p := MessagePayload{Message: msg}
	if msg != nil && msg.HasImage() {
		p.ImageURL = msg.Image.URL()
	}
	return p
}

// ChunkPayload accompanies message-chunk-appended.
type ChunkPayload struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// ErrorPayload accompanies error.
type ErrorPayload struct {
	ChatID  int64  `json:"chat_id,omitempty"`
	Message string `json:"message"`
}

// =============================================================================
// NOTIFIER
// =============================================================================

// Notifier sends an event to every subscriber of key. Implementations must
// not block the caller on slow subscribers and must be safe for concurrent
// use.
type Notifier interface {
	Notify(ctx context.Context, key ChannelKey, kind EventKind, payload any)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, key ChannelKey, kind EventKind, payload any)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, key ChannelKey, kind EventKind, payload any) {
	f(ctx, key, kind, payload)
}

// Discard is a Notifier that drops everything.
var Discard Notifier = NotifierFunc(func(context.Context, ChannelKey, EventKind, any) {})
