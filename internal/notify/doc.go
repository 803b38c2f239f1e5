// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify delivers UI update events to subscribers keyed by channel.
//
// Producers never block on delivery: a Notifier is fire-and-forget, and a
// slow subscriber loses events instead of stalling a stream.
//
// # Key Types
//
//   - Notifier: the send side used by the chat orchestrators
//   - Hub: in-process fan-out with buffered subscriptions (feeds SSE)
//   - RedisNotifier: publishes events to Redis pub/sub for other instances
//   - Multi: sends one event through several notifiers
//   - Recorder: captures events in order, for tests
//
// # Channels
//
//	chat:<id>:ai_messages      message-created, message-replaced, spinners
//	message:<id>               message-chunk-appended
//	user:<id>:notifications    error
package notify
