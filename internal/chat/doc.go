// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat turns one user prompt into persisted message state and a
// sequence of UI notifications.
//
// # Key Types
//
//   - StreamOrchestrator: drives a streamed text answer
//   - ImageOrchestrator: drives a single-shot image generation
//   - Accumulator: batches fragments between flushes
//   - Result: outcome of one run, with structured errors
//   - PacingSource: hot-swappable flush threshold and UI pacing delays
//
// # Text flow
//
//	validating -> resolving -> spinning -> streaming -> flushing* -> finalizing -> done
//
// The message is created lazily on the first fragment. Every fragment is
// pushed to subscribers of the message channel; every FlushThreshold
// fragments the accumulated answer is saved and a message-replaced event
// carries the full message. The stream end saves and announces once more.
//
// # Image flow
//
//	validating -> resolving -> spinning -> requesting -> decoding -> persisting -> finalizing -> done
//
// Any state may end in errored. An errored run removes the spinner and
// sends one error event to the chat owner. Runs that fail before a chat
// is known report failure without notifying anyone.
//
// # Usage
//
//	orch := chat.NewStreamOrchestrator(store, ollamaClient, hub,
//	    chat.WithLogger(log), chat.WithMetrics(metrics))
//	res := orch.Run(ctx, chat.StreamRequest{ChatID: 12, Prompt: "Hi!"})
//	if !res.Success {
//	    return res.Err()
//	}
package chat
