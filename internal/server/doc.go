// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the rigchat HTTP API.
//
// Prompts are never answered inside the request: handlers persist what
// they can, queue a background task and return 202 with the task id.
// Progress reaches clients through the event stream.
//
// # Endpoints
//
//   - POST /chats, GET /chats?user_id=N, GET /chats/{id}, DELETE /chats/{id}
//   - GET /chats/{id}/messages, POST /chats/{id}/messages, POST /chats/{id}/images
//   - PATCH /messages/{id}, GET /messages/{id}/image
//   - GET /tasks/{id}, DELETE /tasks/{id}
//   - GET /models, GET /health, GET /metrics
//   - GET /events?key=... (server-sent events)
//
// # Middleware
//
// Requests pass through panic recovery, security headers, request logging
// with HTTP metrics, a per-client token bucket (golang.org/x/time/rate)
// and optional bearer authentication. /health is never authenticated.
package server
