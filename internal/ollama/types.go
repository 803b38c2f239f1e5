// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// Options contains model parameters for inference.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	Seed        int     `json:"seed,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is one line of the /api/chat stream. The final line has
// Done set and carries the timing counters.
type ChatResponse struct {
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	Message         Message   `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason,omitempty"`
	TotalDuration   int64     `json:"total_duration,omitempty"`    // nanoseconds
	PromptEvalCount int       `json:"prompt_eval_count,omitempty"` // tokens in prompt
	EvalCount       int       `json:"eval_count,omitempty"`        // tokens generated
	EvalDuration    int64     `json:"eval_duration,omitempty"`     // nanoseconds
	Error           string    `json:"error,omitempty"`             // set on mid-stream failure
}

// ModelInfo contains information about a locally pulled model.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// STREAM STATISTICS
// =============================================================================

// StreamStats summarizes a finished stream.
type StreamStats struct {
	Model            string
	DoneReason       string
	Fragments        int
	PromptTokens     int
	CompletionTokens int
	TotalDuration    time.Duration
	EvalDuration     time.Duration
}

// TokensPerSecond calculates the generation speed.
func (s StreamStats) TokensPerSecond() float64 {
	if s.EvalDuration <= 0 {
		return 0
	}
	return float64(s.CompletionTokens) / s.EvalDuration.Seconds()
}

// =============================================================================
// HELPERS
// =============================================================================

// FromTurns converts a context window into Ollama chat messages.
func FromTurns(turns []model.Turn) []Message {
	messages := make([]Message, len(turns))
	for i, t := range turns {
		messages[i] = Message{Role: string(t.Role), Content: t.Content}
	}
	return messages
}
