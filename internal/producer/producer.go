// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package producer defines the contracts between the chat orchestrators
// and the external services that generate answers.
//
// A TextProducer returns a FragmentStream: a lazy, finite sequence the
// caller drains with Next until io.EOF. Next blocks until the next
// fragment arrives, so the consuming goroutine suspends rather than spins.
// An ImageProducer performs one blocking request per prompt.
package producer

import (
	"context"
	"errors"

	"github.com/jeranaias/rigchat/internal/model"
)

// Producer implementations make their errors match these sentinels with
// errors.Is so callers can classify failures without knowing the client.
var (
	// ErrTimeout is matched by failures caused by an exhausted deadline.
	ErrTimeout = errors.New("producer timed out")

	// ErrMalformed is matched by responses that carry no usable output.
	ErrMalformed = errors.New("malformed producer response")
)

// Fragment is one incremental piece of generated text.
type Fragment struct {
	Text string
}

// FragmentStream yields fragments in arrival order. Next returns io.EOF
// once the producer finished successfully; any other error ends the
// stream. Close releases the underlying connection and is safe to call
// more than once.
type FragmentStream interface {
	Next(ctx context.Context) (Fragment, error)
	Close() error
}

// Usage is what a finished stream reports about its generation.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

// UsageReporter is implemented by streams that know their token counts
// once Next has returned io.EOF.
type UsageReporter interface {
	Usage() Usage
}

// TextProducer opens a streamed completion for a context window.
type TextProducer interface {
	Stream(ctx context.Context, modelID string, turns []model.Turn) (FragmentStream, error)
}

// ImageRequest describes one image generation call.
type ImageRequest struct {
	Prompt string
	Model  string
	Width  int
	Height int
}

// Image is decoded image data returned by an ImageProducer.
type Image struct {
	Data        []byte
	ContentType string
}

// ImageProducer generates one image per call.
type ImageProducer interface {
	Generate(ctx context.Context, req ImageRequest) (*Image, error)
}
