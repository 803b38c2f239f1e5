// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/jeranaias/rigchat/internal/producer"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind classifies an orchestrator error.
type Kind string

const (
	// KindValidation is bad or missing input; never retried.
	KindValidation Kind = "ValidationError"

	// KindProducer is a transport or provider failure.
	KindProducer Kind = "ProducerError"

	// KindDecoding is a producer response without usable image data.
	KindDecoding Kind = "DecodingError"

	// KindAttachment is a failed write to the store, including the image
	// attachment itself.
	KindAttachment Kind = "AttachmentError"

	// KindTimeout is a producer call that exceeded its deadline.
	KindTimeout Kind = "TimeoutError"
)

// Error is one structured failure reported in a Result.
type Error struct {
	Kind    Kind   `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func validationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// persistenceError wraps a store failure during a required write.
func persistenceError(action string, err error) *Error {
	var attachErr *storage.AttachmentError
	if errors.As(err, &attachErr) {
		return &Error{Kind: KindAttachment, Field: "attachment", Message: err.Error(), Cause: err}
	}
	return &Error{Kind: KindAttachment, Message: "failed to " + action + ": " + err.Error(), Cause: err}
}

// lookupError maps a failed chat lookup.
func lookupError(err error) *Error {
	if errors.Is(err, storage.ErrChatNotFound) {
		return &Error{Kind: KindValidation, Field: "chat", Message: "chat not found", Cause: err}
	}
	return persistenceError("load chat", err)
}

// classify maps any error reaching the orchestrator boundary to an Error.
func classify(err error) *Error {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr
	}

	var validation *storage.ValidationError
	switch {
	case errors.As(err, &validation):
		return &Error{Kind: KindValidation, Field: validation.Field, Message: validation.Error(), Cause: err}
	case errors.Is(err, storage.ErrChatNotFound):
		return &Error{Kind: KindValidation, Field: "chat", Message: "chat not found", Cause: err}
	case errors.Is(err, producer.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: err.Error(), Cause: err}
	case errors.Is(err, producer.ErrMalformed):
		return &Error{Kind: KindDecoding, Message: err.Error(), Cause: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindProducer, Message: "request canceled", Cause: err}
	default:
		return &Error{Kind: KindProducer, Message: err.Error(), Cause: err}
	}
}

// summarize joins error messages into the sentence shown to the user.
func summarize(errs []*Error) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Message)
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
