// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import "fmt"

// =============================================================================
// ERROR TYPES
// =============================================================================

// StoreError is a lookup failure that can be compared with errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var (
	// ErrChatNotFound is returned when a chat id does not exist.
	ErrChatNotFound = &StoreError{Message: "chat not found"}

	// ErrMessageNotFound is returned when a message id does not exist.
	ErrMessageNotFound = &StoreError{Message: "message not found"}

	// ErrImageAlreadyAttached is wrapped by AttachmentError when a message
	// already carries a generated image.
	ErrImageAlreadyAttached = &StoreError{Message: "image already attached"}
)

// ValidationError reports input the store refuses to persist.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

// AttachmentError reports a failure while storing a generated image.
type AttachmentError struct {
	MessageID int64
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *AttachmentError) Error() string {
	msg := fmt.Sprintf("attach image to message %d: %s", e.MessageID, e.Message)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *AttachmentError) Unwrap() error {
	return e.Cause
}
