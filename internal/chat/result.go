// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/producer"
)

// State is a step of an orchestrator run.
type State string

const (
	StateValidating State = "validating"
	StateResolving  State = "resolving"
	StateSpinning   State = "spinning"
	StateStreaming  State = "streaming"
	StateFlushing   State = "flushing"
	StateRequesting State = "requesting"
	StateDecoding   State = "decoding"
	StatePersisting State = "persisting"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateErrored    State = "errored"
)

// Result is the outcome of one orchestrator run. Message is nil when no
// message was created (validation failure, producer failure before the
// first fragment, or an empty answer).
type Result struct {
	Success   bool           `json:"success"`
	State     State          `json:"state"`
	Chat      *model.Chat    `json:"chat,omitempty"`
	Message   *model.Message `json:"message,omitempty"`
	Fragments int            `json:"fragments,omitempty"`
	Errors    []*Error       `json:"errors,omitempty"`

	// Usage is set when the text producer reported token counts
	Usage *producer.Usage `json:"usage,omitempty"`
}

// Err joins the result errors, or returns nil for a successful run.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// HasKind reports whether any error is of kind k.
func (r Result) HasKind(k Kind) bool {
	for _, e := range r.Errors {
		if e.Kind == k {
			return true
		}
	}
	return false
}
