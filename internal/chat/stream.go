// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/notify"
	"github.com/jeranaias/rigchat/internal/producer"
)

// StreamRequest is one user prompt for a text chat. Either ChatID names an
// existing chat, or UserID is set and a new chat is created with
// ModelName (the default text model when empty).
type StreamRequest struct {
	Prompt    string         `json:"prompt"`
	ChatID    int64          `json:"chat_id,omitempty"`
	UserID    int64          `json:"user_id,omitempty"`
	Modality  model.Modality `json:"modality"`
	ModelName string         `json:"model,omitempty"`
}

// StreamOrchestrator answers text prompts with a streamed completion.
// It holds no per-request state and is safe for concurrent use.
type StreamOrchestrator struct {
	store    Store
	producer producer.TextProducer
	notifier notify.Notifier
	opts     options
}

// NewStreamOrchestrator creates a text orchestrator.
func NewStreamOrchestrator(store Store, p producer.TextProducer, n notify.Notifier, opts ...Option) *StreamOrchestrator {
	return &StreamOrchestrator{
		store:    store,
		producer: p,
		notifier: n,
		opts:     buildOptions("chat.stream", opts),
	}
}

// Run processes one prompt. It never panics and never returns an error
// directly; failures are reported in the Result.
func (o *StreamOrchestrator) Run(ctx context.Context, req StreamRequest) (res Result) {
	r := newRun(ctx, "text", o.notifier, o.opts)
	defer r.recoverInto(&res)

	if errs := o.validate(r, req); len(errs) > 0 {
		return r.fail(errs...)
	}

	r.enter(StateResolving)
	history, err := o.store.ContextMessages(ctx, r.chat.ID)
	if err != nil {
		return r.fail(persistenceError("load conversation", err))
	}
	turns := model.ContextWindow(history, req.Prompt)

	r.enter(StateSpinning)
	r.showSpinner()

	r.enter(StateStreaming)
	pacing := o.opts.pacing.Load()
	stream, err := o.producer.Stream(ctx, r.chat.ModelName, turns)
	if err != nil {
		return r.failErr(err)
	}
	defer stream.Close()

	acc := NewAccumulator(pacing.FlushThreshold)
	for {
		// Cancellation is checked between fragments
		if err := ctx.Err(); err != nil {
			return r.failErr(err)
		}

		frag, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			if u, ok := stream.(producer.UsageReporter); ok {
				usage := u.Usage()
				r.usage = &usage
			}
			break
		}
		if err != nil {
			return r.failErr(err)
		}

		if r.msg == nil {
			r.removeSpinner()
			msg, err := o.store.AppendMessage(ctx, r.chat.ID, req.Prompt)
			if err != nil {
				return r.fail(persistenceError("create message", err))
			}
			r.msg = msg
			r.log.Debug().Int64("message_id", msg.ID).Msg("message_created")
			r.messageCreated()
		}

		acc.Push(frag.Text)
		r.fragments = acc.Len()
		o.opts.metrics.AddFragment()
		r.notify(notify.MessageChannel(r.msg.ID), notify.KindChunkAppended,
			notify.ChunkPayload{MessageID: r.msg.ID, Text: frag.Text})
		if err := pause(ctx, pacing.FragmentDelay); err != nil {
			return r.failErr(err)
		}

		if acc.ShouldFlush() {
			r.enter(StateFlushing)
			if err := o.flush(r, acc.Snapshot()); err != nil {
				return r.fail(err)
			}
			acc.ResetFlushCounter()
			if err := pause(ctx, pacing.FlushDelay); err != nil {
				return r.failErr(err)
			}
			r.enter(StateStreaming)
		}
	}

	if r.msg == nil {
		// Nothing was generated: no message and nothing to finalize
		r.removeSpinner()
		r.log.Info().Int64("chat_id", r.chat.ID).Msg("empty_answer")
		return r.done()
	}

	r.enter(StateFinalizing)
	if err := o.flush(r, acc.Snapshot()); err != nil {
		return r.fail(err)
	}
	return r.done()
}

// validate resolves the target chat and checks the request. All problems
// are reported together. A new chat is only created once the rest of the
// request is valid.
func (o *StreamOrchestrator) validate(r *run, req StreamRequest) []*Error {
	ctx := r.ctx
	var errs []*Error

	switch {
	case req.ChatID == 0 && req.UserID == 0:
		errs = append(errs, validationError("chat", "chat or user required"))
	case req.ChatID != 0:
		c, err := o.store.FindChat(ctx, req.ChatID)
		if err != nil {
			errs = append(errs, lookupError(err))
			break
		}
		r.chat = c
		if c.Modality != model.ModalityText {
			errs = append(errs, validationError("chat", "chat is not a text chat"))
		}
	case req.Modality != model.ModalityText:
		errs = append(errs, validationError("modality", "modality must be text"))
	}

	if strings.TrimSpace(req.Prompt) == "" {
		errs = append(errs, validationError("prompt", "prompt is required"))
	}
	if len(errs) > 0 || r.chat != nil {
		return errs
	}

	modelName := req.ModelName
	if modelName == "" {
		modelName = o.opts.textModel
	}
	c, err := o.store.CreateChat(ctx, req.UserID, req.Prompt, model.ModalityText, modelName)
	if err != nil {
		return []*Error{classify(err)}
	}
	r.chat = c
	r.log.Info().Int64("chat_id", c.ID).Str("model", c.ModelName).Msg("chat_created")
	return nil
}

// flush saves the accumulated answer and announces the full message.
func (o *StreamOrchestrator) flush(r *run, answer string) *Error {
	if err := o.store.UpdateAnswer(r.ctx, r.msg.ID, answer); err != nil {
		return persistenceError("save answer", err)
	}
	r.msg.Answer = answer
	o.opts.metrics.AddFlush()
	r.messageReplaced()
	return nil
}
