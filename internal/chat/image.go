// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"net/http"
	"strings"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/notify"
	"github.com/jeranaias/rigchat/internal/producer"
	"github.com/jeranaias/rigchat/internal/storage"
)

// ImageRequest is one prompt for an existing image chat. Image runs never
// create chats.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	ChatID int64  `json:"chat_id"`
}

// ImageOrchestrator answers prompts in image chats with one generated
// image. It is safe for concurrent use.
type ImageOrchestrator struct {
	store    Store
	producer producer.ImageProducer
	notifier notify.Notifier
	opts     options
}

// NewImageOrchestrator creates an image orchestrator.
func NewImageOrchestrator(store Store, p producer.ImageProducer, n notify.Notifier, opts ...Option) *ImageOrchestrator {
	return &ImageOrchestrator{
		store:    store,
		producer: p,
		notifier: n,
		opts:     buildOptions("chat.image", opts),
	}
}

// Run generates and stores one image. Failures are reported in the
// Result.
func (o *ImageOrchestrator) Run(ctx context.Context, req ImageRequest) (res Result) {
	r := newRun(ctx, "image", o.notifier, o.opts)
	defer r.recoverInto(&res)

	if errs := o.validate(r, req); len(errs) > 0 {
		return r.fail(errs...)
	}

	r.enter(StateSpinning)
	r.showSpinner()

	r.enter(StateRequesting)
	img, err := o.producer.Generate(ctx, producer.ImageRequest{
		Prompt: req.Prompt,
		Model:  r.chat.ModelName,
		Width:  o.opts.width,
		Height: o.opts.height,
	})
	if err != nil {
		return r.failErr(err)
	}

	r.enter(StateDecoding)
	contentType, derr := checkImage(img)
	if derr != nil {
		return r.fail(derr)
	}

	r.enter(StatePersisting)
	err = o.store.WithTx(ctx, func(tx *storage.Tx) error {
		msg, err := tx.AppendMessage(ctx, r.chat.ID, req.Prompt)
		if err != nil {
			return err
		}
		r.msg = msg
		r.messageCreated()

		if err := tx.AttachGeneratedImage(ctx, msg.ID, img.Data, contentType); err != nil {
			return err
		}
		full, err := tx.GetMessage(ctx, msg.ID)
		if err != nil {
			return err
		}
		r.msg = full
		return nil
	})
	if err != nil {
		// The transaction rolled back, so the announced message is gone
		msgID := int64(0)
		if r.msg != nil {
			msgID = r.msg.ID
		}
		r.msg = nil
		r.log.Error().Err(err).
			Int64("chat_id", r.chat.ID).
			Int64("message_id", msgID).
			Msg("image_persist_failed")
		return r.fail(persistenceError("save image message", err))
	}
	o.opts.metrics.ObserveImage(len(img.Data))

	r.enter(StateFinalizing)
	r.removeSpinner()
	r.messageReplaced()
	return r.done()
}

func (o *ImageOrchestrator) validate(r *run, req ImageRequest) []*Error {
	var errs []*Error

	if strings.TrimSpace(req.Prompt) == "" {
		errs = append(errs, validationError("prompt", "prompt is required"))
	}
	if req.ChatID == 0 {
		errs = append(errs, validationError("chat", "chat is required"))
		return errs
	}

	c, err := o.store.FindChat(r.ctx, req.ChatID)
	if err != nil {
		return append(errs, lookupError(err))
	}
	r.chat = c
	if c.Modality != model.ModalityImage {
		errs = append(errs, validationError("chat", "chat is not an image chat"))
	}
	return errs
}

// checkImage rejects producer output without image data and settles the
// stored content type.
func checkImage(img *producer.Image) (string, *Error) {
	if img == nil || len(img.Data) == 0 {
		return "", &Error{Kind: KindDecoding, Field: "image", Message: "could not retrieve or process image data"}
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", &Error{
			Kind:    KindDecoding,
			Field:   "image",
			Message: "image data has unexpected content type " + contentType,
		}
	}
	return contentType, nil
}
