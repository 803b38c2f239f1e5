// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/notify"
	"github.com/jeranaias/rigchat/internal/producer"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/telemetry"
)

// Store is the persistence the orchestrators need. *storage.Store
// implements it.
type Store interface {
	FindChat(ctx context.Context, id int64) (*model.Chat, error)
	CreateChat(ctx context.Context, userID int64, prompt string, modality model.Modality, modelID string) (*model.Chat, error)
	AppendMessage(ctx context.Context, chatID int64, prompt string) (*model.Message, error)
	UpdateAnswer(ctx context.Context, messageID int64, text string) error
	ContextMessages(ctx context.Context, chatID int64) ([]model.Message, error)
	WithTx(ctx context.Context, fn func(tx *storage.Tx) error) error
}

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	log     *logging.Logger
	metrics *telemetry.Metrics
	pacing  *PacingSource
	width   int
	height  int

	// textModel is used for chats created without a model
	textModel string
}

// Option configures an orchestrator.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records run metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPacing sets the streaming cadence source.
func WithPacing(src *PacingSource) Option {
	return func(o *options) { o.pacing = src }
}

// WithImageSize sets the requested image size. Zero leaves the choice to
// the producer.
func WithImageSize(width, height int) Option {
	return func(o *options) {
		o.width = width
		o.height = height
	}
}

// WithDefaultModel sets the model of text chats created without one. An
// empty id keeps the registry default.
func WithDefaultModel(id string) Option {
	return func(o *options) { o.textModel = id }
}

func buildOptions(component string, opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Nop()
	}
	o.log = o.log.Component(component)
	if o.pacing == nil {
		o.pacing = NewPacingSource(DefaultPacing())
	}
	if o.textModel == "" {
		o.textModel = model.DefaultModel(model.ModalityText)
	}
	return o
}

// =============================================================================
// RUN STATE
// =============================================================================

// run is the state of one orchestrator invocation.
type run struct {
	ctx      context.Context
	flow     string
	notifier notify.Notifier
	log      *logging.Logger
	metrics  *telemetry.Metrics

	state     State
	chat      *model.Chat
	msg       *model.Message
	spinning  bool
	fragments int
	usage     *producer.Usage
	started   time.Time
}

func newRun(ctx context.Context, flow string, n notify.Notifier, o options) *run {
	if n == nil {
		n = notify.Discard
	}
	o.metrics.RunStarted(flow)
	return &run{
		ctx:      ctx,
		flow:     flow,
		notifier: n,
		log:      o.log.With("run_id", uuid.NewString()),
		metrics:  o.metrics,
		state:    StateValidating,
		started:  time.Now(),
	}
}

func (r *run) enter(s State) {
	r.state = s
	ev := r.log.Debug().Str("state", string(s))
	if r.chat != nil {
		ev = ev.Int64("chat_id", r.chat.ID)
	}
	ev.Msg("state_changed")
}

func (r *run) notify(key notify.ChannelKey, kind notify.EventKind, payload any) {
	r.notifier.Notify(r.ctx, key, kind, payload)
}

// snapshot copies the message so subscribers never share the run's copy.
func (r *run) snapshot() *model.Message {
	if r.msg == nil {
		return nil
	}
	m := *r.msg
	if r.msg.Image != nil {
		img := *r.msg.Image
		m.Image = &img
	}
	return &m
}

func (r *run) showSpinner() {
	r.notify(notify.ChatMessages(r.chat.ID), notify.KindSpinnerStart, notify.SpinnerPayload{ChatID: r.chat.ID})
	r.spinning = true
}

func (r *run) removeSpinner() {
	if !r.spinning {
		return
	}
	r.notify(notify.ChatMessages(r.chat.ID), notify.KindSpinnerRemove, notify.SpinnerPayload{ChatID: r.chat.ID})
	r.spinning = false
}

func (r *run) messageCreated() {
	r.notify(notify.ChatMessages(r.chat.ID), notify.KindMessageCreated, notify.NewMessagePayload(r.snapshot()))
}

func (r *run) messageReplaced() {
	r.notify(notify.ChatMessages(r.chat.ID), notify.KindMessageReplaced, notify.NewMessagePayload(r.snapshot()))
}

// fail ends the run in errored. The owner is notified once when a chat is
// known; without a chat there is nobody to address and the failure is
// only reported in the Result.
func (r *run) fail(errs ...*Error) Result {
	from := r.state
	r.removeSpinner()
	r.state = StateErrored

	summary := summarize(errs)
	if r.chat != nil {
		r.notify(notify.UserNotifications(r.chat.UserID), notify.KindError,
			notify.ErrorPayload{ChatID: r.chat.ID, Message: summary})
	}

	severe := false
	for _, e := range errs {
		severe = severe || e.Kind != KindValidation
		r.metrics.RecordError(r.flow, string(e.Kind))
	}
	ev := r.log.Warn()
	if severe {
		ev = r.log.Error()
	}
	if r.chat != nil {
		ev = ev.Int64("chat_id", r.chat.ID)
	}
	ev.Str("state", string(from)).
		Str("kind", string(errs[0].Kind)).
		Int("fragments", r.fragments).
		Str("error", summary).
		Msg("run_failed")

	r.metrics.ObserveRun(r.flow, string(StateErrored), time.Since(r.started))
	return Result{
		Success:   false,
		State:     StateErrored,
		Chat:      r.chat,
		Message:   r.snapshot(),
		Fragments: r.fragments,
		Errors:    errs,
	}
}

func (r *run) failErr(err error) Result {
	return r.fail(classify(err))
}

func (r *run) done() Result {
	r.state = StateDone
	outcome := string(StateDone)
	if r.msg == nil {
		outcome = "empty"
	}

	ev := r.log.Info().Int64("chat_id", r.chat.ID).Int("fragments", r.fragments)
	if r.msg != nil {
		ev = ev.Int64("message_id", r.msg.ID)
	}
	if r.usage != nil {
		ev = ev.Int("prompt_tokens", r.usage.PromptTokens).
			Int("completion_tokens", r.usage.CompletionTokens).
			Float64("tokens_per_second", r.usage.TokensPerSecond)
	}
	ev.Dur("elapsed", time.Since(r.started)).Msg("run_completed")

	r.metrics.ObserveRun(r.flow, outcome, time.Since(r.started))
	return Result{
		Success:   true,
		State:     StateDone,
		Chat:      r.chat,
		Message:   r.snapshot(),
		Fragments: r.fragments,
		Usage:     r.usage,
	}
}

// recoverInto converts a panic into an errored result.
func (r *run) recoverInto(res *Result) {
	if p := recover(); p != nil {
		r.log.Error().Str("panic", fmt.Sprint(p)).Msg("run_panicked")
		*res = r.fail(&Error{Kind: KindProducer, Message: fmt.Sprintf("unexpected error: %v", p)})
	}
}
