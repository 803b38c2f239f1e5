// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/notify"
	"github.com/jeranaias/rigchat/internal/producer"
	"github.com/jeranaias/rigchat/internal/storage"
)

// pngBytes is a PNG signature plus an IHDR chunk header.
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func newTestStore(t *testing.T) (*storage.Store, string) {
	t.Helper()
	dir := t.TempDir()
	blobDir := filepath.Join(dir, "blobs")
	store, err := storage.Open(storage.Config{
		Path:    filepath.Join(dir, "rigchat.db"),
		BlobDir: blobDir,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, blobDir
}

func newChat(t *testing.T, s *storage.Store, modality model.Modality) *model.Chat {
	t.Helper()
	c, err := s.CreateChat(context.Background(), 7, "first prompt", modality, model.DefaultModel(modality))
	require.NoError(t, err)
	return c
}

// noPacing flushes every threshold fragments without any delays.
func noPacing(threshold int) Option {
	return WithPacing(NewPacingSource(Pacing{FlushThreshold: threshold}))
}

func script(fragments ...string) *scriptedText {
	return &scriptedText{Script: &sliceStream{Fragments: fragments}}
}

// imageFunc adapts a function to producer.ImageProducer.
type imageFunc func(ctx context.Context, req producer.ImageRequest) (*producer.Image, error)

func (f imageFunc) Generate(ctx context.Context, req producer.ImageRequest) (*producer.Image, error) {
	return f(ctx, req)
}

// failingAnswers is a store whose answer updates always fail.
type failingAnswers struct {
	*storage.Store
	err error
}

func (f failingAnswers) UpdateAnswer(context.Context, int64, string) error {
	return f.err
}

func messagePayloads(rec *notify.Recorder, kind notify.EventKind) []*model.Message {
	var out []*model.Message
	for _, ev := range rec.Filter(kind) {
		out = append(out, ev.Payload.(notify.MessagePayload).Message)
	}
	return out
}

// sliceStream replays a fixed fragment list, then returns Err (io.EOF when
// Err is nil).
type sliceStream struct {
	Fragments []string
	Err       error

	mu     sync.Mutex
	pos    int
	closed bool
}

// Next returns the next scripted fragment.
func (s *sliceStream) Next(ctx context.Context) (producer.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return producer.Fragment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos < len(s.Fragments) {
		f := producer.Fragment{Text: s.Fragments[s.pos]}
		s.pos++
		return f, nil
	}
	if s.Err != nil {
		return producer.Fragment{}, s.Err
	}
	return producer.Fragment{}, io.EOF
}

// Close marks the stream closed.
func (s *sliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *sliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// scriptedText is a TextProducer that returns a prepared stream and
// records what it was asked for.
type scriptedText struct {
	Script   *sliceStream
	OpenErr  error
	Report   *producer.Usage
	Model    string
	Turns    []model.Turn
	Requests int
}

// Stream returns the prepared stream or OpenErr.
func (p *scriptedText) Stream(ctx context.Context, modelID string, turns []model.Turn) (producer.FragmentStream, error) {
	p.Requests++
	p.Model = modelID
	p.Turns = turns
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if p.Script == nil {
		p.Script = &sliceStream{}
	}
	if p.Report != nil {
		return usageStream{sliceStream: p.Script, usage: *p.Report}, nil
	}
	return p.Script, nil
}

// usageStream is a sliceStream that reports token usage.
type usageStream struct {
	*sliceStream
	usage producer.Usage
}

func (s usageStream) Usage() producer.Usage { return s.usage }
