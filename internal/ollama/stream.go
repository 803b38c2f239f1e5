// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/producer"
)

// maxLineSize bounds one NDJSON line.
const maxLineSize = 1 << 20

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader pulls fragments from an NDJSON /api/chat response. Lines
// with empty content (the final statistics line, keep-alives) are skipped.
// Next returns io.EOF after the line marked done.
type StreamReader struct {
	body   io.ReadCloser
	reader *bufio.Reader
	ctx    context.Context // request context, set by ChatStream
	cancel context.CancelFunc

	stats     StreamStats
	done      bool
	closeOnce sync.Once
}

// NewStreamReader creates a new stream reader from a response body.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	return &StreamReader{
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Next blocks until the next non-empty fragment, the end of the stream
// (io.EOF) or an error.
func (s *StreamReader) Next(ctx context.Context) (producer.Fragment, error) {
	for {
		if s.done {
			return producer.Fragment{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return producer.Fragment{}, classifyTransportError(err)
		}

		resp, err := s.readLine()
		if err != nil {
			return producer.Fragment{}, err
		}
		if resp == nil {
			continue
		}

		if resp.Error != "" {
			s.done = true
			return producer.Fragment{}, &ClientError{Type: ErrTypeStream, Message: resp.Error}
		}
		if resp.Model != "" {
			s.stats.Model = resp.Model
		}
		if resp.Done {
			s.finish(resp)
		}
		if resp.Message.Content == "" {
			continue
		}

		s.stats.Fragments++
		return producer.Fragment{Text: resp.Message.Content}, nil
	}
}

// readLine returns the next decoded line, nil for lines to skip, or an
// error. A stream that ends without a done line is a truncated response.
func (s *StreamReader) readLine() (*ChatResponse, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil, &ClientError{Type: ErrTypeStream, Message: "stream ended before completion"}
		}
		if s.ctx != nil && s.ctx.Err() != nil {
			return nil, classifyTransportError(s.ctx.Err())
		}
		return nil, classifyTransportError(err)
	}
	if len(line) > maxLineSize {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream line too long"}
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	var resp ChatResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		// Skip malformed lines
		return nil, nil
	}
	return &resp, nil
}

func (s *StreamReader) finish(resp *ChatResponse) {
	s.done = true
	s.stats.DoneReason = resp.DoneReason
	s.stats.PromptTokens = resp.PromptEvalCount
	s.stats.CompletionTokens = resp.EvalCount
	s.stats.TotalDuration = time.Duration(resp.TotalDuration)
	s.stats.EvalDuration = time.Duration(resp.EvalDuration)
}

// Stats returns statistics collected so far; complete once Next returned
// io.EOF.
func (s *StreamReader) Stats() StreamStats {
	return s.stats
}

// Usage implements producer.UsageReporter.
func (s *StreamReader) Usage() producer.Usage {
	return producer.Usage{
		PromptTokens:     s.stats.PromptTokens,
		CompletionTokens: s.stats.CompletionTokens,
		TokensPerSecond:  s.stats.TokensPerSecond(),
	}
}

// Close releases the response body.
func (s *StreamReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	return err
}
