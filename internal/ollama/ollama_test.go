// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/producer"
)

// ndjsonServer answers /api/chat with the given lines and records the
// decoded request.
func ndjsonServer(t *testing.T, lines []string, got *ChatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func contentLine(text string) string {
	b, _ := json.Marshal(ChatResponse{Model: "llama3.1", Message: Message{Role: "assistant", Content: text}})
	return string(b)
}

const doneLine = `{"model":"llama3.1","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":3,"eval_duration":1500000000}`

func drain(t *testing.T, s *StreamReader) ([]string, error) {
	t.Helper()
	var out []string
	for {
		frag, err := s.Next(context.Background())
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, frag.Text)
	}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStream_Fragments(t *testing.T) {
	var req ChatRequest
	srv := ndjsonServer(t, []string{contentLine("Hel"), "", contentLine("lo"), contentLine("!"), doneLine}, &req)
	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})

	turns := model.ContextWindow(nil, "Say hello")
	stream, err := client.Stream(context.Background(), "llama3.1", turns)
	require.NoError(t, err)
	defer stream.Close()

	reader := stream.(*StreamReader)
	got, err := drain(t, reader)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", "!"}, got)

	assert.True(t, req.Stream)
	assert.Equal(t, "llama3.1", req.Model)
	assert.Equal(t, []Message{{Role: "user", Content: "Say hello"}}, req.Messages)

	stats := reader.Stats()
	assert.Equal(t, 3, stats.Fragments)
	assert.Equal(t, "stop", stats.DoneReason)
	assert.Equal(t, 12, stats.PromptTokens)
	assert.InDelta(t, 2.0, stats.TokensPerSecond(), 0.001)

	var usage producer.UsageReporter = reader
	assert.Equal(t, 12, usage.Usage().PromptTokens)
	assert.Equal(t, stats.CompletionTokens, usage.Usage().CompletionTokens)

	// Further calls keep returning EOF
	_, err = reader.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestStream_EmptyAnswer(t *testing.T) {
	srv := ndjsonServer(t, []string{doneLine}, nil)
	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})

	stream, err := client.ChatStream(context.Background(), "", nil)
	require.NoError(t, err)
	defer stream.Close()

	got, err := drain(t, stream)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStream_SkipsMalformedLines(t *testing.T) {
	srv := ndjsonServer(t, []string{"not json", contentLine("ok"), doneLine}, nil)
	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})

	stream, err := client.ChatStream(context.Background(), "llama3", nil)
	require.NoError(t, err)
	defer stream.Close()

	got, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, got)
}

func TestStream_MidStreamError(t *testing.T) {
	srv := ndjsonServer(t, []string{contentLine("par"), `{"error":"model runner crashed"}`}, nil)
	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})

	stream, err := client.ChatStream(context.Background(), "llama3", nil)
	require.NoError(t, err)
	defer stream.Close()

	got, err := drain(t, stream)
	assert.Equal(t, []string{"par"}, got)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrTypeStream, clientErr.Type)
	assert.Contains(t, err.Error(), "model runner crashed")
}

func TestStream_TruncatedResponse(t *testing.T) {
	srv := ndjsonServer(t, []string{contentLine("cut")}, nil)
	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})

	stream, err := client.ChatStream(context.Background(), "llama3", nil)
	require.NoError(t, err)
	defer stream.Close()

	got, err := drain(t, stream)
	assert.Equal(t, []string{"cut"}, got)
	assert.Error(t, err)
}

func TestStream_StatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		message string
	}{
		{"model missing", http.StatusNotFound, `{"error":"model 'x' not found"}`, func(err error) bool {
			return errors.Is(err, &ClientError{Type: ErrTypeModelNotFound})
		}, "model not found"},
		{"server error body", http.StatusInternalServerError, `{"error":"out of memory"}`, func(err error) bool {
			var ce *ClientError
			return errors.As(err, &ce) && ce.Type == ErrTypeInvalidResponse
		}, "out of memory"},
		{"server error plain", http.StatusBadGateway, "upstream", func(err error) bool { return err != nil }, "502"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
			_, err := client.ChatStream(context.Background(), "llama3", nil)
			require.Error(t, err)
			assert.True(t, tc.check(err), "unexpected error %v", err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestStream_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: url, ConnectTimeout: time.Second})
	_, err := client.ChatStream(context.Background(), "llama3", nil)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStream_ContextCanceledBetweenFragments(t *testing.T) {
	srv := ndjsonServer(t, []string{contentLine("a"), contentLine("b"), doneLine}, nil)
	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.ChatStream(ctx, "llama3", nil)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next(ctx)
	require.NoError(t, err)

	cancel()
	_, err = stream.Next(ctx)
	assert.Error(t, err)
}

func TestStream_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, contentLine("slow"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, StreamTimeout: 100 * time.Millisecond})
	stream, err := client.ChatStream(context.Background(), "llama3", nil)
	require.NoError(t, err)
	defer stream.Close()

	_, err = drain(t, stream)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, producer.ErrTimeout)
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	client := NewClientWithConfig(&ClientConfig{})
	cfg := client.GetConfig()

	assert.Equal(t, "http://127.0.0.1:11434", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "llama3.1", cfg.DefaultModel)
	assert.Zero(t, cfg.StreamTimeout)
}

func TestCheckModelAndListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			io.WriteString(w, `{"models":[{"name":"llama3.1:latest","size":4661224676},{"name":"mistral"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	ctx := context.Background()

	models, err := client.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.True(t, strings.HasPrefix(models[0].Name, "llama3.1"))

	assert.NoError(t, client.CheckModel(ctx, "llama3.1"))
	assert.NoError(t, client.CheckModel(ctx, "mistral"))
	assert.NoError(t, client.CheckModel(ctx, ""), "empty id checks the default model")

	err = client.CheckModel(ctx, "llama3")
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Contains(t, err.Error(), "llama3 is not pulled")
}

func TestCheckModel_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: url, ConnectTimeout: time.Second})
	assert.ErrorIs(t, client.CheckModel(context.Background(), "llama3.1"), ErrNotRunning)
}

func TestClientError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ClientError{Type: ErrTypeTimeout, Message: "slow"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, producer.ErrTimeout)
	assert.NotErrorIs(t, err, ErrNotRunning)
}

func TestFromTurns(t *testing.T) {
	turns := []model.Turn{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	}
	assert.Equal(t, []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}, FromTurns(turns))
}

func TestClientError_MatchesProducerTimeout(t *testing.T) {
	err := fmt.Errorf("stream: %w", &ClientError{Type: ErrTypeTimeout, Message: "slow"})
	assert.ErrorIs(t, err, producer.ErrTimeout)
	assert.NotErrorIs(t, ErrNotRunning, producer.ErrTimeout)
}
