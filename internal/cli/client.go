// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// client.go - HTTP client for the rigchat API used by the chat and models
// commands.

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/notify"
	"github.com/jeranaias/rigchat/internal/tasks"
)

// DefaultServerURL is where the CLI looks for the API by default.
const DefaultServerURL = "http://127.0.0.1:8787"

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to a rigchat server.
type Client struct {
	baseURL string
	token   string

	// api is used for request/response calls; events has no timeout
	api    *http.Client
	events *http.Client
}

// NewClient creates a client for baseURL. A non-empty token is sent as a
// bearer token.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		api:     &http.Client{Timeout: 30 * time.Second},
		events:  &http.Client{},
	}
}

// ChatCreated is the response to CreateChat.
type ChatCreated struct {
	Chat   *model.Chat `json:"chat"`
	TaskID string      `json:"task_id"`
}

// PromptQueued is the response to SendPrompt.
type PromptQueued struct {
	TaskID string `json:"task_id"`
	ChatID int64  `json:"chat_id"`
}

// ChatDetail is a chat with its messages.
type ChatDetail struct {
	Chat     *model.Chat             `json:"chat"`
	Messages []notify.MessagePayload `json:"messages"`
}

// CreateChat creates a chat and queues its first prompt.
func (c *Client) CreateChat(ctx context.Context, userID int64, prompt string, modality model.Modality, modelID string) (*ChatCreated, error) {
	body := map[string]any{
		"user_id":  userID,
		"prompt":   prompt,
		"modality": modality.String(),
		"model":    modelID,
	}
	var out ChatCreated
	if err := c.do(ctx, http.MethodPost, "/chats", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendPrompt queues a prompt on an existing chat.
func (c *Client) SendPrompt(ctx context.Context, chat *model.Chat, prompt string) (*PromptQueued, error) {
	path := fmt.Sprintf("/chats/%d/messages", chat.ID)
	if chat.Modality == model.ModalityImage {
		path = fmt.Sprintf("/chats/%d/images", chat.ID)
	}
	var out PromptQueued
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"prompt": prompt}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetChat returns a chat with its messages.
func (c *Client) GetChat(ctx context.Context, id int64) (*ChatDetail, error) {
	var out ChatDetail
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chats/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChats returns a user's chats, newest first.
func (c *Client) ListChats(ctx context.Context, userID int64) ([]model.Chat, error) {
	var out []model.Chat
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chats?user_id=%d", userID), nil, &out)
	return out, err
}

// SetExcluded toggles whether a message is part of future context.
func (c *Client) SetExcluded(ctx context.Context, messageID int64, excluded bool) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/messages/%d", messageID), map[string]bool{"excluded": excluded}, nil)
}

// Task returns the status of a queued prompt.
func (c *Client) Task(ctx context.Context, id string) (*tasks.View, error) {
	var out tasks.View
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTask cancels a queued or running prompt.
func (c *Client) CancelTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

// Models lists the supported models, all modalities when modality is "".
func (c *Client) Models(ctx context.Context, modality string) ([]model.ModelInfo, error) {
	path := "/models"
	if modality != "" {
		path += "?modality=" + url.QueryEscape(modality)
	}
	var out []model.ModelInfo
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// WaitTask polls a task until it reaches a terminal status.
func (c *Client) WaitTask(ctx context.Context, id string, every time.Duration) (*tasks.View, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		view, err := c.Task(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.Status.Terminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return &NetworkError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// =============================================================================
// EVENT STREAM
// =============================================================================

// StreamEvent is one event read from /events. Payload is left raw so the
// caller can decode it by Kind.
type StreamEvent struct {
	Key     notify.ChannelKey `json:"key"`
	Kind    notify.EventKind  `json:"kind"`
	Payload json.RawMessage   `json:"payload"`
	At      time.Time         `json:"at"`
}

// Subscribe opens an event stream for keys. The returned channel is closed
// when ctx is done or the stream ends. The call returns once the server
// has confirmed the subscription.
func (c *Client) Subscribe(ctx context.Context, keys ...notify.ChannelKey) (<-chan StreamEvent, error) {
	q := url.Values{}
	for _, k := range keys {
		q.Add("key", string(k))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/events?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.events.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: c.baseURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	reader := bufio.NewReader(resp.Body)
	// The server confirms with a comment frame before any event
	if _, err := readFrame(reader); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("read subscription: %w", err)
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		for {
			frame, err := readFrame(reader)
			if err != nil {
				return
			}
			if frame.data == "" {
				continue
			}
			var ev StreamEvent
			if err := json.Unmarshal([]byte(frame.data), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	id    string
	event string
	data  string
}

// readFrame reads up to the blank line ending a frame. Comment lines are
// skipped; multiple data lines are joined with newlines.
func readFrame(r *bufio.Reader) (sseFrame, error) {
	var f sseFrame
	var data []string
	seen := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return f, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if seen {
				f.data = strings.Join(data, "\n")
				return f, nil
			}
			continue
		}
		seen = true
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			f.id = value
		case "event":
			f.event = value
		case "data":
			data = append(data, value)
		}
	}
}
