// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/producer"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches any ClientError of the same Type, so errors.Is(err,
// ErrTimeout) holds for every timeout regardless of message. Timeouts also
// match producer.ErrTimeout.
func (e *ClientError) Is(target error) bool {
	if target == producer.ErrTimeout {
		return e.Type == ErrTypeTimeout
	}
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeStream
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// ConnectTimeout bounds dialing the server (default: 10s)
	ConnectTimeout time.Duration

	// StreamTimeout bounds a whole stream; 0 means no limit
	StreamTimeout time.Duration

	// DefaultModel to use if none specified (default: "llama3.1")
	DefaultModel string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://127.0.0.1:11434",
		Timeout:        30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		DefaultModel:   model.DefaultModel(model.ModalityText),
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API. It implements
// producer.TextProducer.
//
// The Client is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaults.DefaultModel
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout, Transport: transport},
		// Streams are bounded by their context, not a client timeout
		streamClient: &http.Client{Transport: transport},
	}
}

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckModel verifies that Ollama is reachable and has id pulled under
// any tag. It is the text health check of the server.
func (c *Client) CheckModel(ctx context.Context, id string) error {
	if id == "" {
		id = c.config.DefaultModel
	}
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m.Name == id || strings.HasPrefix(m.Name, id+":") {
			return nil
		}
	}
	return &ClientError{Type: ErrTypeModelNotFound, Message: "model " + id + " is not pulled"}
}

// ListModels retrieves all locally pulled models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return result.Models, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream sends a streaming chat request and returns a reader over the
// response. The caller must Close the reader.
func (c *Client) ChatStream(ctx context.Context, modelID string, messages []Message) (*StreamReader, error) {
	if modelID == "" {
		modelID = c.config.DefaultModel
	}

	body, err := json.Marshal(ChatRequest{
		Model:    modelID,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	cancel := context.CancelFunc(func() {})
	if c.config.StreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.config.StreamTimeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer drainAndClose(resp.Body)
		return nil, statusError(resp)
	}

	reader := NewStreamReader(resp.Body)
	reader.ctx = ctx
	reader.cancel = cancel
	return reader, nil
}

// Stream implements producer.TextProducer.
func (c *Client) Stream(ctx context.Context, modelID string, turns []model.Turn) (producer.FragmentStream, error) {
	reader, err := c.ChatStream(ctx, modelID, FromTurns(turns))
	if err != nil {
		return nil, err
	}
	return reader, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ClientError{Type: ErrTypeConnection, Message: "request canceled", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not reachable", Cause: err}
}

func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}

	var ollamaErr OllamaError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ollamaErr); err == nil && ollamaErr.Error != "" {
		return &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "stream request failed: " + ollamaErr.Error,
		}
	}
	return &ClientError{
		Type:    ErrTypeInvalidResponse,
		Message: "stream request failed: " + resp.Status,
	}
}

// drainAndClose lets the transport reuse the connection.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}
