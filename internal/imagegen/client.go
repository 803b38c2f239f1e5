// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jeranaias/rigchat/internal/producer"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	DefaultWidth       = 512
	DefaultHeight      = 512
	DefaultTimeout     = 120 * time.Second
	DefaultReadTimeout = 120 * time.Second

	// MaxBodyBytes caps the response size read from the service.
	MaxBodyBytes = 32 << 20

	// errorBodyRunes is how much of a failed response body is reported.
	errorBodyRunes = 150
)

// Config holds image service settings.
type Config struct {
	// URL is the generation endpoint
	URL string

	// AuthToken is sent verbatim in the Authorization header
	AuthToken string

	// Width and Height are used when a request leaves them zero
	Width  int
	Height int

	// Timeout bounds the whole request (default: 120s)
	Timeout time.Duration

	// ReadTimeout bounds the wait for response headers (default: 120s)
	ReadTimeout time.Duration
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrTimeout is wrapped by errors for requests that ran out of time. It
// matches producer.ErrTimeout.
var ErrTimeout = fmt.Errorf("image generation timed out: %w", producer.ErrTimeout)

// ErrNotConfigured is returned when no endpoint URL is set.
var ErrNotConfigured = errors.New("image generation URL is not configured")

// StatusError is a non-2xx response from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	detail := e.Body
	if detail == "" {
		detail = "No details provided."
	}
	return fmt.Sprintf("image generation failed: status %d. Details: %s", e.StatusCode, detail)
}

// DecodeError reports a response that did not contain image data.
type DecodeError struct {
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return "decode image response: " + e.Reason + ": " + e.Cause.Error()
	}
	return "decode image response: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Is reports DecodeError as producer.ErrMalformed.
func (e *DecodeError) Is(target error) bool {
	return target == producer.ErrMalformed
}

// =============================================================================
// CLIENT
// =============================================================================

// request is the JSON body sent to the service.
type request struct {
	Prompt    string `json:"prompt"`
	ModelType string `json:"model_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Client calls the image generation service. It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a client, filling zero config values with defaults.
func NewClient(cfg Config) *Client {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.Timeout}).DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Generate sends one generation request and decodes the returned image.
func (c *Client) Generate(ctx context.Context, req producer.ImageRequest) (*producer.Image, error) {
	if c.config.URL == "" {
		return nil, ErrNotConfigured
	}
	if req.Width <= 0 {
		req.Width = c.config.Width
	}
	if req.Height <= 0 {
		req.Height = c.config.Height
	}

	body, err := json.Marshal(request{
		Prompt:    req.Prompt,
		ModelType: req.Model,
		Width:     req.Width,
		Height:    req.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", c.config.AuthToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       util.TruncateRunes(string(bytes.TrimSpace(payload)), errorBodyRunes),
		}
	}
	if len(payload) > MaxBodyBytes {
		return nil, &DecodeError{Reason: "response exceeds size limit"}
	}

	return Decode(resp.Header.Get("Content-Type"), payload)
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("image generation request: %w", err)
}
