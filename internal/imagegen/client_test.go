// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/producer"
)

// pngBytes is a PNG signature followed by an IHDR chunk header, enough
// for content sniffing.
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestGenerate_RawBinary(t *testing.T) {
	var got request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL, AuthToken: "Bearer secret"})
	img, err := client.Generate(context.Background(), producer.ImageRequest{
		Prompt: "A serene mountain landscape at sunset",
		Model:  "sdxl-turbo",
	})
	require.NoError(t, err)

	assert.Equal(t, pngBytes, img.Data)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, request{
		Prompt:    "A serene mountain landscape at sunset",
		ModelType: "sdxl-turbo",
		Width:     512,
		Height:    512,
	}, got)
}

func TestGenerate_RawBinaryOctetStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	img, err := NewClient(Config{URL: srv.URL}).Generate(context.Background(), producer.ImageRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
}

func TestGenerate_JSONBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string][]string{
			"images": {base64.StdEncoding.EncodeToString(pngBytes)},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL, Width: 768, Height: 640})
	img, err := client.Generate(context.Background(), producer.ImageRequest{Prompt: "cat", Model: "sdxl-anime"})
	require.NoError(t, err)
	assert.Equal(t, pngBytes, img.Data)
	assert.Equal(t, "image/png", img.ContentType)
}

func TestGenerate_ExplicitSize(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write(pngBytes)
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}).Generate(context.Background(),
		producer.ImageRequest{Prompt: "x", Width: 1024, Height: 256})
	require.NoError(t, err)
	assert.Equal(t, 1024, got.Width)
	assert.Equal(t, 256, got.Height)
}

func TestGenerate_StatusError(t *testing.T) {
	longBody := strings.Repeat("e", 400)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(longBody))
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}).Generate(context.Background(), producer.ImageRequest{Prompt: "x"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Len(t, []rune(statusErr.Body), 150)
	assert.Contains(t, err.Error(), "status 400")
}

func TestGenerate_StatusErrorEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}).Generate(context.Background(), producer.ImageRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No details provided.")
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL, Timeout: 100 * time.Millisecond})
	_, err := client.Generate(context.Background(), producer.ImageRequest{Prompt: "x"})
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
}

func TestGenerate_NotConfigured(t *testing.T) {
	_, err := NewClient(Config{}).Generate(context.Background(), producer.ImageRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewClient_Defaults(t *testing.T) {
	cfg := NewClient(Config{URL: "http://images"}).Config()
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
	assert.Equal(t, 120*time.Second, cfg.Timeout)
	assert.Equal(t, 120*time.Second, cfg.ReadTimeout)
}

// =============================================================================
// DECODE TESTS
// =============================================================================

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"empty body", "image/png", ""},
		{"invalid json", "application/json", "{not json"},
		{"missing images key", "application/json", `{"status":"ok"}`},
		{"empty images list", "application/json", `{"images":[]}`},
		{"blank image", "application/json", `{"images":["  "]}`},
		{"bad base64", "application/json", `{"images":["!!!"]}`},
		{"html body", "text/html", "<html>oops</html>"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.contentType, []byte(tc.body))
			var decodeErr *DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestDecode_JSONWithoutContentType(t *testing.T) {
	body := `{"images":["` + base64.StdEncoding.EncodeToString(pngBytes) + `"]}`
	img, err := Decode("", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, img.Data)
}

func TestDecode_DataURI(t *testing.T) {
	body := `{"images":["data:image/png;base64,` + base64.StdEncoding.EncodeToString(pngBytes) + `"]}`
	img, err := Decode("application/json; charset=utf-8", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, img.Data)
}

func TestDecode_UnpaddedBase64(t *testing.T) {
	encoded := base64.RawStdEncoding.EncodeToString(pngBytes)
	require.NotContains(t, encoded, "=")

	img, err := Decode("application/json", []byte(`{"images":["`+encoded+`"]}`))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, img.Data)
	assert.Equal(t, "image/png", img.ContentType)
}

func TestErrorsMatchProducerSentinels(t *testing.T) {
	assert.ErrorIs(t, ErrTimeout, producer.ErrTimeout)

	_, err := Decode("text/html", []byte("<html>"))
	assert.ErrorIs(t, err, producer.ErrMalformed)
}
