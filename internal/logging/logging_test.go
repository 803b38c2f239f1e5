// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestComponentFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	log.Component("chat").Info().Int64("chat_id", 4).Msg("stream_started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rigchat", entry["service"])
	assert.Equal(t, "chat", entry["component"])
	assert.Equal(t, "stream_started", entry["message"])
	assert.EqualValues(t, 4, entry["chat_id"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogRequest_StatusLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})

	log.LogRequest("POST", "/chats", "127.0.0.1", 503, 12*time.Millisecond)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.EqualValues(t, 503, entry["status"])
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Component("x").Error().Msg("discarded")
	})
}
