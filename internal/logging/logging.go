// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides structured logging for rigchat on top of
// zerolog.
//
// # Usage
//
//	log := logging.New(logging.Config{Level: "debug", Pretty: true})
//	log.Component("chat").Info().Int64("chat_id", id).Msg("stream_started")
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // human-readable console output
	Output     io.Writer
	WithCaller bool
}

// Logger wraps zerolog with rigchat-specific helpers.
type Logger struct {
	zl zerolog.Logger
}

// New creates a structured logger.
func New(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "rigchat").
		Logger()

	if cfg.WithCaller {
		zl = zl.With().Caller().Logger()
	}
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// IsTerminal reports whether f is attached to a terminal, used to default
// Pretty output for interactive runs.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Zerolog returns the underlying zerolog logger.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

// SetGlobal makes l the zerolog global logger.
func (l *Logger) SetGlobal() {
	zlog.Logger = l.zl
}

// Component returns a logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// With returns a logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Debug starts a debug event.
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }

// Info starts an info event.
func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

// Warn starts a warning event.
func (l *Logger) Warn() *zerolog.Event { return l.zl.Warn() }

// Error starts an error event.
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// LogRequest logs one HTTP request.
func (l *Logger) LogRequest(method, path, clientIP string, status int, duration time.Duration) {
	event := l.zl.Info()
	if status >= 500 {
		event = l.zl.Error()
	} else if status >= 400 {
		event = l.zl.Warn()
	}
	event.
		Str("method", method).
		Str("path", path).
		Str("client_ip", clientIP).
		Int("status", status).
		Dur("duration_ms", duration).
		Msg("http_request")
}

// LogServerStart logs server startup.
func (l *Logger) LogServerStart(addr, dbPath string) {
	l.zl.Info().
		Str("event", "server_start").
		Str("addr", addr).
		Str("database", dbPath).
		Msg("rigchat server starting")
}

// LogServerShutdown logs server shutdown.
func (l *Logger) LogServerShutdown() {
	l.zl.Info().Str("event", "server_shutdown").Msg("rigchat server shutting down")
}
