// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/notify"
	"github.com/jeranaias/rigchat/internal/tasks"
	"github.com/jeranaias/rigchat/internal/telemetry"
)

// Version is reported by /health and the CLI. Overridden at build time.
var Version = "0.1.0"

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = "127.0.0.1:8787"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ============================================================================
// DEPENDENCIES
// ============================================================================

// Store is the part of the conversation store the API reads and edits
// directly. Answers are written by the orchestrators, never here.
type Store interface {
	Ping(ctx context.Context) error
	CreateChat(ctx context.Context, userID int64, prompt string, modality model.Modality, modelID string) (*model.Chat, error)
	FindChat(ctx context.Context, id int64) (*model.Chat, error)
	ListChats(ctx context.Context, userID int64) ([]model.Chat, error)
	DeleteChat(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, chatID int64) ([]model.Message, error)
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	SetExcluded(ctx context.Context, messageID int64, excluded bool) error
	ReadImage(ctx context.Context, messageID int64) ([]byte, *model.Attachment, error)
}

// TextRunner answers a text prompt.
type TextRunner interface {
	Run(ctx context.Context, req chat.StreamRequest) chat.Result
}

// ImageRunner answers an image prompt.
type ImageRunner interface {
	Run(ctx context.Context, req chat.ImageRequest) chat.Result
}

// HealthCheck checks one dependency for /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds server settings.
type Config struct {
	Addr      string
	APIToken  string
	RateLimit float64
	RateBurst int

	// Heartbeat is the interval of keep-alive comments on event streams
	Heartbeat time.Duration
}

// Deps are the collaborators the server dispatches to.
type Deps struct {
	Store    Store
	Text     TextRunner
	Image    ImageRunner
	Queue    *tasks.Queue
	Hub      *notify.Hub
	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
	Log      *logging.Logger
	Checks   []HealthCheck

	// DefaultTextModel overrides the registry default for new text chats
	DefaultTextModel string
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API: chat and message resources, task status, model
// listing, health, metrics and the event stream.
type Server struct {
	cfg     Config
	deps    Deps
	log     *logging.Logger
	router  *http.ServeMux
	limiter *RateLimiter
	server  *http.Server
	started time.Time

	// streams is canceled when shutdown starts so event streams end
	streams     context.Context
	stopStreams context.CancelFunc
}

// NewServer creates a server. Deps.Store, Deps.Queue and Deps.Hub are
// required.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.Component("server"),
		router:  http.NewServeMux(),
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		started: time.Now(),
	}
	s.streams, s.stopStreams = context.WithCancel(context.Background())
	s.setupRoutes()

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Event streams clear their own write deadline
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.server.RegisterOnShutdown(s.stopStreams)
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	// Chats
	s.router.HandleFunc("POST /chats", s.handleCreateChat)
	s.router.HandleFunc("GET /chats", s.handleListChats)
	s.router.HandleFunc("GET /chats/{id}", s.handleGetChat)
	s.router.HandleFunc("DELETE /chats/{id}", s.handleDeleteChat)

	// Messages
	s.router.HandleFunc("GET /chats/{id}/messages", s.handleListMessages)
	s.router.HandleFunc("POST /chats/{id}/messages", s.handlePostMessage)
	s.router.HandleFunc("POST /chats/{id}/images", s.handlePostImage)
	s.router.HandleFunc("PATCH /messages/{id}", s.handlePatchMessage)
	s.router.HandleFunc("GET /messages/{id}/image", s.handleMessageImage)

	// Tasks
	s.router.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	s.router.HandleFunc("DELETE /tasks/{id}", s.handleCancelTask)

	// Catalog, health, metrics
	s.router.HandleFunc("GET /models", s.handleModels)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.Handle("GET /metrics", telemetry.Handler(s.deps.Gatherer))

	// Notifications
	s.router.HandleFunc("GET /events", s.handleEvents)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.log),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.log, s.deps.Metrics),
		RateLimitMiddleware(s.limiter, s.log),
		AuthMiddleware(s.cfg.APIToken, s.log, "/health"),
	)(s.router)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("server_listening")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.LogServerShutdown()
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// apiError is the JSON error body.
type apiError struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Error: errorBody{Message: message, Code: status}})
}

func writeFieldError(w http.ResponseWriter, status int, field, message string) {
	writeJSON(w, status, apiError{Error: errorBody{Message: message, Field: field, Kind: string(chat.KindValidation), Code: status}})
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
