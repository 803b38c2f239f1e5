// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/notify"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/tasks"
)

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// CreateChatRequest is the body of POST /chats.
type CreateChatRequest struct {
	UserID   int64  `json:"user_id"`
	Prompt   string `json:"prompt"`
	Modality string `json:"modality"`
	Model    string `json:"model"`
}

// CreateChatResponse is returned by POST /chats.
type CreateChatResponse struct {
	Chat   *model.Chat `json:"chat"`
	TaskID string      `json:"task_id"`
}

// PromptRequest is the body of POST /chats/{id}/messages and
// POST /chats/{id}/images.
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// TaskResponse is returned when a prompt is queued.
type TaskResponse struct {
	TaskID string `json:"task_id"`
	ChatID int64  `json:"chat_id"`
}

// ChatResponse is returned by GET /chats/{id}.
type ChatResponse struct {
	Chat     *model.Chat             `json:"chat"`
	Messages []notify.MessagePayload `json:"messages"`
}

// PatchMessageRequest is the body of PATCH /messages/{id}.
type PatchMessageRequest struct {
	Excluded *bool `json:"excluded"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Tasks         string            `json:"tasks"`
	Subscribers   notify.HubStats   `json:"events"`
}

// ============================================================================
// CHAT HANDLERS
// ============================================================================

// handleCreateChat creates the chat up front so the client can subscribe
// to its channel before the first answer streams, then queues the prompt.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	modality, err := model.ParseModality(req.Modality)
	if err != nil {
		writeFieldError(w, http.StatusUnprocessableEntity, "modality", err.Error())
		return
	}
	if msg := s.unavailable(modality); msg != "" {
		writeError(w, http.StatusServiceUnavailable, msg)
		return
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = s.defaultModel(modality)
	}

	created, err := s.deps.Store.CreateChat(r.Context(), req.UserID, req.Prompt, modality, modelID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	task, status, msg := s.submit(created, req.Prompt)
	if task == nil {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, CreateChatResponse{Chat: created, TaskID: task.ID})
}

// defaultModel is the model for a new chat that names none.
func (s *Server) defaultModel(m model.Modality) string {
	if m == model.ModalityText && s.deps.DefaultTextModel != "" {
		return s.deps.DefaultTextModel
	}
	return model.DefaultModel(m)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeFieldError(w, http.StatusBadRequest, "user_id", "user_id query parameter is required")
		return
	}

	chats, err := s.deps.Store.ListChats(r.Context(), userID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadChat(w, r)
	if !ok {
		return
	}
	messages, err := s.deps.Store.ListMessages(r.Context(), c.ID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Chat: c, Messages: payloads(messages)})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteChat(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	s.log.Info().Int64("chat_id", id).Msg("chat_deleted")
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// MESSAGE HANDLERS
// ============================================================================

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadChat(w, r)
	if !ok {
		return
	}
	messages, err := s.deps.Store.ListMessages(r.Context(), c.ID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payloads(messages))
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	s.handlePrompt(w, r, model.ModalityText)
}

func (s *Server) handlePostImage(w http.ResponseWriter, r *http.Request) {
	s.handlePrompt(w, r, model.ModalityImage)
}

// handlePrompt queues a prompt for an existing chat of the given modality.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request, want model.Modality) {
	c, ok := s.loadChat(w, r)
	if !ok {
		return
	}
	var req PromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeFieldError(w, http.StatusUnprocessableEntity, "prompt", "prompt is required")
		return
	}
	if c.Modality != want {
		writeFieldError(w, http.StatusUnprocessableEntity, "chat", "chat is not a "+want.String()+" chat")
		return
	}

	task, status, msg := s.submit(c, req.Prompt)
	if task == nil {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: task.ID, ChatID: c.ID})
}

func (s *Server) handlePatchMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PatchMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Excluded == nil {
		writeFieldError(w, http.StatusUnprocessableEntity, "excluded", "excluded is required")
		return
	}

	if err := s.deps.Store.SetExcluded(r.Context(), id, *req.Excluded); err != nil {
		s.storeError(w, err)
		return
	}
	msg, err := s.deps.Store.GetMessage(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notify.NewMessagePayload(msg))
}

func (s *Server) handleMessageImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	data, att, err := s.deps.Store.ReadImage(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `inline; filename="`+att.Filename+`"`)
	w.Write(data)
}

// ============================================================================
// TASK HANDLERS
// ============================================================================

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task := s.deps.Queue.Get(r.PathValue("id"))
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task.View())
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task := s.deps.Queue.Get(id)
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if !s.deps.Queue.Cancel(id) {
		writeError(w, http.StatusConflict, "task already finished")
		return
	}
	writeJSON(w, http.StatusOK, task.View())
}

// submit queues the prompt on the orchestrator matching the chat. On
// failure it returns a nil task with the status and message to report.
// unavailable names the missing producer for modality m, or returns "".
func (s *Server) unavailable(m model.Modality) string {
	if m == model.ModalityImage && s.deps.Image == nil {
		return "image generation is not configured"
	}
	if m != model.ModalityImage && s.deps.Text == nil {
		return "text generation is not configured"
	}
	return ""
}

func (s *Server) submit(c *model.Chat, prompt string) (*tasks.Task, int, string) {
	var task *tasks.Task
	if msg := s.unavailable(c.Modality); msg != "" {
		return nil, http.StatusServiceUnavailable, msg
	}
	switch c.Modality {
	case model.ModalityImage:
		req := chat.ImageRequest{Prompt: prompt, ChatID: c.ID}
		task = tasks.NewTask(tasks.KindImage, "generate image", c.ID, func(ctx context.Context) (any, error) {
			res := s.deps.Image.Run(ctx, req)
			return res, res.Err()
		})
	default:
		req := chat.StreamRequest{Prompt: prompt, ChatID: c.ID}
		task = tasks.NewTask(tasks.KindText, "answer prompt", c.ID, func(ctx context.Context) (any, error) {
			res := s.deps.Text.Run(ctx, req)
			return res, res.Err()
		})
	}

	if err := s.deps.Queue.Add(task); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", c.ID).Msg("task_rejected")
		return nil, http.StatusServiceUnavailable, "too many pending requests, retry later"
	}
	s.log.Debug().Str("task_id", task.ID).Int64("chat_id", c.ID).Str("kind", task.Kind).Msg("prompt_queued")
	return task, http.StatusAccepted, ""
}

// ============================================================================
// CATALOG AND HEALTH
// ============================================================================

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("modality")
	if raw == "" {
		infos := append(model.InfosFor(model.ModalityText), model.InfosFor(model.ModalityImage)...)
		writeJSON(w, http.StatusOK, infos)
		return
	}

	modality, err := model.ParseModality(raw)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "modality", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.InfosFor(modality))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Checks:        map[string]string{},
		Tasks:         s.deps.Queue.Summary(),
		Subscribers:   s.deps.Hub.Stats(),
	}

	if err := s.deps.Store.Ping(ctx); err != nil {
		health.Checks["store"] = "unavailable"
		health.Status = "degraded"
	} else {
		health.Checks["store"] = "ok"
	}
	for _, c := range s.deps.Checks {
		if err := c.Check(ctx); err != nil {
			health.Checks[c.Name] = "unavailable"
			health.Status = "degraded"
		} else {
			health.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// HELPERS
// ============================================================================

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) loadChat(w http.ResponseWriter, r *http.Request) (*model.Chat, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	c, err := s.deps.Store.FindChat(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return nil, false
	}
	return c, true
}

// storeError maps storage errors to HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	var verr *storage.ValidationError
	switch {
	case errors.As(err, &verr):
		writeFieldError(w, http.StatusUnprocessableEntity, verr.Field, verr.Error())
	case errors.Is(err, storage.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, storage.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	default:
		s.log.Error().Err(err).Msg("store_error")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func payloads(messages []model.Message) []notify.MessagePayload {
	out := make([]notify.MessagePayload, len(messages))
	for i := range messages {
		out[i] = notify.NewMessagePayload(&messages[i])
	}
	return out
}
