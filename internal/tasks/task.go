// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus represents the current state of a background task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting for a worker
	TaskStatusQueued TaskStatus = "Queued"

	// TaskStatusRunning indicates the task is currently executing
	TaskStatusRunning TaskStatus = "Running"

	// TaskStatusComplete indicates the task finished successfully
	TaskStatusComplete TaskStatus = "Complete"

	// TaskStatusFailed indicates the task reported an error
	TaskStatusFailed TaskStatus = "Failed"

	// TaskStatusCanceled indicates the task was canceled
	TaskStatusCanceled TaskStatus = "Canceled"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed || s == TaskStatusCanceled
}

// Task kinds.
const (
	KindText  = "text"
	KindImage = "image"
)

// Job is the work a task performs. The returned value is kept as the task
// result even when err is non-nil.
type Job func(ctx context.Context) (any, error)

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Task is one background submission.
type Task struct {
	// ID is a unique identifier for this task
	ID string

	// Kind is the flow the task runs (text or image)
	Kind string

	// Description is a human-readable description of the work
	Description string

	// ChatID is the chat the submission belongs to
	ChatID int64

	// Status is the current state of the task
	Status TaskStatus

	// CreatedAt is when the task was created
	CreatedAt time.Time

	// StartTime is when the task started running
	StartTime time.Time

	// EndTime is when the task reached a terminal status
	EndTime time.Time

	// Result is the value returned by the job
	Result any

	// Error is the error message if the task failed
	Error string

	job    Job
	cancel context.CancelFunc
	done   chan struct{}

	// mu protects concurrent access to the task
	mu sync.RWMutex
}

// =============================================================================
// TASK CREATION
// =============================================================================

// NewTask creates a queued task running job.
func NewTask(kind, description string, chatID int64, job Job) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Kind:        kind,
		Description: description,
		ChatID:      chatID,
		Status:      TaskStatusQueued,
		CreatedAt:   time.Now(),
		job:         job,
		done:        make(chan struct{}),
	}
}

// =============================================================================
// TASK METHODS
// =============================================================================

// SetStatus updates the task status (thread-safe).
// Valid transitions: Queued -> Running -> Complete/Failed/Canceled, and
// Queued -> Canceled.
func (t *Task) SetStatus(status TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !isValidTransition(t.Status, status) {
		return fmt.Errorf("invalid status transition from %s to %s", t.Status, status)
	}
	t.setStatusLocked(status)
	return nil
}

func isValidTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case TaskStatusQueued:
		return to == TaskStatusRunning || to == TaskStatusCanceled
	case TaskStatusRunning:
		return to == TaskStatusComplete || to == TaskStatusFailed || to == TaskStatusCanceled
	default:
		return false
	}
}

// setStatusLocked applies a validated status; must be called with lock held.
func (t *Task) setStatusLocked(status TaskStatus) {
	if t.Status == status {
		return
	}
	t.Status = status
	now := time.Now()
	switch {
	case status == TaskStatusRunning:
		t.StartTime = now
	case status.Terminal():
		t.EndTime = now
		close(t.done)
	}
}

// GetStatus returns the current task status (thread-safe).
func (t *Task) GetStatus() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// GetError returns the error message (thread-safe).
func (t *Task) GetError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Error
}

// GetResult returns the job result (thread-safe).
func (t *Task) GetResult() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Result
}

// finish records the job outcome and moves the task to a terminal status.
// A task canceled while running stays canceled. It reports whether the
// status changed.
func (t *Task) finish(result any, status TaskStatus, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.Terminal() {
		return false
	}
	t.Result = result
	if err != nil {
		t.Error = err.Error()
	}
	if !isValidTransition(t.Status, status) {
		return false
	}
	t.setStatusLocked(status)
	return true
}

// setCancelFunc stores the context cancel function for the running job.
func (t *Task) setCancelFunc(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
}

// Cancel cancels a queued or running task.
// Returns true if the task was canceled, false if it already finished.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.Terminal() {
		return false
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.setStatusLocked(TaskStatusCanceled)
	return true
}

// Done is closed once the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Duration returns how long the task has been running or took to complete.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.durationLocked()
}

func (t *Task) durationLocked() time.Duration {
	if t.StartTime.IsZero() {
		return 0
	}
	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// IsComplete returns true if the task has finished (success, failure, or canceled).
func (t *Task) IsComplete() bool {
	return t.GetStatus().Terminal()
}

// Summary returns a one-line summary of the task.
func (t *Task) Summary() string {
	status := t.GetStatus()
	duration := t.Duration()

	summary := fmt.Sprintf("[%s] %s - %s", t.ID[:8], t.Description, status)
	if duration > 0 {
		summary += fmt.Sprintf(" (%.1fs)", duration.Seconds())
	}
	return summary
}

// =============================================================================
// VIEW
// =============================================================================

// View is a read-only snapshot of a task, safe to encode as JSON.
type View struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	ChatID      int64      `json:"chat_id"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
}

// View returns a snapshot of the task.
func (t *Task) View() View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v := View{
		ID:          t.ID,
		Kind:        t.Kind,
		Description: t.Description,
		ChatID:      t.ChatID,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		DurationMS:  t.durationLocked().Milliseconds(),
		Error:       t.Error,
		Result:      t.Result,
	}
	if !t.StartTime.IsZero() {
		start := t.StartTime
		v.StartedAt = &start
	}
	if !t.EndTime.IsZero() {
		end := t.EndTime
		v.EndedAt = &end
	}
	return v
}
