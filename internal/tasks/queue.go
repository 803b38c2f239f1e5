// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/telemetry"
)

// ErrQueueFull is returned by Add when the backlog limit is reached.
var ErrQueueFull = errors.New("task queue is full")

// =============================================================================
// TASK QUEUE
// =============================================================================

// Queue manages background tasks with thread-safe operations.
type Queue struct {
	// tasks is the list of all tasks (both queued and finished)
	tasks []*Task

	// byID indexes tasks for lookup
	byID map[string]*Task

	// running tracks currently running tasks by ID
	running map[string]*Task

	// maxHistory is the maximum number of finished tasks to keep
	maxHistory int

	// maxQueueSize is the maximum number of queued tasks allowed (0 = unlimited)
	maxQueueSize int

	// wake signals the runner that work arrived
	wake chan struct{}

	log     *logging.Logger
	metrics *telemetry.Metrics

	// mu protects concurrent access to the queue
	mu sync.RWMutex
}

// TaskNotification describes a task reaching a terminal status.
type TaskNotification struct {
	TaskID   string
	Kind     string
	ChatID   int64
	Status   TaskStatus
	Error    string
	Duration time.Duration
}

// =============================================================================
// QUEUE CREATION
// =============================================================================

// NewQueue creates a new task queue.
// maxHistory sets the maximum number of finished tasks to keep (0 = unlimited).
func NewQueue(maxHistory int) *Queue {
	return NewQueueWithOptions(maxHistory, 0)
}

// NewQueueWithOptions creates a new task queue with custom settings.
// maxHistory: maximum number of finished tasks to keep (0 = unlimited)
// maxQueueSize: maximum number of queued tasks allowed (0 = unlimited)
func NewQueueWithOptions(maxHistory, maxQueueSize int) *Queue {
	return &Queue{
		tasks:        make([]*Task, 0),
		byID:         make(map[string]*Task),
		running:      make(map[string]*Task),
		maxHistory:   maxHistory,
		maxQueueSize: maxQueueSize,
		wake:         make(chan struct{}, 1),
		log:          logging.Nop(),
	}
}

// SetLogger sets the queue logger.
func (q *Queue) SetLogger(log *logging.Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if log != nil {
		q.log = log.Component("tasks")
	}
}

// SetMetrics enables queue metrics.
func (q *Queue) SetMetrics(m *telemetry.Metrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
}

// =============================================================================
// TASK MANAGEMENT
// =============================================================================

// Add adds a new task to the queue.
// Returns ErrQueueFull if the queue has reached its maximum size.
func (q *Queue) Add(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued := q.queuedCountLocked()
	if q.maxQueueSize > 0 && queued >= q.maxQueueSize {
		return fmt.Errorf("%w: %d queued tasks (max: %d)", ErrQueueFull, queued, q.maxQueueSize)
	}

	q.tasks = append(q.tasks, task)
	q.byID[task.ID] = task
	q.metrics.SetQueued(queued + 1)
	q.log.Debug().Str("task_id", task.ID).Str("kind", task.Kind).Int64("chat_id", task.ChatID).Msg("task_queued")

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Get retrieves a task by ID.
// Returns nil if the task is not found.
func (q *Queue) Get(id string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.byID[id]
}

// Cancel cancels a queued or running task by ID.
// Returns true if the task was successfully canceled.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.byID[id]
	if !ok || !task.Cancel() {
		return false
	}
	delete(q.running, id)
	q.finishedLocked(task)
	return true
}

// claim takes the oldest queued task and marks it running, or returns nil
// when nothing is queued.
func (q *Queue) claim() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, task := range q.tasks {
		if task.GetStatus() != TaskStatusQueued {
			continue
		}
		if err := task.SetStatus(TaskStatusRunning); err != nil {
			continue
		}
		q.running[task.ID] = task
		q.metrics.SetQueued(q.queuedCountLocked())
		return task
	}
	return nil
}

// complete stores the job outcome and removes the task from running.
func (q *Queue) complete(task *Task, result any, status TaskStatus, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.running, task.ID)
	if task.finish(result, status, err) {
		q.finishedLocked(task)
	}
}

// finishedLocked logs and counts a terminal task, then trims history.
// Must be called with lock held.
func (q *Queue) finishedLocked(task *Task) {
	n := q.notification(task)
	ev := q.log.Info()
	if n.Status == TaskStatusFailed {
		ev = q.log.Warn().Str("error", n.Error)
	}
	ev.Str("task_id", n.TaskID).
		Str("kind", n.Kind).
		Int64("chat_id", n.ChatID).
		Str("status", n.Status.String()).
		Dur("duration", n.Duration).
		Msg("task_finished")

	q.metrics.TaskFinished(n.Status.String())
	q.metrics.SetQueued(q.queuedCountLocked())
	q.cleanupLocked()
}

func (q *Queue) notification(task *Task) TaskNotification {
	return TaskNotification{
		TaskID:   task.ID,
		Kind:     task.Kind,
		ChatID:   task.ChatID,
		Status:   task.GetStatus(),
		Error:    task.GetError(),
		Duration: task.Duration(),
	}
}

// =============================================================================
// QUEUE QUERIES
// =============================================================================

// All returns snapshots of all tasks in submission order.
func (q *Queue) All() []View {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]View, len(q.tasks))
	for i, task := range q.tasks {
		result[i] = task.View()
	}
	return result
}

// Count returns the total number of tasks.
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

// RunningCount returns the number of running tasks.
func (q *Queue) RunningCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.running)
}

// QueuedCount returns the number of tasks waiting for a worker.
func (q *Queue) QueuedCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.queuedCountLocked()
}

func (q *Queue) queuedCountLocked() int {
	n := 0
	for _, t := range q.tasks {
		if t.GetStatus() == TaskStatusQueued {
			n++
		}
	}
	return n
}

// =============================================================================
// CLEANUP
// =============================================================================

// cleanupLocked removes the oldest finished tasks beyond maxHistory.
// Must be called with lock held.
func (q *Queue) cleanupLocked() {
	if q.maxHistory <= 0 {
		return
	}

	finished := 0
	for _, task := range q.tasks {
		if task.IsComplete() {
			finished++
		}
	}
	if finished <= q.maxHistory {
		return
	}

	toRemove := finished - q.maxHistory
	kept := make([]*Task, 0, len(q.tasks)-toRemove)
	for _, task := range q.tasks {
		if task.IsComplete() && toRemove > 0 {
			toRemove--
			delete(q.byID, task.ID)
			continue
		}
		kept = append(kept, task)
	}
	q.tasks = kept
}

// =============================================================================
// FORMATTING
// =============================================================================

// Summary returns a formatted summary of the queue.
func (q *Queue) Summary() string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queued, completed, failed := 0, 0, 0
	for _, task := range q.tasks {
		switch task.GetStatus() {
		case TaskStatusQueued:
			queued++
		case TaskStatusComplete:
			completed++
		case TaskStatusFailed:
			failed++
		}
	}

	return fmt.Sprintf("Running: %d | Queued: %d | Completed: %d | Failed: %d",
		len(q.running), queued, completed, failed)
}
