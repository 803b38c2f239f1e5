// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// TASK RUNNER
// =============================================================================

// Runner executes background tasks from a queue.
type Runner struct {
	queue         *Queue
	wg            sync.WaitGroup
	stop          chan struct{}
	stopped       atomic.Bool // Flag to prevent new tasks after Stop() is called
	stopOnce      sync.Once
	maxConcurrent int           // Maximum number of concurrent tasks
	semaphore     chan struct{} // Semaphore to limit concurrency
	taskTimeout   time.Duration // Timeout for each task (0 = no timeout)

	// baseCtx is the parent of every task context; canceled by Stop
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewRunner creates a new task runner for the given queue.
// Uses default concurrency limit of 4 and default timeout of 10 minutes.
func NewRunner(queue *Queue) *Runner {
	return NewRunnerWithOptions(queue, 4, 10*time.Minute)
}

// NewRunnerWithOptions creates a new task runner with custom settings.
// maxConcurrent: maximum number of tasks to run concurrently (default: 4)
// taskTimeout: timeout for each task (0 = no timeout)
func NewRunnerWithOptions(queue *Queue, maxConcurrent int, taskTimeout time.Duration) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		queue:         queue,
		stop:          make(chan struct{}),
		maxConcurrent: maxConcurrent,
		semaphore:     make(chan struct{}, maxConcurrent),
		taskTimeout:   taskTimeout,
		baseCtx:       ctx,
		baseCancel:    cancel,
	}
}

// =============================================================================
// RUNNER LIFECYCLE
// =============================================================================

// Start begins processing tasks from the queue.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.processLoop()
}

// Stop stops taking new tasks and waits for running ones to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stop)
	})
	r.wg.Wait()
}

// Shutdown stops the runner, canceling running tasks if they have not
// finished when ctx is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		r.Stop()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		r.baseCancel()
		<-finished
		return ctx.Err()
	}
}

// =============================================================================
// TASK PROCESSING
// =============================================================================

// processLoop waits for work and dispatches queued tasks to workers.
func (r *Runner) processLoop() {
	defer r.wg.Done()

	// The ticker catches tasks whose wake signal was coalesced
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-r.queue.wake:
		case <-ticker.C:
		}

		for {
			if r.stopped.Load() {
				return
			}

			// Acquire semaphore (blocks if at max concurrency)
			select {
			case r.semaphore <- struct{}{}:
			case <-r.stop:
				return
			}

			task := r.queue.claim()
			if task == nil {
				<-r.semaphore
				break
			}
			r.wg.Add(1)
			go r.executeTask(task)
		}
	}
}

// executeTask executes a single task.
func (r *Runner) executeTask(task *Task) {
	defer r.wg.Done()
	defer func() { <-r.semaphore }() // Release semaphore when done

	var ctx context.Context
	var cancel context.CancelFunc
	if r.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.baseCtx, r.taskTimeout)
	} else {
		ctx, cancel = context.WithCancel(r.baseCtx)
	}
	task.setCancelFunc(cancel)
	defer cancel()

	result, err := runJob(ctx, task.job)

	switch {
	case err == nil:
		r.queue.complete(task, result, TaskStatusComplete, nil)
	case errors.Is(ctx.Err(), context.Canceled):
		r.queue.complete(task, result, TaskStatusCanceled, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.queue.complete(task, result, TaskStatusFailed, fmt.Errorf("task timeout after %v: %w", r.taskTimeout, err))
	default:
		r.queue.complete(task, result, TaskStatusFailed, err)
	}
}

// runJob calls job, turning a panic into an error.
func runJob(ctx context.Context, job Job) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	if job == nil {
		return nil, errors.New("task has no job")
	}
	return job(ctx)
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// Execute runs a task immediately on the calling goroutine without
// queuing. Useful for one-off submissions such as the CLI.
func Execute(ctx context.Context, task *Task) error {
	if err := task.SetStatus(TaskStatusRunning); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	task.setCancelFunc(cancel)
	defer cancel()

	result, err := runJob(ctx, task.job)
	switch {
	case err == nil:
		task.finish(result, TaskStatusComplete, nil)
	case errors.Is(ctx.Err(), context.Canceled):
		task.finish(result, TaskStatusCanceled, err)
	default:
		task.finish(result, TaskStatusFailed, err)
	}
	return err
}
