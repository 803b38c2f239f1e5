// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func okJob(result any) Job {
	return func(ctx context.Context) (any, error) { return result, nil }
}

func waitFor(t *testing.T, task *Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("task %s did not finish: %v", task.ID, err)
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask(KindText, "answer prompt", 42, okJob(nil))

	if task.ID == "" {
		t.Error("Task ID should not be empty")
	}
	if task.Kind != KindText {
		t.Errorf("Expected kind 'text', got '%s'", task.Kind)
	}
	if task.ChatID != 42 {
		t.Errorf("Expected chat 42, got %d", task.ChatID)
	}
	if task.GetStatus() != TaskStatusQueued {
		t.Errorf("Expected status Queued, got %s", task.GetStatus())
	}
	if task.Duration() != 0 {
		t.Error("Queued task should have zero duration")
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		valid    bool
	}{
		{TaskStatusQueued, TaskStatusRunning, true},
		{TaskStatusQueued, TaskStatusCanceled, true},
		{TaskStatusQueued, TaskStatusComplete, false},
		{TaskStatusRunning, TaskStatusComplete, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusQueued, false},
		{TaskStatusComplete, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusCanceled, false},
	}

	for _, tt := range tests {
		if got := isValidTransition(tt.from, tt.to); got != tt.valid {
			t.Errorf("isValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	task := NewTask(KindImage, "draw", 1, okJob(nil))

	if err := task.SetStatus(TaskStatusRunning); err != nil {
		t.Fatalf("SetStatus(Running) failed: %v", err)
	}
	if task.View().StartedAt == nil {
		t.Error("Running task should have a start time")
	}

	if !task.finish("ok", TaskStatusComplete, nil) {
		t.Fatal("finish should change the status")
	}
	if task.GetStatus() != TaskStatusComplete {
		t.Errorf("Expected Complete, got %s", task.GetStatus())
	}
	if task.GetResult() != "ok" {
		t.Errorf("Expected result 'ok', got %v", task.GetResult())
	}
	select {
	case <-task.Done():
	default:
		t.Error("Done channel should be closed")
	}

	if task.finish("again", TaskStatusFailed, errors.New("late")) {
		t.Error("finish on a terminal task should be ignored")
	}
	if task.GetError() != "" {
		t.Errorf("Error should stay empty, got %q", task.GetError())
	}
	if err := task.SetStatus(TaskStatusRunning); err == nil {
		t.Error("Expected error moving a complete task back to Running")
	}
}

func TestTaskCancel(t *testing.T) {
	task := NewTask(KindText, "x", 1, okJob(nil))

	var canceled atomic.Bool
	task.setCancelFunc(func() { canceled.Store(true) })

	if !task.Cancel() {
		t.Fatal("Cancel should succeed on a queued task")
	}
	if !canceled.Load() {
		t.Error("Cancel should call the context cancel function")
	}
	if task.Cancel() {
		t.Error("Cancel should fail on a canceled task")
	}
}

func TestTaskView(t *testing.T) {
	task := NewTask(KindText, "answer", 9, okJob(nil))
	task.SetStatus(TaskStatusRunning)
	task.finish(nil, TaskStatusFailed, errors.New("producer down"))

	v := task.View()
	if v.Status != TaskStatusFailed {
		t.Errorf("Expected Failed, got %s", v.Status)
	}
	if v.Error != "producer down" {
		t.Errorf("Expected error text, got %q", v.Error)
	}
	if v.StartedAt == nil || v.EndedAt == nil {
		t.Error("Finished task should carry start and end times")
	}
	if v.ChatID != 9 {
		t.Errorf("Expected chat 9, got %d", v.ChatID)
	}
}

func TestTaskSummary(t *testing.T) {
	task := NewTask(KindText, "answer prompt", 1, okJob(nil))
	summary := task.Summary()
	if !strings.Contains(summary, "answer prompt") || !strings.Contains(summary, "Queued") {
		t.Errorf("Unexpected summary %q", summary)
	}
}

// =============================================================================
// QUEUE TESTS
// =============================================================================

func TestQueue(t *testing.T) {
	q := NewQueue(10)

	task1 := NewTask(KindText, "one", 1, okJob(nil))
	task2 := NewTask(KindImage, "two", 2, okJob(nil))
	q.Add(task1)
	q.Add(task2)

	if q.Count() != 2 {
		t.Errorf("Expected 2 tasks, got %d", q.Count())
	}
	if q.QueuedCount() != 2 {
		t.Errorf("Expected 2 queued tasks, got %d", q.QueuedCount())
	}
	if q.Get(task1.ID) != task1 {
		t.Error("Get should return the added task")
	}
	if q.Get("missing") != nil {
		t.Error("Get should return nil for unknown IDs")
	}

	all := q.All()
	if len(all) != 2 || all[0].ID != task1.ID || all[1].ID != task2.ID {
		t.Error("All should list tasks in submission order")
	}
}

func TestQueueClaim(t *testing.T) {
	q := NewQueue(10)
	task1 := NewTask(KindText, "one", 1, okJob(nil))
	task2 := NewTask(KindText, "two", 1, okJob(nil))
	q.Add(task1)
	q.Add(task2)

	if got := q.claim(); got != task1 {
		t.Fatal("claim should return the oldest queued task")
	}
	if task1.GetStatus() != TaskStatusRunning {
		t.Error("Claimed task should be running")
	}
	if got := q.claim(); got != task2 {
		t.Fatal("claim should skip running tasks")
	}
	if q.claim() != nil {
		t.Error("claim should return nil when nothing is queued")
	}
	if q.RunningCount() != 2 {
		t.Errorf("Expected 2 running tasks, got %d", q.RunningCount())
	}

	q.complete(task1, nil, TaskStatusComplete, nil)
	if q.RunningCount() != 1 {
		t.Errorf("Expected 1 running task, got %d", q.RunningCount())
	}
}

func TestQueueCancel(t *testing.T) {
	q := NewQueue(10)
	task := NewTask(KindText, "x", 1, okJob(nil))
	q.Add(task)

	if !q.Cancel(task.ID) {
		t.Fatal("Cancel should succeed")
	}
	if task.GetStatus() != TaskStatusCanceled {
		t.Errorf("Expected Canceled, got %s", task.GetStatus())
	}
	if q.Cancel(task.ID) {
		t.Error("Second cancel should fail")
	}
	if q.Cancel("missing") {
		t.Error("Cancel of unknown task should fail")
	}
	if q.claim() != nil {
		t.Error("Canceled task should not be claimed")
	}
}

func TestQueueFull(t *testing.T) {
	q := NewQueueWithOptions(10, 2)
	for i := 0; i < 2; i++ {
		if err := q.Add(NewTask(KindText, "x", 1, okJob(nil))); err != nil {
			t.Fatalf("Add %d failed: %v", i, err)
		}
	}

	err := q.Add(NewTask(KindText, "x", 1, okJob(nil)))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	// Running tasks do not count against the backlog
	q.claim()
	if err := q.Add(NewTask(KindText, "x", 1, okJob(nil))); err != nil {
		t.Errorf("Add after claim failed: %v", err)
	}
}

func TestQueueCleanup(t *testing.T) {
	q := NewQueue(2)

	var tasks []*Task
	for i := 0; i < 4; i++ {
		task := NewTask(KindText, "x", 1, okJob(nil))
		q.Add(task)
		tasks = append(tasks, task)
	}
	for range tasks {
		task := q.claim()
		q.complete(task, nil, TaskStatusComplete, nil)
	}

	if q.Count() != 2 {
		t.Errorf("Expected 2 tasks after cleanup, got %d", q.Count())
	}
	if q.Get(tasks[0].ID) != nil {
		t.Error("Oldest finished task should be removed")
	}
	if q.Get(tasks[3].ID) == nil {
		t.Error("Newest finished task should be kept")
	}
}

func TestQueueSummary(t *testing.T) {
	q := NewQueue(10)
	q.Add(NewTask(KindText, "x", 1, okJob(nil)))
	want := "Running: 0 | Queued: 1 | Completed: 0 | Failed: 0"
	if got := q.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

// =============================================================================
// RUNNER TESTS
// =============================================================================

func TestRunnerExecutesTasks(t *testing.T) {
	q := NewQueue(10)
	r := NewRunnerWithOptions(q, 2, time.Minute)
	r.Start()
	defer r.Stop()

	ok := NewTask(KindText, "ok", 1, okJob(42))
	failing := NewTask(KindText, "fail", 1, func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	panicking := NewTask(KindImage, "panic", 1, func(ctx context.Context) (any, error) {
		panic("bad state")
	})
	for _, task := range []*Task{ok, failing, panicking} {
		if err := q.Add(task); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, ok)
	waitFor(t, failing)
	waitFor(t, panicking)

	if ok.GetStatus() != TaskStatusComplete || ok.GetResult() != 42 {
		t.Errorf("ok task: status %s result %v", ok.GetStatus(), ok.GetResult())
	}
	if failing.GetStatus() != TaskStatusFailed || failing.GetError() != "boom" {
		t.Errorf("failing task: status %s error %q", failing.GetStatus(), failing.GetError())
	}
	if panicking.GetStatus() != TaskStatusFailed || !strings.Contains(panicking.GetError(), "bad state") {
		t.Errorf("panicking task: status %s error %q", panicking.GetStatus(), panicking.GetError())
	}
}

func TestRunnerRunsEachTaskOnce(t *testing.T) {
	q := NewQueue(0)
	r := NewRunnerWithOptions(q, 4, time.Minute)
	r.Start()
	defer r.Stop()

	var calls atomic.Int32
	var tasks []*Task
	for i := 0; i < 20; i++ {
		task := NewTask(KindText, "count", 1, func(ctx context.Context) (any, error) {
			calls.Add(1)
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		})
		q.Add(task)
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		waitFor(t, task)
	}

	if got := calls.Load(); got != 20 {
		t.Errorf("Expected 20 job calls, got %d", got)
	}
}

func TestRunnerTimeout(t *testing.T) {
	q := NewQueue(10)
	r := NewRunnerWithOptions(q, 1, 50*time.Millisecond)
	r.Start()
	defer r.Stop()

	task := NewTask(KindText, "slow", 1, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q.Add(task)
	waitFor(t, task)

	if task.GetStatus() != TaskStatusFailed {
		t.Errorf("Expected Failed, got %s", task.GetStatus())
	}
	if !strings.Contains(task.GetError(), "timeout") {
		t.Errorf("Expected timeout error, got %q", task.GetError())
	}
}

func TestRunnerCancelRunningTask(t *testing.T) {
	q := NewQueue(10)
	r := NewRunnerWithOptions(q, 1, time.Minute)
	r.Start()
	defer r.Stop()

	started := make(chan struct{})
	task := NewTask(KindText, "long", 1, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q.Add(task)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	if !q.Cancel(task.ID) {
		t.Fatal("Cancel should succeed on a running task")
	}
	waitFor(t, task)
	if task.GetStatus() != TaskStatusCanceled {
		t.Errorf("Expected Canceled, got %s", task.GetStatus())
	}
}

func TestRunnerShutdownCancelsTasks(t *testing.T) {
	q := NewQueue(10)
	r := NewRunnerWithOptions(q, 1, 0)
	r.Start()

	started := make(chan struct{})
	task := NewTask(KindText, "stuck", 1, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q.Add(task)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if task.GetStatus() != TaskStatusCanceled {
		t.Errorf("Expected Canceled, got %s", task.GetStatus())
	}
}

func TestExecute(t *testing.T) {
	task := NewTask(KindText, "inline", 1, okJob("done"))
	if err := Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if task.GetStatus() != TaskStatusComplete || task.GetResult() != "done" {
		t.Errorf("status %s result %v", task.GetStatus(), task.GetResult())
	}
}
