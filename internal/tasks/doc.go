// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks runs chat submissions in the background.
//
// Every user submission becomes one Task. A Runner executes queued tasks
// on a bounded number of workers, each with its own timeout, so chats are
// processed concurrently while the HTTP request that submitted them
// returns immediately.
//
// # Key Types
//
//   - Task: one submission with status, timing and result
//   - Queue: task registry with bounded backlog and history
//   - Runner: executes tasks with concurrency limit, timeout and cancellation
//   - TaskStatus: Queued, Running, Complete, Failed, Canceled
//
// # Usage
//
// Queue a task:
//
//	queue := tasks.NewQueueWithOptions(200, 100)
//	runner := tasks.NewRunnerWithOptions(queue, 4, 10*time.Minute)
//	runner.Start()
//	defer runner.Stop()
//
//	task := tasks.NewTask(tasks.KindText, "answer prompt", chatID,
//	    func(ctx context.Context) (any, error) {
//	        res := orch.Run(ctx, req)
//	        return res, res.Err()
//	    })
//	queue.Add(task)
//
// Wait for completion:
//
//	if err := task.Wait(ctx); err != nil {
//	    return err
//	}
//	fmt.Println(task.View().Status)
package tasks
