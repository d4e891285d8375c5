// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Task is one asynchronous unit of pipeline work.
type Task func(ctx context.Context) error

// TaskQueue accepts tasks for asynchronous execution.
type TaskQueue interface {
	// Dispatch enqueues a task. Returns an error if the queue is
	// closed or full; the task is then never run.
	Dispatch(name string, task Task) error
}

// ErrQueueFull is returned by Dispatch when the task buffer is at
// capacity.
var ErrQueueFull = errors.New("task queue is full")

// ErrQueueClosed is returned by Dispatch after Close.
var ErrQueueClosed = errors.New("task queue is closed")

// Dispatcher is a bounded in-process worker pool.
//
// # Description
//
// Models the task-queue boundary: one task per inbound trigger, a fixed
// number of workers draining a buffered channel. A panicking task is
// recovered and logged; a failing task is logged with no user-visible
// completion. Neither takes down a worker.
//
// # Thread Safety
//
// Safe for concurrent use.
type Dispatcher struct {
	tasks  chan namedTask
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type namedTask struct {
	name string
	run  Task
}

var _ TaskQueue = (*Dispatcher)(nil)

// NewDispatcher starts a pool of workers draining a buffer of up to
// queueSize pending tasks. ctx is the base context for every task; its
// cancellation stops in-flight work.
func NewDispatcher(ctx context.Context, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	d := &Dispatcher{tasks: make(chan namedTask, queueSize)}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	return d
}

// Dispatch enqueues a task without blocking.
func (d *Dispatcher) Dispatch(name string, task Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatch %s: %w", name, ErrQueueClosed)
	}

	select {
	case d.tasks <- namedTask{name: name, run: task}:
		slog.Debug("Task dispatched", "task", name)
		return nil
	default:
		return fmt.Errorf("dispatch %s: %w", name, ErrQueueFull)
	}
}

// Close stops accepting tasks and waits for in-flight and queued work
// to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for task := range d.tasks {
		if ctx.Err() != nil {
			slog.Warn("Dropping task, dispatcher context canceled",
				"task", task.name, "worker", id)
			continue
		}
		d.runOne(ctx, id, task)
	}
}

// runOne executes a single task, containing panics and logging failures.
func (d *Dispatcher) runOne(ctx context.Context, workerID int, task namedTask) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task panicked",
				"task", task.name,
				"worker", workerID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := task.run(ctx); err != nil {
		slog.Error("Task failed", "task", task.name, "worker", workerID, "error", err)
	}
}
