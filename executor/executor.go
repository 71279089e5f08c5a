// Package executor schedules batches of independent tasks. All executors
// deliver results in completion order and preserve finished work when the
// context is cancelled: tasks that already ran keep their results, tasks that
// were never dispatched complete with the context's error.
package executor

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Task produces one result. Domain failures belong inside T; the executor
// only reports scheduling failures (cancellation, panics, lost workers).
type Task[T any] func(ctx context.Context) T

// Completed pairs a task's result with its position in the submitted batch.
type Completed[T any] struct {
	Index int
	Value T
	Err   error
}

// Executor runs a batch of tasks. The returned channel yields exactly one
// Completed per task and is closed when the batch is drained.
type Executor[T any] interface {
	Run(ctx context.Context, tasks []Task[T]) <-chan Completed[T]
}

// Sequential runs tasks one by one in submission order.
type Sequential[T any] struct{}

func (Sequential[T]) Run(ctx context.Context, tasks []Task[T]) <-chan Completed[T] {
	out := make(chan Completed[T], len(tasks))
	go func() {
		defer close(out)
		for i, task := range tasks {
			if err := ctx.Err(); err != nil {
				out <- Completed[T]{Index: i, Err: err}
				continue
			}
			out <- execute(ctx, i, task)
		}
	}()
	return out
}

// Pool runs tasks on at most Workers goroutines. Chunk caps the result
// buffer at Workers*Chunk completed tasks, so memory stays bounded on large
// batches when the consumer lags; zero buffers the whole batch.
type Pool[T any] struct {
	Workers int
	Chunk   int
}

func (p Pool[T]) Run(ctx context.Context, tasks []Task[T]) <-chan Completed[T] {
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	buffer := len(tasks)
	if p.Chunk > 0 && workers*p.Chunk < buffer {
		buffer = workers * p.Chunk
	}
	out := make(chan Completed[T], buffer)
	go func() {
		defer close(out)
		var group errgroup.Group
		group.SetLimit(workers)
		for i, task := range tasks {
			if err := ctx.Err(); err != nil {
				out <- Completed[T]{Index: i, Err: err}
				continue
			}
			i, task := i, task
			group.Go(func() error {
				out <- execute(ctx, i, task)
				return nil
			})
		}
		_ = group.Wait()
	}()
	return out
}

// execute runs one task, converting panics into errors so a bad task cannot
// take down the scheduler.
func execute[T any](ctx context.Context, index int, task Task[T]) (completed Completed[T]) {
	defer func() {
		if r := recover(); r != nil {
			completed = Completed[T]{Index: index, Err: fmt.Errorf("task %d panicked: %v", index, r)}
		}
	}()
	return Completed[T]{Index: index, Value: task(ctx)}
}
