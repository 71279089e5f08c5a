package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrWorkerLost is returned by a Worker whose remote end went away. The task
// it was running is redelivered to another worker.
var ErrWorkerLost = errors.New("worker lost")

// DefaultMaxRedeliveries bounds how often a task is resubmitted after its
// worker is lost.
const DefaultMaxRedeliveries = 2

// Worker executes tasks on behalf of a Cluster, typically on a remote
// machine. Run returns ErrWorkerLost (possibly wrapped) when the worker
// itself failed rather than the task.
type Worker[T any] interface {
	Name() string
	Run(ctx context.Context, task Task[T]) (T, error)
}

// LocalWorker runs tasks in-process. Useful for tests and as a stand-in
// until a remote transport is configured.
type LocalWorker[T any] struct {
	ID string
}

func (w LocalWorker[T]) Name() string { return w.ID }

func (w LocalWorker[T]) Run(ctx context.Context, task Task[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked on %s: %v", w.ID, r)
		}
	}()
	return task(ctx), nil
}

// Cluster fans tasks out over a set of workers through a shared queue. A
// worker that reports ErrWorkerLost is taken out of rotation and its task is
// requeued; when no workers remain the leftover tasks complete with
// ErrWorkerLost.
type Cluster[T any] struct {
	Workers         []Worker[T]
	MaxRedeliveries int
}

type clusterItem[T any] struct {
	index    int
	task     Task[T]
	attempts int
}

func (c Cluster[T]) Run(ctx context.Context, tasks []Task[T]) <-chan Completed[T] {
	redeliveries := c.MaxRedeliveries
	if redeliveries <= 0 {
		redeliveries = DefaultMaxRedeliveries
	}
	out := make(chan Completed[T], len(tasks))
	// sized so a lost worker can always requeue without blocking
	queue := make(chan clusterItem[T], len(tasks)*(redeliveries+1))

	var pending sync.WaitGroup
	pending.Add(len(tasks))
	for i, task := range tasks {
		queue <- clusterItem[T]{index: i, task: task}
	}

	var workers sync.WaitGroup
	for _, worker := range c.Workers {
		worker := worker
		workers.Add(1)
		go func() {
			defer workers.Done()
			for item := range queue {
				if err := ctx.Err(); err != nil {
					out <- Completed[T]{Index: item.index, Err: err}
					pending.Done()
					continue
				}
				value, err := worker.Run(ctx, item.task)
				if errors.Is(err, ErrWorkerLost) {
					if item.attempts < redeliveries {
						item.attempts++
						queue <- item
					} else {
						out <- Completed[T]{Index: item.index, Err: fmt.Errorf("task %d abandoned: %w", item.index, err)}
						pending.Done()
					}
					return
				}
				out <- Completed[T]{Index: item.index, Value: value, Err: err}
				pending.Done()
			}
		}()
	}

	go func() {
		pending.Wait()
		close(queue)
	}()
	go func() {
		workers.Wait()
		for {
			select {
			case item, ok := <-queue:
				if !ok {
					close(out)
					return
				}
				out <- Completed[T]{Index: item.index, Err: fmt.Errorf("task %d not run, no workers left: %w", item.index, ErrWorkerLost)}
				pending.Done()
			default:
				close(out)
				return
			}
		}
	}()
	return out
}
