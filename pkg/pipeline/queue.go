// Package pipeline implements the asynchronous memory-learning work:
// the background task queue, per-turn extraction, session analysis, call
// summaries, and the knowledge dedup batch.
//
// Everything here runs detached from the user-facing turn. Failures are
// logged and never surface to the caller.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of detached background work.
type Task struct {
	// Name identifies the task in logs.
	Name string

	// Run does the work. The context carries the queue's lifetime, not
	// the originating request's.
	Run func(ctx context.Context) error
}

// Queue is a bounded background task queue with a fixed worker pool.
//
// Submit never blocks: when the queue is full the task is dropped and
// logged. Callers get no handle; ordering between tasks is not guaranteed,
// so a second turn may start before the first turn's writes land.
type Queue struct {
	tasks   chan Task
	logger  *zap.Logger
	workers sync.WaitGroup

	// inflight tracks submitted-but-unfinished tasks so tests can wait
	// for quiescence.
	inflight sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewQueue creates and starts a queue.
//
// Parameters:
//   - workers: Number of worker goroutines
//   - size: Queue capacity; submissions beyond it are dropped
//   - logger: Structured logger
func NewQueue(workers, size int, logger *zap.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}

	q := &Queue{
		tasks:  make(chan Task, size),
		logger: logger,
	}

	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.workers.Done()
	for task := range q.tasks {
		q.run(task)
	}
}

func (q *Queue) run(task Task) {
	defer q.inflight.Done()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("background task panicked",
				zap.String("task", task.Name), zap.Any("panic", r))
		}
	}()

	if err := task.Run(context.Background()); err != nil {
		q.logger.Warn("background task failed",
			zap.String("task", task.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}

	q.logger.Debug("background task done",
		zap.String("task", task.Name),
		zap.Duration("elapsed", time.Since(start)))
}

// Submit enqueues a task. Returns false when the queue is full or closed;
// the task is then dropped.
func (q *Queue) Submit(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.inflight.Add(1)
	select {
	case q.tasks <- task:
		return true
	default:
		q.inflight.Done()
		q.logger.Warn("task queue full, dropping task",
			zap.String("task", task.Name))
		return false
	}
}

// Wait blocks until every submitted task has finished.
func (q *Queue) Wait() {
	q.inflight.Wait()
}

// Close stops accepting tasks and waits for the workers to drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.workers.Wait()
}
