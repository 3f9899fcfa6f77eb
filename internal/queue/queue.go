// Package queue runs recording analyses on a bounded worker pool.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"police_call_analytics/internal/logging"
)

// Job encapsulates a unit of work processed by the worker pool.
type Job struct {
	ID       string
	Source   string
	Work     func(context.Context) error
	OnFinish func(error)
}

// Stats exposes current queue metrics.
type Stats struct {
	Length      int    `json:"length"`
	Capacity    int    `json:"capacity"`
	WorkerCount int    `json:"worker_count"`
	Processed   uint64 `json:"processed"`
	Failed      uint64 `json:"failed"`
}

// Observer is told about every finished job and queue depth change.
type Observer interface {
	UpdateQueue(length, capacity, workers int)
	RecordJobCompletion(err error)
}

// Queue represents a bounded job queue with a fixed worker pool.
type Queue struct {
	jobs        chan Job
	workerCount int
	timeout     time.Duration
	observer    Observer
	logger      *slog.Logger

	started   bool
	stopped   bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	processed uint64
	failed    uint64
}

// New creates a Queue with the provided capacity, worker count and per-job
// timeout. observer may be nil.
func New(capacity, workerCount int, timeout time.Duration, observer Observer, logger *slog.Logger) *Queue {
	return &Queue{
		jobs:        make(chan Job, capacity),
		workerCount: workerCount,
		timeout:     timeout,
		observer:    observer,
		logger:      logging.OrDiscard(logger).With("component", "queue"),
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.observe()
}

// Enqueue attempts to queue a job without blocking. Returns false if the
// queue is full, stopped or not started.
func (q *Queue) Enqueue(j Job) bool {
	return q.tryEnqueue(j, true)
}

// EnqueueWithRetry attempts to queue a job with a bounded retry window.
// Returns (enqueued, droppedFull).
func (q *Queue) EnqueueWithRetry(ctx context.Context, j Job, window time.Duration, interval time.Duration) (bool, bool) {
	deadline := time.Now().Add(window)
	if q.tryEnqueue(j, false) {
		return true, false
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, false
		case <-time.After(interval):
			if q.tryEnqueue(j, false) {
				return true, false
			}
		}
	}
	q.logger.Warn("job dropped after retry window", "job", j.ID, "source", j.Source)
	return false, true
}

func (q *Queue) tryEnqueue(j Job, logDrop bool) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.started || q.stopped {
		if logDrop {
			q.logger.Warn("enqueue called while queue not running", "job", j.ID)
		}
		return false
	}
	select {
	case q.jobs <- j:
		q.observeLocked()
		return true
	default:
		if logDrop {
			q.logger.Warn("job queue full, dropping job", "job", j.ID, "source", j.Source)
		}
		return false
	}
}

// Stop stops accepting new jobs and waits for workers to drain until ctx is
// done.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Stats returns current queue metrics.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	return Stats{
		Length:      len(q.jobs),
		Capacity:    cap(q.jobs),
		WorkerCount: q.workerCount,
		Processed:   atomic.LoadUint64(&q.processed),
		Failed:      atomic.LoadUint64(&q.failed),
	}
}

func (q *Queue) observe() {
	q.mu.RLock()
	defer q.mu.RUnlock()
	q.observeLocked()
}

func (q *Queue) observeLocked() {
	if q.observer == nil {
		return
	}
	s := q.statsLocked()
	q.observer.UpdateQueue(s.Length, s.Capacity, s.WorkerCount)
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.handleJob(ctx, j)
		}
	}
}

func (q *Queue) handleJob(ctx context.Context, j Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panic recovered", "job", j.ID, "panic", r)
			atomic.AddUint64(&q.failed, 1)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	err := j.Work(jobCtx)
	cancel()
	if j.OnFinish != nil {
		j.OnFinish(err)
	}
	atomic.AddUint64(&q.processed, 1)
	if err != nil {
		atomic.AddUint64(&q.failed, 1)
	}
	if q.observer != nil {
		q.observer.RecordJobCompletion(err)
	}
	q.observe()

	attrs := []any{"source", j.Source, "job", j.ID, "duration_ms", time.Since(start).Milliseconds()}
	if err != nil {
		q.logger.Warn("job failed", append(attrs, "err", err)...)
		return
	}
	q.logger.Info("job finished", attrs...)
}

// Healthy returns true if the queue has been started and not stopped.
func (q *Queue) Healthy() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.started && !q.stopped
}
